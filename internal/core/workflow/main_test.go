// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package workflow_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/bridges/otelslog"

	"github.com/jaycherian/gcp-go-battle-video/internal/cloud"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/generation"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/session"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/workflow"
	"github.com/jaycherian/gcp-go-battle-video/internal/telemetry"
	test "github.com/jaycherian/gcp-go-battle-video/internal/testutil"
)

const tName = "battle-video/tests/workflow"

var (
	config *cloud.Config
	logger = otelslog.NewLogger(tName)
)

func TestMain(m *testing.M) {
	ctx, cancel := context.WithCancel(context.Background())

	config = test.GetConfig()
	telemetry.SetupLogging(config.Logging)
	shutdown, err := telemetry.SetupOpenTelemetry(ctx, config)
	if err != nil {
		panic(err)
	}
	logger.Info("completed test setup")

	exitCode := m.Run()

	if err := shutdown(ctx); err != nil {
		logger.Error("failed to shutdown telemetry", "error", err)
	}
	cancel()
	os.Exit(exitCode)
}

// TestMockGenerationRunsWholeBattle drives a session to completion with the
// configured mock generation client, one Advance per poll.
func TestMockGenerationRunsWholeBattle(t *testing.T) {
	ctx := context.Background()
	sessions := config.Sessions
	sessions.Backend = "memory"
	store, err := session.NewStore(sessions, config.Battle.Prompts, nil)
	require.NoError(t, err)

	client := generation.NewMockClient(config.Generation.MockPollsUntilDone, "")
	media := &fakeMedia{}
	orch := workflow.NewSegmentOrchestrator(store, client, media, newMemBlobs(), workflow.OrchestratorOptions{
		BattlesPrefix:    config.Storage.BattlesPrefix,
		MaxNotReadyPolls: config.Orchestrator.MaxNotReadyPolls,
	})

	started, err := orch.StartSession(ctx, arenaUrl)
	require.NoError(t, err)
	require.Empty(t, started.Error)

	total := started.TotalSegments
	maxPolls := total*(config.Generation.MockPollsUntilDone+2) + 5
	for polls := 0; polls < maxPolls; polls++ {
		progress, err := orch.PollSession(ctx, started.SessionId)
		require.NoError(t, err)
		logger.Debug("poll", "status", progress.Status, "segment", progress.CurrentSegment, "message", progress.ProgressMessage)
		if progress.Status == workflow.ProgressCompleted {
			assert.NotEmpty(t, progress.VideoUrl)
			break
		}
		require.NotEqual(t, workflow.ProgressFailed, progress.Status, progress.ProgressMessage)
	}

	final, err := store.Get(ctx, started.SessionId)
	require.NoError(t, err)
	assert.NotEmpty(t, final.FinalVideoUrl)
	calls := media.stitchCalls()
	require.Len(t, calls, 1)
	assert.Len(t, calls[0], total)
	for i := 1; i < total; i++ {
		_, seed, ok := client.Submitted(final.Segments[i].RequestId)
		require.True(t, ok)
		assert.Equal(t, final.Segments[i-1].LastFrameUrl, seed)
	}
}

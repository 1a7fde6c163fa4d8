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

package generation_test

import (
	"context"
	"testing"

	"github.com/jaycherian/gcp-go-battle-video/internal/core/generation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockClientLifecycle(t *testing.T) {
	ctx := context.Background()
	mock := generation.NewMockClient(3, "")

	id, err := mock.Submit(ctx, "the clash", "https://img/seed.jpg", generation.Params{})
	require.NoError(t, err)

	prompt, seed, ok := mock.Submitted(id)
	require.True(t, ok)
	assert.Equal(t, "the clash", prompt)
	assert.Equal(t, "https://img/seed.jpg", seed)

	status, err := mock.PollStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, generation.StatusQueued, status.Status)

	_, err = mock.FetchResult(ctx, id)
	assert.True(t, generation.IsNotReady(err))

	status, err = mock.PollStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, generation.StatusProcessing, status.Status)

	status, err = mock.PollStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, generation.StatusCompleted, status.Status)

	res, err := mock.FetchResult(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, res.VideoUrl, id)
}

func TestMockClientFail(t *testing.T) {
	ctx := context.Background()
	mock := generation.NewMockClient(1, "https://cdn/sample.mp4")

	id, err := mock.Submit(ctx, "p", "https://img/seed.jpg", generation.Params{})
	require.NoError(t, err)
	mock.Fail(id)

	status, err := mock.PollStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, generation.StatusFailed, status.Status)

	_, err = mock.PollStatus(ctx, "unknown")
	var pollErr *generation.PollError
	assert.ErrorAs(t, err, &pollErr)
}

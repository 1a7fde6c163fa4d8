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

package telemetry_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/jaycherian/gcp-go-battle-video/internal/cloud"
	"github.com/jaycherian/gcp-go-battle-video/internal/telemetry"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	out := make(map[string]any)
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	return out
}

func TestHandlerUsesCloudLoggingKeys(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := slog.New(telemetry.NewHandler(buf, slog.LevelInfo))

	logger.Warn("segment failed", "session", "battle-1")
	rec := decode(t, buf)
	assert.Equal(t, "WARNING", rec["severity"])
	assert.Equal(t, "segment failed", rec["message"])
	assert.Equal(t, "battle-1", rec["session"])
	assert.Contains(t, rec, "timestamp")
	assert.NotContains(t, rec, "logging.googleapis.com/trace")
}

func TestHandlerAddsSpanContext(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := slog.New(telemetry.NewHandler(buf, slog.LevelInfo)).With("component", "orchestrator")

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3},
		SpanID:     trace.SpanID{4, 5, 6},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	logger.InfoContext(ctx, "advance")

	rec := decode(t, buf)
	assert.Equal(t, sc.TraceID().String(), rec["logging.googleapis.com/trace"])
	assert.Equal(t, sc.SpanID().String(), rec["logging.googleapis.com/spanId"])
	assert.Equal(t, true, rec["logging.googleapis.com/trace_sampled"])
	assert.Equal(t, "orchestrator", rec["component"])
}

func TestHandlerLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := slog.New(telemetry.NewHandler(buf, slog.LevelInfo))
	logger.Debug("hidden")
	assert.Zero(t, buf.Len())
}

func TestTelemetryDisabled(t *testing.T) {
	config := cloud.NewConfig()
	config.Application.EnableTelemetry = false
	shutdown, err := telemetry.SetupOpenTelemetry(context.Background(), config)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

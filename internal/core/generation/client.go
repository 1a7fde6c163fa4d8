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

// Package generation talks to the asynchronous image-to-video generation
// service. A job is submitted once, polled until it reaches a terminal status,
// and its result fetched separately. Response payloads vary between model
// versions, so everything is normalized here and callers only ever see the
// types declared in this file.
//
// Two implementations are provided:
//   - FalQueueClient: the fal.ai queue REST API, with per-call retry policies
//     and a client side rate limiter.
//   - MockClient: an in-process fake that completes each job after a fixed
//     number of polls. Used for local runs and tests.
package generation

import (
	"context"
	"strings"
)

// Status is the normalized lifecycle of a generation job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether the job will not change status again.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ParseStatus maps the provider's status strings onto Status. Unknown values
// are treated as still processing.
func ParseStatus(raw string) Status {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "IN_QUEUE", "QUEUED":
		return StatusQueued
	case "COMPLETED", "OK", "SUCCEEDED":
		return StatusCompleted
	case "FAILED", "ERROR", "CANCELLED":
		return StatusFailed
	default:
		return StatusProcessing
	}
}

// DefaultProgressText is reported when the provider sent no log lines.
const DefaultProgressText = "Processing..."

// Params are the per-job generation settings.
type Params struct {
	Duration      string
	Resolution    string
	GenerateAudio bool
}

// LogEntry is one progress line reported by the provider.
type LogEntry struct {
	Message   string `json:"message"`
	Level     string `json:"level,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Result is the normalized output of a completed job.
type Result struct {
	VideoUrl string `json:"videoUrl"`
	AudioUrl string `json:"audioUrl,omitempty"`
}

// StatusResult is the normalized answer to a status poll. Result is only set
// when the provider returned it inline.
type StatusResult struct {
	Status        Status     `json:"status"`
	Result        *Result    `json:"result,omitempty"`
	Logs          []LogEntry `json:"logs,omitempty"`
	QueuePosition int        `json:"queuePosition,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// ProgressText returns the most recent log message, or DefaultProgressText.
func (s *StatusResult) ProgressText() string {
	for i := len(s.Logs) - 1; i >= 0; i-- {
		if msg := strings.TrimSpace(s.Logs[i].Message); msg != "" {
			return msg
		}
	}
	return DefaultProgressText
}

// Client is the contract every generation backend fulfils.
type Client interface {
	// Submit starts a job animating seedImageUrl according to prompt and
	// returns the provider's request id.
	Submit(ctx context.Context, prompt string, seedImageUrl string, params Params) (string, error)

	// PollStatus reports the current state of a job.
	PollStatus(ctx context.Context, requestId string) (*StatusResult, error)

	// FetchResult retrieves the output of a completed job. A job that has
	// completed but whose output is not yet retrievable yields a
	// *ResultNotReadyError.
	FetchResult(ctx context.Context, requestId string) (*Result, error)
}

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

package generation

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// MockClient is an in-process Client. Each job reports queued on its first
// poll, processing until PollsUntilDone polls have been made, then completed.
type MockClient struct {
	PollsUntilDone int
	// VideoUrl, when set, is returned for every job. Otherwise each job gets
	// a distinct URL derived from its request id.
	VideoUrl string

	mu     sync.Mutex
	next   int
	jobs   map[string]*mockJob
	failed map[string]bool
}

type mockJob struct {
	Prompt       string
	SeedImageUrl string
	Polls        int
}

// NewMockClient returns a mock that completes jobs after pollsUntilDone polls.
func NewMockClient(pollsUntilDone int, videoUrl string) *MockClient {
	if pollsUntilDone < 1 {
		pollsUntilDone = 1
	}
	return &MockClient{
		PollsUntilDone: pollsUntilDone,
		VideoUrl:       videoUrl,
		jobs:           make(map[string]*mockJob),
		failed:         make(map[string]bool),
	}
}

func (m *MockClient) Submit(ctx context.Context, prompt string, seedImageUrl string, _ Params) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &SubmissionError{Err: err}
	}
	if seedImageUrl == "" {
		return "", &SubmissionError{StatusCode: 400, Err: errors.New("image_url is required")}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	id := fmt.Sprintf("mock-%04d", m.next)
	m.jobs[id] = &mockJob{Prompt: prompt, SeedImageUrl: seedImageUrl}
	return id, nil
}

func (m *MockClient) PollStatus(ctx context.Context, requestId string) (*StatusResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, &PollError{RequestId: requestId, Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[requestId]
	if !ok {
		return nil, &PollError{RequestId: requestId, StatusCode: 404, Err: &HTTPError{Method: "GET", Url: requestId, StatusCode: 404}}
	}
	if m.failed[requestId] {
		return &StatusResult{Status: StatusFailed, Error: "mock failure"}, nil
	}
	job.Polls++
	switch {
	case job.Polls >= m.PollsUntilDone:
		return &StatusResult{Status: StatusCompleted, Logs: []LogEntry{{Message: "done"}}}, nil
	case job.Polls == 1:
		return &StatusResult{Status: StatusQueued, QueuePosition: 1}, nil
	default:
		msg := fmt.Sprintf("rendering (%d/%d)", job.Polls, m.PollsUntilDone)
		return &StatusResult{Status: StatusProcessing, Logs: []LogEntry{{Message: msg}}}, nil
	}
}

func (m *MockClient) FetchResult(ctx context.Context, requestId string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[requestId]
	if !ok {
		return nil, &HTTPError{Method: "GET", Url: requestId, StatusCode: 404}
	}
	if job.Polls < m.PollsUntilDone {
		return nil, &ResultNotReadyError{RequestId: requestId, Err: &HTTPError{Method: "GET", Url: requestId, StatusCode: 422}}
	}
	video := m.VideoUrl
	if video == "" {
		video = fmt.Sprintf("https://mock.invalid/videos/%s.mp4", requestId)
	}
	return &Result{VideoUrl: video}, nil
}

// Fail makes every later poll of requestId report a failed job.
func (m *MockClient) Fail(requestId string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[requestId] = true
}

// Submitted returns the prompt and seed image of a job, for assertions.
func (m *MockClient) Submitted(requestId string) (prompt string, seedImageUrl string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[requestId]
	if !ok {
		return "", "", false
	}
	return job.Prompt, job.SeedImageUrl, true
}

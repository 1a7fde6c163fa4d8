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
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/jaycherian/gcp-go-battle-video/internal/core/generation"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/media"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/session"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/storage"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/workflow"
)

const (
	arenaUrl      = "https://img.test/arena.png"
	battlesPrefix = "battles"
)

func videoOf(requestId string) string {
	return "https://cdn.test/" + requestId + ".mp4"
}

type submission struct {
	RequestId string
	Prompt    string
	Seed      string
}

// fakeClient completes every job on its first poll unless a status function
// is registered for the request id.
type fakeClient struct {
	mu        sync.Mutex
	submitted []submission
	polls     map[string]int
	status    map[string]func(call int) (*generation.StatusResult, error)
	submitErr error
	fetch     func(requestId string) (*generation.Result, error)
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		polls:  make(map[string]int),
		status: make(map[string]func(int) (*generation.StatusResult, error)),
	}
}

func (f *fakeClient) onStatus(requestId string, fn func(call int) (*generation.StatusResult, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[requestId] = fn
}

func (f *fakeClient) Submit(_ context.Context, prompt string, seed string, _ generation.Params) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	id := fmt.Sprintf("req-%d", len(f.submitted))
	f.submitted = append(f.submitted, submission{RequestId: id, Prompt: prompt, Seed: seed})
	return id, nil
}

func (f *fakeClient) PollStatus(_ context.Context, requestId string) (*generation.StatusResult, error) {
	f.mu.Lock()
	f.polls[requestId]++
	call := f.polls[requestId]
	fn := f.status[requestId]
	f.mu.Unlock()
	if fn != nil {
		return fn(call)
	}
	return &generation.StatusResult{
		Status: generation.StatusCompleted,
		Result: &generation.Result{VideoUrl: videoOf(requestId)},
	}, nil
}

func (f *fakeClient) FetchResult(_ context.Context, requestId string) (*generation.Result, error) {
	if f.fetch != nil {
		return f.fetch(requestId)
	}
	return &generation.Result{VideoUrl: videoOf(requestId)}, nil
}

func (f *fakeClient) submissions() []submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]submission(nil), f.submitted...)
}

func (f *fakeClient) pollCount(requestId string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls[requestId]
}

type fakeMedia struct {
	mu         sync.Mutex
	extractErr error
	stitchErr  error
	extracted  []string
	stitched   [][]string
}

func (f *fakeMedia) ExtractLastFrame(_ context.Context, videoUrl string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extracted = append(f.extracted, videoUrl)
	if f.extractErr != nil {
		return nil, &media.FrameExtractionError{VideoUrl: videoUrl, Err: f.extractErr}
	}
	return []byte("jpeg:" + videoUrl), nil
}

func (f *fakeMedia) StitchVideos(_ context.Context, orderedUrls []string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stitchErr != nil {
		return nil, &media.StitchError{Clips: len(orderedUrls), Err: f.stitchErr}
	}
	f.stitched = append(f.stitched, append([]string(nil), orderedUrls...))
	return []byte(strings.Join(orderedUrls, "|")), nil
}

func (f *fakeMedia) setExtractErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extractErr = err
}

func (f *fakeMedia) setStitchErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stitchErr = err
}

func (f *fakeMedia) stitchCalls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.stitched...)
}

// memBlobs is an in-memory storage.BlobStore.
type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
	failOn  string // Uploads whose key contains this fail.
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: make(map[string][]byte)}
}

func (m *memBlobs) Upload(_ context.Context, key string, r io.Reader, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn != "" && strings.Contains(key, m.failOn) {
		return "", &storage.UploadError{Key: key, Err: errors.New("bucket unavailable")}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.objects[key] = data
	return m.URL(key), nil
}

func (m *memBlobs) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func (m *memBlobs) URL(key string) string {
	return "mem://" + key
}

func (m *memBlobs) get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	return data, ok
}

type harness struct {
	store  *session.MemoryStore
	client *fakeClient
	media  *fakeMedia
	blobs  *memBlobs
	orch   *workflow.SegmentOrchestrator
}

func newHarness(t *testing.T, opts workflow.OrchestratorOptions) *harness {
	t.Helper()
	h := &harness{
		store:  session.NewMemoryStore(session.Options{}),
		client: newFakeClient(),
		media:  &fakeMedia{},
		blobs:  newMemBlobs(),
	}
	if opts.BattlesPrefix == "" {
		opts.BattlesPrefix = battlesPrefix
	}
	h.orch = workflow.NewSegmentOrchestrator(h.store, h.client, h.media, h.blobs, opts)
	return h
}

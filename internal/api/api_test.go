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

package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaycherian/gcp-go-battle-video/internal/api"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/model"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/session"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01")

type fakeOrchestrator struct {
	mu         sync.Mutex
	started    []string
	legacy     []string
	polled     []string
	legacyPoll []string
}

func (f *fakeOrchestrator) StartSession(_ context.Context, seed string) (*model.StartResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, seed)
	return &model.StartResult{SessionId: "battle-1-abc", TotalSegments: 5}, nil
}

func (f *fakeOrchestrator) PollSession(_ context.Context, id string) (*model.Progress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polled = append(f.polled, id)
	if id == "missing" {
		return nil, &session.SessionNotFoundError{Id: id}
	}
	return &model.Progress{Status: "processing", SessionId: id, CurrentSegment: 2, TotalSegments: 5, ProgressMessage: "Generating segment 3 of 5"}, nil
}

func (f *fakeOrchestrator) LegacyStart(_ context.Context, imageUrl string, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.legacy = append(f.legacy, imageUrl)
	return "req-legacy", nil
}

func (f *fakeOrchestrator) LegacyPoll(_ context.Context, requestId string) (*model.Progress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.legacyPoll = append(f.legacyPoll, requestId)
	return &model.Progress{Status: "completed", TotalSegments: 1, VideoUrl: "https://cdn.test/v.mp4"}, nil
}

type fakeBattle struct {
	err error
}

func (f *fakeBattle) Prepare(_ context.Context, p1 string, p2 string) (*model.BattleAssets, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.BattleAssets{ArenaUrl: "mem://edits/arena.png", VersusUrl: "mem://edits/versus.png"}, nil
}

type fakeArchive struct{}

func (fakeArchive) Recent(context.Context, int) ([]*model.SessionArchive, error) {
	return []*model.SessionArchive{{Id: "battle-old", Status: "completed"}}, nil
}

func (fakeArchive) Stats(context.Context) (*model.ArchiveStats, error) {
	return nil, errors.New("bigquery unavailable")
}

type memBlobs struct {
	mu      sync.Mutex
	objects map[string]string
}

func (m *memBlobs) Upload(_ context.Context, key string, r io.Reader, contentType string) (string, error) {
	if _, err := io.ReadAll(r); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = contentType
	return "mem://" + key, nil
}

func (m *memBlobs) Delete(context.Context, string) error { return nil }

func (m *memBlobs) URL(key string) string { return "mem://" + key }

type fixture struct {
	orch     *fakeOrchestrator
	blobs    *memBlobs
	sessions *session.MemoryStore
	handlers *api.Handlers
	router   *gin.Engine
}

func newFixture() *fixture {
	gin.SetMode(gin.TestMode)
	f := &fixture{
		orch:     &fakeOrchestrator{},
		blobs:    &memBlobs{objects: make(map[string]string)},
		sessions: session.NewMemoryStore(session.Options{}),
	}
	f.handlers = &api.Handlers{
		Orchestrator:   f.orch,
		Sessions:       f.sessions,
		Blobs:          f.blobs,
		ProfilesPrefix: "profiles",
	}
	f.router = api.NewRouter(f.handlers, "battle-video-test", "")
	return f
}

func (f *fixture) do(method string, path string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	out := make(map[string]any)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestStartSession(t *testing.T) {
	f := newFixture()

	w := f.do(http.MethodPost, "/api/v1/battle-video/sessions", `{"seedImageUrl":"https://img.test/arena.png"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)
	assert.Equal(t, "battle-1-abc", body["sessionId"])
	assert.Equal(t, float64(5), body["totalSegments"])
	assert.Equal(t, []string{"https://img.test/arena.png"}, f.orch.started)

	w = f.do(http.MethodPost, "/api/v1/battle-video/sessions", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPollSession(t *testing.T) {
	f := newFixture()

	w := f.do(http.MethodGet, "/api/v1/battle-video/sessions/battle-1-abc", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "processing", body["status"])
	assert.Equal(t, float64(2), body["currentSegment"])

	w = f.do(http.MethodGet, "/api/v1/battle-video/sessions/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, decode(t, w)["error"], "not found")
}

func TestGenerateVideo(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		code   int
		expect map[string]any
	}{
		{
			name:   "legacy start",
			body:   `{"action":"start","battleArenaUrl":"https://img.test/a.png"}`,
			code:   http.StatusOK,
			expect: map[string]any{"success": true, "status": "queued", "requestId": "req-legacy"},
		},
		{
			name:   "session start",
			body:   `{"action":"start","battleArenaUrl":"https://img.test/a.png","multiSegment":true}`,
			code:   http.StatusOK,
			expect: map[string]any{"status": "processing", "sessionId": "battle-1-abc", "totalSegments": float64(5)},
		},
		{
			name:   "legacy status",
			body:   `{"action":"status","requestId":"req-legacy"}`,
			code:   http.StatusOK,
			expect: map[string]any{"status": "completed", "videoUrl": "https://cdn.test/v.mp4", "requestId": "req-legacy"},
		},
		{
			name:   "session status",
			body:   `{"action":"status","sessionId":"battle-1-abc"}`,
			code:   http.StatusOK,
			expect: map[string]any{"status": "processing", "progress": "Generating segment 3 of 5"},
		},
		{
			name:   "start without url",
			body:   `{"action":"start"}`,
			code:   http.StatusBadRequest,
			expect: map[string]any{"error": "Battle arena URL required"},
		},
		{
			name:   "status without ids",
			body:   `{"action":"status"}`,
			code:   http.StatusBadRequest,
			expect: map[string]any{"error": "Request ID required"},
		},
		{
			name:   "unknown action",
			body:   `{"action":"cancel"}`,
			code:   http.StatusBadRequest,
			expect: map[string]any{"error": "Invalid action"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			w := f.do(http.MethodPost, "/api/v1/generate-video", tt.body)
			require.Equal(t, tt.code, w.Code, w.Body.String())
			body := decode(t, w)
			for k, v := range tt.expect {
				assert.Equal(t, v, body[k], k)
			}
		})
	}
}

func upload(t *testing.T, f *fixture, playerId string, name string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	require.NoError(t, mw.WriteField("playerId", playerId))
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestUploadPlayerPhoto(t *testing.T) {
	f := newFixture()

	w := upload(t, f, "ninja-a", "me.png", pngBytes)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	url := body["url"].(string)
	assert.True(t, strings.HasPrefix(url, "mem://profiles/ninja-a-"), url)
	assert.True(t, strings.HasSuffix(url, ".png"), url)
	for key, contentType := range f.blobs.objects {
		assert.True(t, strings.HasPrefix(key, "profiles/"))
		assert.Equal(t, "image/png", contentType)
	}

	w = upload(t, f, "ninja-a", "notes.txt", []byte("hello"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.handlers.MaxUploadBytes = 8
	w = upload(t, f, "ninja-a", "me.png", pngBytes)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBattle(t *testing.T) {
	f := newFixture()
	w := f.do(http.MethodPost, "/api/v1/battle", `{"player1Url":"a","player2Url":"b"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	f.handlers.Battle = &fakeBattle{}
	w = f.do(http.MethodPost, "/api/v1/battle", `{"player1Url":"a","player2Url":"b"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "mem://edits/arena.png", decode(t, w)["arenaUrl"])

	w = f.do(http.MethodPost, "/api/v1/battle", `{"player1Url":"a"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.handlers.Battle = &fakeBattle{err: errors.New("no battle image could be generated")}
	w = f.do(http.MethodPost, "/api/v1/battle", `{"player1Url":"a","player2Url":"b"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestStats(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	s, err := f.sessions.Create(ctx, "https://img.test/arena.png")
	require.NoError(t, err)

	w := f.do(http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(1), body["activeSessions"])
	assert.NotContains(t, body, "recentArchived")

	f.handlers.Archive = fakeArchive{}
	w = f.do(http.MethodGet, "/api/v1/stats?count=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	active := body["active"].([]any)
	require.Len(t, active, 1)
	assert.Equal(t, s.Id, active[0].(map[string]any)["sessionId"])
	assert.Len(t, body["recentArchived"], 1)
	assert.NotContains(t, body, "archive")
}

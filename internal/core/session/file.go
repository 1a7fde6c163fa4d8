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

package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jaycherian/gcp-go-battle-video/internal/core/model"
)

const sessionFileExt = ".json"

// FileStore writes each session to <dir>/<id>.json. Writes go to a temp file
// that is renamed into place, so readers never see a partial document.
type FileStore struct {
	dir  string
	opts Options
	mu   sync.Mutex
}

func NewFileStore(dir string, opts Options) (*FileStore, error) {
	if dir == "" {
		dir = ".sessions"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir %s: %w", dir, err)
	}
	return &FileStore{dir: dir, opts: opts}, nil
}

func (f *FileStore) path(id string) string {
	return filepath.Join(f.dir, id+sessionFileExt)
}

func (f *FileStore) read(id string) (*model.Session, error) {
	if err := checkId(id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path(id))
	if os.IsNotExist(err) {
		return nil, &SessionNotFoundError{Id: id}
	}
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", id, err)
	}
	var s model.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &s, nil
}

func (f *FileStore) write(s *model.Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.Id, err)
	}
	tmp, err := os.CreateTemp(f.dir, "."+s.Id+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write session %s: %w", s.Id, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path(s.Id))
}

func (f *FileStore) Create(_ context.Context, seedImageUrl string) (*model.Session, error) {
	s := model.NewSession(seedImageUrl, f.opts.prompts(), f.opts.now())
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.write(s); err != nil {
		return nil, err
	}
	slog.Info("session created", "session_id", s.Id, "segments", len(s.Segments))
	return s, nil
}

func (f *FileStore) Get(_ context.Context, id string) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read(id)
}

func (f *FileStore) mutate(id string, fn func(*model.Session) error) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.read(id)
	if err != nil {
		return nil, err
	}
	if err := fn(s); err != nil {
		return nil, err
	}
	touch(s, f.opts.now())
	if err := f.write(s); err != nil {
		return nil, err
	}
	return s, nil
}

func (f *FileStore) Update(_ context.Context, id string, patch model.SessionPatch) (*model.Session, error) {
	return f.mutate(id, patchSession(patch))
}

func (f *FileStore) UpdateSegment(_ context.Context, id string, index int, patch model.SegmentPatch) (*model.Session, error) {
	return f.mutate(id, patchSegment(index, patch))
}

func (f *FileStore) all() ([]*model.Session, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]*model.Session, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, sessionFileExt) {
			continue
		}
		s, err := f.read(strings.TrimSuffix(name, sessionFileExt))
		if err != nil {
			slog.Warn("skipping unreadable session file", "file", name, "error", err)
			continue
		}
		out = append(out, s)
	}
	sortByCreated(out)
	return out, nil
}

func (f *FileStore) ListActive(_ context.Context) ([]*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all, err := f.all()
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, s := range all {
		if s.Status == model.SessionProcessing {
			active = append(active, s)
		}
	}
	return active, nil
}

func (f *FileStore) ListExpired(_ context.Context, maxAge time.Duration) ([]*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all, err := f.all()
	if err != nil {
		return nil, err
	}
	now := f.opts.now()
	expired := all[:0]
	for _, s := range all {
		if isExpired(s, maxAge, now) {
			expired = append(expired, s)
		}
	}
	return expired, nil
}

func (f *FileStore) Delete(_ context.Context, id string) error {
	if err := checkId(id); err != nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.read(id)
	if IsNotFound(err) {
		return nil
	}
	if err == nil && s.Status == model.SessionProcessing {
		return fmt.Errorf("delete session %s: %w", id, ErrSessionActive)
	}
	// An unreadable file is removed regardless.
	if err := os.Remove(f.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

func (f *FileStore) Expire(ctx context.Context, maxAge time.Duration) (int, error) {
	return expireAll(ctx, f, maxAge)
}

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
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jaycherian/gcp-go-battle-video/internal/core/model"
)

// MemoryStore keeps sessions in a map. Callers always receive copies.
type MemoryStore struct {
	opts     Options
	mu       sync.Mutex
	sessions map[string]*model.Session
}

func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{opts: opts, sessions: make(map[string]*model.Session)}
}

func (m *MemoryStore) Create(_ context.Context, seedImageUrl string) (*model.Session, error) {
	s := model.NewSession(seedImageUrl, m.opts.prompts(), m.opts.now())
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.Id] = s
	return s.Clone(), nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, &SessionNotFoundError{Id: id}
	}
	return s.Clone(), nil
}

func (m *MemoryStore) mutate(id string, fn func(*model.Session) error) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.sessions[id]
	if !ok {
		return nil, &SessionNotFoundError{Id: id}
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	touch(next, m.opts.now())
	m.sessions[id] = next
	return next.Clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, id string, patch model.SessionPatch) (*model.Session, error) {
	return m.mutate(id, patchSession(patch))
}

func (m *MemoryStore) UpdateSegment(_ context.Context, id string, index int, patch model.SegmentPatch) (*model.Session, error) {
	return m.mutate(id, patchSegment(index, patch))
}

func (m *MemoryStore) ListActive(_ context.Context) ([]*model.Session, error) {
	return m.filter(func(s *model.Session) bool { return s.Status == model.SessionProcessing }), nil
}

func (m *MemoryStore) ListExpired(_ context.Context, maxAge time.Duration) ([]*model.Session, error) {
	now := m.opts.now()
	return m.filter(func(s *model.Session) bool { return isExpired(s, maxAge, now) }), nil
}

func (m *MemoryStore) filter(keep func(*model.Session) bool) []*model.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Session, 0)
	for _, s := range m.sessions {
		if keep(s) {
			out = append(out, s.Clone())
		}
	}
	sortByCreated(out)
	return out
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok && s.Status == model.SessionProcessing {
		return fmt.Errorf("delete session %s: %w", id, ErrSessionActive)
	}
	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) Expire(ctx context.Context, maxAge time.Duration) (int, error) {
	return expireAll(ctx, m, maxAge)
}

func sortByCreated(sessions []*model.Session) {
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].CreatedAt < sessions[j].CreatedAt })
}

// expireAll is the shared Expire implementation. A session resumed after
// ListExpired is skipped.
func expireAll(ctx context.Context, store Store, maxAge time.Duration) (int, error) {
	expired, err := store.ListExpired(ctx, maxAge)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, s := range expired {
		err := store.Delete(ctx, s.Id)
		if errors.Is(err, ErrSessionActive) {
			slog.DebugContext(ctx, "session resumed, not expiring", "session_id", s.Id)
			continue
		}
		if err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

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

// Package session persists battle video sessions. The orchestrator keeps no
// state of its own between polls: everything needed to resume a session,
// including after a restart, lives in a Store.
//
// Implementations:
//   - FileStore: one JSON document per session in a directory, written
//     atomically. Suits a single instance.
//   - RedisStore: JSON documents in Redis with optimistic concurrency, for
//     several instances sharing one set of sessions.
//   - MemoryStore: process memory, for tests and throwaway local runs.
//
// Every mutation is a read-modify-write of the whole session that bumps its
// Version and UpdatedAt. A completed segment can never be moved back to
// another status.
package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jaycherian/gcp-go-battle-video/internal/cloud"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/model"
)

// Store is the session persistence contract.
type Store interface {
	Create(ctx context.Context, seedImageUrl string) (*model.Session, error)
	Get(ctx context.Context, id string) (*model.Session, error)
	Update(ctx context.Context, id string, patch model.SessionPatch) (*model.Session, error)
	UpdateSegment(ctx context.Context, id string, index int, patch model.SegmentPatch) (*model.Session, error)
	// ListActive returns the sessions whose status is processing.
	ListActive(ctx context.Context) ([]*model.Session, error)
	// ListExpired returns sessions that are not processing and were created
	// more than maxAge ago.
	ListExpired(ctx context.Context, maxAge time.Duration) ([]*model.Session, error)
	// Delete removes a session. It re-reads the status in the same critical
	// section and refuses a processing session with ErrSessionActive. An
	// unknown id is not an error.
	Delete(ctx context.Context, id string) error
	// Expire deletes what ListExpired returns and reports how many were removed.
	Expire(ctx context.Context, maxAge time.Duration) (int, error)
}

// ErrSessionActive is returned by Delete for a session that is processing.
var ErrSessionActive = errors.New("session is processing")

// SessionNotFoundError is returned for unknown ids.
type SessionNotFoundError struct {
	Id string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session %s not found", e.Id)
}

// IsNotFound reports whether err is, or wraps, a *SessionNotFoundError.
func IsNotFound(err error) bool {
	var nf *SessionNotFoundError
	return errors.As(err, &nf)
}

// Options are shared by every implementation.
type Options struct {
	// Prompts seed the segments of new sessions; one segment per prompt.
	Prompts []string
	// TTL bounds how long Redis keeps a terminal session. Zero means no expiry.
	TTL time.Duration
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o Options) prompts() []string {
	if len(o.Prompts) == 0 {
		return model.BattlePrompts()
	}
	return o.Prompts
}

var validId = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

func checkId(id string) error {
	if !validId.MatchString(id) {
		return &SessionNotFoundError{Id: id}
	}
	return nil
}

func touch(s *model.Session, now time.Time) {
	s.Version++
	s.UpdatedAt = now.UnixMilli()
}

func isExpired(s *model.Session, maxAge time.Duration, now time.Time) bool {
	return s.Status != model.SessionProcessing && s.Age(now) > maxAge
}

// patchSession and patchSegment return a mutate function for the stores'
// read-modify-write helpers.
func patchSession(patch model.SessionPatch) func(*model.Session) error {
	return func(s *model.Session) error {
		patch.Apply(s)
		return nil
	}
}

func patchSegment(index int, patch model.SegmentPatch) func(*model.Session) error {
	return func(s *model.Session) error {
		return patch.Apply(s, index)
	}
}

// NewStore builds the backend selected by cfg.Backend. redisClient is only
// required for the redis backend.
func NewStore(cfg cloud.Sessions, prompts []string, redisClient *redis.Client) (Store, error) {
	opts := Options{Prompts: prompts, TTL: time.Duration(cfg.TTLHours) * time.Hour}
	switch cfg.Backend {
	case "", "file":
		return NewFileStore(cfg.Dir, opts)
	case "redis":
		if redisClient == nil {
			return nil, errors.New("redis session backend selected but no redis client configured")
		}
		return NewRedisStore(redisClient, opts), nil
	case "memory":
		return NewMemoryStore(opts), nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}

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
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/model"
)

const (
	redisKeyPrefix = "session:"
	redisActiveKey = "sessions:active"  // set of processing session ids
	redisIndexKey  = "sessions:created" // zset of every session id scored by CreatedAt
	maxTxRetries   = 8
)

// RedisStore keeps sessions as JSON strings. Updates run inside WATCH/MULTI
// so concurrent writers on different instances never lose an update; a
// conflicting transaction is retried a bounded number of times.
type RedisStore struct {
	client *redis.Client
	opts   Options
}

func NewRedisStore(client *redis.Client, opts Options) *RedisStore {
	return &RedisStore{client: client, opts: opts}
}

func redisKey(id string) string {
	return redisKeyPrefix + id
}

func (r *RedisStore) save(ctx context.Context, pipe redis.Pipeliner, s *model.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.Id, err)
	}
	// Processing sessions never expire; only terminal ones carry the TTL.
	ttl := r.opts.TTL
	if s.Status == model.SessionProcessing {
		ttl = 0
	}
	pipe.Set(ctx, redisKey(s.Id), data, ttl)
	pipe.ZAdd(ctx, redisIndexKey, &redis.Z{Score: float64(s.CreatedAt), Member: s.Id})
	if s.Status == model.SessionProcessing {
		pipe.SAdd(ctx, redisActiveKey, s.Id)
	} else {
		pipe.SRem(ctx, redisActiveKey, s.Id)
	}
	return nil
}

func decode(id string, data []byte) (*model.Session, error) {
	var s model.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &s, nil
}

func (r *RedisStore) Create(ctx context.Context, seedImageUrl string) (*model.Session, error) {
	s := model.NewSession(seedImageUrl, r.opts.prompts(), r.opts.now())
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		return r.save(ctx, pipe, s)
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	slog.InfoContext(ctx, "session created", "session_id", s.Id, "segments", len(s.Segments))
	return s, nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (*model.Session, error) {
	if err := checkId(id); err != nil {
		return nil, err
	}
	data, err := r.client.Get(ctx, redisKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, &SessionNotFoundError{Id: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return decode(id, data)
}

func (r *RedisStore) mutate(ctx context.Context, id string, fn func(*model.Session) error) (*model.Session, error) {
	if err := checkId(id); err != nil {
		return nil, err
	}
	key := redisKey(id)
	var result *model.Session

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return &SessionNotFoundError{Id: id}
		}
		if err != nil {
			return err
		}
		s, err := decode(id, data)
		if err != nil {
			return err
		}
		if err := fn(s); err != nil {
			return err
		}
		touch(s, r.opts.now())
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return r.save(ctx, pipe, s)
		})
		if err == nil {
			result = s
		}
		return err
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return nil, err
		}
		slog.DebugContext(ctx, "session update conflicted, retrying", "session_id", id, "attempt", attempt+1)
	}
	return nil, fmt.Errorf("update session %s: too many concurrent writers", id)
}

func (r *RedisStore) Update(ctx context.Context, id string, patch model.SessionPatch) (*model.Session, error) {
	return r.mutate(ctx, id, patchSession(patch))
}

func (r *RedisStore) UpdateSegment(ctx context.Context, id string, index int, patch model.SegmentPatch) (*model.Session, error) {
	return r.mutate(ctx, id, patchSegment(index, patch))
}

func (r *RedisStore) load(ctx context.Context, ids []string) ([]*model.Session, error) {
	out := make([]*model.Session, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redisKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// The key expired; drop the dangling index entries.
			r.client.ZRem(ctx, redisIndexKey, ids[i])
			r.client.SRem(ctx, redisActiveKey, ids[i])
			continue
		}
		s, err := decode(ids[i], []byte(raw))
		if err != nil {
			slog.WarnContext(ctx, "skipping unreadable session", "session_id", ids[i], "error", err)
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *RedisStore) ListActive(ctx context.Context) ([]*model.Session, error) {
	ids, err := r.client.SMembers(ctx, redisActiveKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	sessions, err := r.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	active := sessions[:0]
	for _, s := range sessions {
		if s.Status == model.SessionProcessing {
			active = append(active, s)
		}
	}
	sortByCreated(active)
	return active, nil
}

func (r *RedisStore) ListExpired(ctx context.Context, maxAge time.Duration) ([]*model.Session, error) {
	now := r.opts.now()
	cutoff := now.Add(-maxAge).UnixMilli()
	ids, err := r.client.ZRangeByScore(ctx, redisIndexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list expired sessions: %w", err)
	}
	sessions, err := r.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	expired := sessions[:0]
	for _, s := range sessions {
		if isExpired(s, maxAge, now) {
			expired = append(expired, s)
		}
	}
	return expired, nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	key := redisKey(id)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			// An undecodable value is removed regardless.
			if s, err := decode(id, data); err == nil && s.Status == model.SessionProcessing {
				return ErrSessionActive
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.ZRem(ctx, redisIndexKey, id)
			pipe.SRem(ctx, redisActiveKey, id)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return fmt.Errorf("delete session %s: %w", id, err)
		}
		slog.DebugContext(ctx, "session delete conflicted, retrying", "session_id", id, "attempt", attempt+1)
	}
	return fmt.Errorf("delete session %s: too many concurrent writers", id)
}

func (r *RedisStore) Expire(ctx context.Context, maxAge time.Duration) (int, error) {
	return expireAll(ctx, r, maxAge)
}

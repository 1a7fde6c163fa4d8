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
	"strings"
	"testing"
	"time"

	"github.com/jaycherian/gcp-go-battle-video/internal/core/cor"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/model"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/session"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/storage"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingInserter struct {
	rows []*model.SessionArchive
	err  error
}

func (r *recordingInserter) Put(_ context.Context, src interface{}) error {
	if r.err != nil {
		return r.err
	}
	r.rows = append(r.rows, src.(*model.SessionArchive))
	return nil
}

func expiryFixture(t *testing.T) (*session.MemoryStore, *memBlobs, string) {
	t.Helper()
	now := time.UnixMilli(1_700_000_000_000)
	store := session.NewMemoryStore(session.Options{Now: func() time.Time { return now }})
	blobs := newMemBlobs()
	ctx := context.Background()

	s, err := store.Create(ctx, arenaUrl)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		key := storage.FrameKey(battlesPrefix, s.Id, i)
		url, err := blobs.Upload(ctx, key, strings.NewReader("jpeg"), "image/jpeg")
		require.NoError(t, err)
		_, err = store.UpdateSegment(ctx, s.Id, i, model.SegmentPatch{
			VideoUrl:     model.Ptr(videoOf("x")),
			LastFrameUrl: &url,
			Status:       model.Ptr(model.SegmentCompleted),
		})
		require.NoError(t, err)
	}
	_, err = store.Update(ctx, s.Id, model.SessionPatch{Status: model.Ptr(model.SessionFailed)})
	require.NoError(t, err)

	_, err = store.Create(ctx, arenaUrl) // still processing, never expired
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	return store, blobs, s.Id
}

func TestSessionExpiryArchivesAndCleansUp(t *testing.T) {
	store, blobs, id := expiryFixture(t)
	inserter := &recordingInserter{}
	wf := workflow.NewSessionExpiryWorkflow(store, blobs, inserter, battlesPrefix, time.Minute, time.Hour)

	chainCtx := cor.NewContext(context.Background())
	defer chainCtx.Close()
	wf.Execute(chainCtx)

	require.False(t, chainCtx.HasErrors(), "%v", cor.JoinErrors(chainCtx))
	assert.Equal(t, 1, chainCtx.Get(cor.CtxOut))
	require.Len(t, inserter.rows, 1)
	assert.Equal(t, id, inserter.rows[0].Id)
	assert.Equal(t, 2, inserter.rows[0].CompletedSegments)
	assert.ElementsMatch(t, []string{
		storage.FrameKey(battlesPrefix, id, 0),
		storage.FrameKey(battlesPrefix, id, 1),
	}, blobs.deleted)

	_, err := store.Get(context.Background(), id)
	assert.True(t, session.IsNotFound(err))
	active, err := store.ListActive(context.Background())
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestSessionExpiryKeepsSessionWhenArchiveFails(t *testing.T) {
	store, blobs, id := expiryFixture(t)
	inserter := &recordingInserter{err: errors.New("quota exceeded")}
	wf := workflow.NewSessionExpiryWorkflow(store, blobs, inserter, battlesPrefix, time.Minute, time.Hour)

	chainCtx := cor.NewContext(context.Background())
	defer chainCtx.Close()
	wf.Execute(chainCtx)

	assert.True(t, chainCtx.HasErrors())
	assert.Equal(t, 0, chainCtx.Get(cor.CtxOut))
	assert.Empty(t, blobs.deleted)
	_, err := store.Get(context.Background(), id)
	assert.NoError(t, err)
}

func TestSessionExpiryWithoutArchive(t *testing.T) {
	store, blobs, id := expiryFixture(t)
	wf := workflow.NewSessionExpiryWorkflow(store, blobs, nil, battlesPrefix, time.Minute, time.Hour)

	chainCtx := cor.NewContext(context.Background())
	defer chainCtx.Close()
	wf.Execute(chainCtx)

	assert.False(t, chainCtx.HasErrors())
	_, err := store.Get(context.Background(), id)
	assert.True(t, session.IsNotFound(err))
}

func TestSessionExpiryTimerStops(t *testing.T) {
	store, blobs, id := expiryFixture(t)
	wf := workflow.NewSessionExpiryWorkflow(store, blobs, nil, battlesPrefix, 10*time.Millisecond, time.Hour)
	wf.StartTimer()
	defer wf.Stop()

	assert.Eventually(t, func() bool {
		_, err := store.Get(context.Background(), id)
		return session.IsNotFound(err)
	}, 2*time.Second, 10*time.Millisecond)
	wf.Stop()
}

// resumingStore resumes every listed session right after ListExpired returns.
type resumingStore struct {
	*session.MemoryStore
}

func (r resumingStore) ListExpired(ctx context.Context, maxAge time.Duration) ([]*model.Session, error) {
	expired, err := r.MemoryStore.ListExpired(ctx, maxAge)
	for _, s := range expired {
		if _, err := r.Update(ctx, s.Id, model.SessionPatch{Status: model.Ptr(model.SessionProcessing)}); err != nil {
			return nil, err
		}
	}
	return expired, err
}

func TestSessionExpiryKeepsResumedSession(t *testing.T) {
	store, blobs, id := expiryFixture(t)
	wf := workflow.NewSessionExpiryWorkflow(resumingStore{store}, blobs, nil, battlesPrefix, time.Minute, time.Hour)

	chainCtx := cor.NewContext(context.Background())
	defer chainCtx.Close()
	wf.Execute(chainCtx)

	assert.False(t, chainCtx.HasErrors(), "%v", cor.JoinErrors(chainCtx))
	assert.Equal(t, 0, chainCtx.Get(cor.CtxOut))
	got, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.SessionProcessing, got.Status)
	assert.Empty(t, blobs.deleted)

	removed, err := store.Expire(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

// resumingInserter resumes the archived session as a side effect of Put.
type resumingInserter struct {
	store session.Store
}

func (r resumingInserter) Put(ctx context.Context, src interface{}) error {
	row := src.(*model.SessionArchive)
	_, err := r.store.Update(ctx, row.Id, model.SessionPatch{Status: model.Ptr(model.SessionProcessing)})
	return err
}

func TestSessionExpiryDeleteRechecksStatus(t *testing.T) {
	store, blobs, id := expiryFixture(t)
	wf := workflow.NewSessionExpiryWorkflow(store, blobs, resumingInserter{store}, battlesPrefix, time.Minute, time.Hour)

	chainCtx := cor.NewContext(context.Background())
	defer chainCtx.Close()
	wf.Execute(chainCtx)

	assert.False(t, chainCtx.HasErrors(), "%v", cor.JoinErrors(chainCtx))
	assert.Equal(t, 0, chainCtx.Get(cor.CtxOut))
	got, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.SessionProcessing, got.Status)
}

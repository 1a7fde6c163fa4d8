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

package model_test

import (
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jaycherian/gcp-go-battle-video/internal/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSession(t *testing.T) {
	now := time.Now()
	session := model.NewSession("https://example.com/arena.png", model.BattlePrompts(), now)

	assert.Regexp(t, regexp.MustCompile(`^battle-\d+-[0-9a-f]{9}$`), session.Id)
	assert.Equal(t, model.SessionProcessing, session.Status)
	assert.Equal(t, 0, session.CurrentSegmentIndex)
	assert.Equal(t, now.UnixMilli(), session.CreatedAt)
	require.Len(t, session.Segments, 5)
	for i, seg := range session.Segments {
		assert.Equal(t, i, seg.Index)
		assert.Equal(t, model.SegmentPending, seg.Status)
		assert.NotEmpty(t, seg.Prompt)
	}
	assert.NotEqual(t, session.Id, model.NewSession("x", model.BattlePrompts(), now).Id)
}

func TestSessionJSONRoundTrip(t *testing.T) {
	session := model.NewSession("https://example.com/arena.png", model.BattlePrompts(), time.Now())
	session.CurrentSegmentIndex = 2
	session.Segments[0].Status = model.SegmentCompleted
	session.Segments[0].RequestId = "req-0"
	session.Segments[0].VideoUrl = "https://cdn/v0.mp4"
	session.Segments[1].Status = model.SegmentFailed
	session.Segments[1].RequestId = "req-1"
	session.Segments[2].Status = model.SegmentProcessing
	session.Segments[2].RequestId = "req-2"

	data, err := json.Marshal(session)
	require.NoError(t, err)

	var loaded model.Session
	require.NoError(t, json.Unmarshal(data, &loaded))
	assert.Equal(t, session.Segments, loaded.Segments)
	assert.Equal(t, session.CurrentSegmentIndex, loaded.CurrentSegmentIndex)
	assert.Equal(t, session.Status, loaded.Status)
	assert.Equal(t, session.SeedImageUrl, loaded.SeedImageUrl)
}

func TestSegmentPatchRejectsRegression(t *testing.T) {
	session := model.NewSession("seed", model.BattlePrompts(), time.Now())
	require.NoError(t, model.SegmentPatch{
		Status:   model.Ptr(model.SegmentCompleted),
		VideoUrl: model.Ptr("https://cdn/v0.mp4"),
	}.Apply(session, 0))

	for _, status := range []model.SegmentStatus{model.SegmentPending, model.SegmentProcessing, model.SegmentFailed} {
		err := model.SegmentPatch{Status: model.Ptr(status)}.Apply(session, 0)
		assert.True(t, errors.Is(err, model.ErrSegmentRegression))
		assert.Equal(t, model.SegmentCompleted, session.Segments[0].Status)
	}

	// caching the frame on a completed segment is still allowed
	assert.NoError(t, model.SegmentPatch{LastFrameUrl: model.Ptr("https://cdn/f0.jpg")}.Apply(session, 0))
	assert.Equal(t, "https://cdn/f0.jpg", session.Segments[0].LastFrameUrl)

	assert.Error(t, model.SegmentPatch{}.Apply(session, 9))
}

func TestCompletedVideoUrlsKeepsIndexOrder(t *testing.T) {
	session := model.NewSession("seed", model.BattlePrompts(), time.Now())
	for i, seg := range session.Segments {
		seg.Status = model.SegmentCompleted
		seg.VideoUrl = "v" + string(rune('0'+i))
	}
	session.Segments[3].Status = model.SegmentFailed

	urls, skipped := session.CompletedVideoUrls()
	assert.Equal(t, []string{"v0", "v1", "v2", "v4"}, urls)
	assert.Equal(t, []int{3}, skipped)

	archive := model.NewSessionArchive(session, time.Now())
	assert.Equal(t, 4, archive.CompletedSegments)
	assert.Equal(t, 1, archive.FailedSegments)
	assert.Equal(t, 5, archive.SegmentCount)
}

func TestCloneDoesNotAlias(t *testing.T) {
	session := model.NewSession("seed", model.BattlePrompts(), time.Now())
	cp := session.Clone()
	cp.Segments[0].Status = model.SegmentFailed
	assert.Equal(t, model.SegmentPending, session.Segments[0].Status)
}

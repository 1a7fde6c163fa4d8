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

// Package model defines the core data structures for the application.
// This file holds the structures that are persisted: the battle video session
// with its ordered segments, and the flattened archive row written to BigQuery
// once a session reaches a terminal state.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SessionIdPrefix is prepended to every generated session id.
const SessionIdPrefix = "battle"

// SegmentStatus is the lifecycle state of a single video segment.
type SegmentStatus string

const (
	SegmentPending    SegmentStatus = "pending"
	SegmentProcessing SegmentStatus = "processing"
	SegmentCompleted  SegmentStatus = "completed"
	SegmentFailed     SegmentStatus = "failed"
)

// IsTerminal reports whether the segment can no longer change on its own.
func (s SegmentStatus) IsTerminal() bool {
	return s == SegmentCompleted || s == SegmentFailed
}

// SessionStatus is the lifecycle state of a whole session.
type SessionStatus string

const (
	SessionProcessing SessionStatus = "processing"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
)

// VideoSegment is one generated clip in the fixed battle narrative.
type VideoSegment struct {
	Index         int           `json:"index"`                   // Position in the sequence, 0-based and immutable.
	Prompt        string        `json:"prompt"`                  // Generation instruction, fixed at session creation.
	RequestId     string        `json:"requestId,omitempty"`     // External job id, set once the job is submitted.
	VideoUrl      string        `json:"videoUrl,omitempty"`      // Public URL of the finished clip.
	LastFrameUrl  string        `json:"lastFrameUrl,omitempty"`  // Uploaded last frame, the seed for the next segment.
	NotReadyPolls int           `json:"notReadyPolls,omitempty"` // Consecutive result fetches that answered not ready.
	Status        SegmentStatus `json:"status"`
}

// Session tracks one multi-segment generation from the arena image to the
// stitched final video. Everything needed to resume is in this struct.
type Session struct {
	Id                  string          `json:"id"`
	SeedImageUrl        string          `json:"seedImageUrl"`
	Segments            []*VideoSegment `json:"segments"`
	CurrentSegmentIndex int             `json:"currentSegmentIndex"`
	Status              SessionStatus   `json:"status"`
	FinalVideoUrl       string          `json:"finalVideoUrl,omitempty"`
	CreatedAt           int64           `json:"createdAt"` // epoch milliseconds
	UpdatedAt           int64           `json:"updatedAt,omitempty"`
	Error               string          `json:"error,omitempty"`
	Version             int64           `json:"version"`
}

// NewSessionId returns a collision resistant id of the form battle-<ms>-<suffix>.
func NewSessionId(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("%s-%d-%s", SessionIdPrefix, now.UnixMilli(), suffix)
}

// NewSession builds a session in the processing state with one pending
// segment per prompt.
func NewSession(seedImageUrl string, prompts []string, now time.Time) *Session {
	segments := make([]*VideoSegment, len(prompts))
	for i, p := range prompts {
		segments[i] = &VideoSegment{Index: i, Prompt: p, Status: SegmentPending}
	}
	return &Session{
		Id:                  NewSessionId(now),
		SeedImageUrl:        seedImageUrl,
		Segments:            segments,
		CurrentSegmentIndex: 0,
		Status:              SessionProcessing,
		CreatedAt:           now.UnixMilli(),
		UpdatedAt:           now.UnixMilli(),
	}
}

// ActiveSegment returns the segment at CurrentSegmentIndex, or nil when the
// index is out of range.
func (s *Session) ActiveSegment() *VideoSegment {
	if s.CurrentSegmentIndex < 0 || s.CurrentSegmentIndex >= len(s.Segments) {
		return nil
	}
	return s.Segments[s.CurrentSegmentIndex]
}

// IsLastSegment reports whether index is the final segment of the session.
func (s *Session) IsLastSegment(index int) bool {
	return index == len(s.Segments)-1
}

// CompletedVideoUrls returns the video URLs of completed segments in index
// order. Segments without a video are reported in skipped.
func (s *Session) CompletedVideoUrls() (urls []string, skipped []int) {
	for _, seg := range s.Segments {
		if seg.Status == SegmentCompleted && seg.VideoUrl != "" {
			urls = append(urls, seg.VideoUrl)
			continue
		}
		skipped = append(skipped, seg.Index)
	}
	return urls, skipped
}

// Age returns how long ago the session was created.
func (s *Session) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(s.CreatedAt))
}

// Clone returns a deep copy so callers can mutate without aliasing store state.
func (s *Session) Clone() *Session {
	out := *s
	out.Segments = make([]*VideoSegment, len(s.Segments))
	for i, seg := range s.Segments {
		cp := *seg
		out.Segments[i] = &cp
	}
	return &out
}

// SessionArchive is the row written to BigQuery when a session finishes.
type SessionArchive struct {
	Id                string    `json:"id" bigquery:"id"`
	Status            string    `json:"status" bigquery:"status"`
	SeedImageUrl      string    `json:"seed_image_url" bigquery:"seed_image_url"`
	FinalVideoUrl     string    `json:"final_video_url" bigquery:"final_video_url"`
	SegmentCount      int       `json:"segment_count" bigquery:"segment_count"`
	CompletedSegments int       `json:"completed_segments" bigquery:"completed_segments"`
	FailedSegments    int       `json:"failed_segments" bigquery:"failed_segments"`
	Error             string    `json:"error" bigquery:"error"`
	CreateDate        time.Time `json:"create_date" bigquery:"create_date"`
	ArchiveDate       time.Time `json:"archive_date" bigquery:"archive_date"`
}

// NewSessionArchive flattens a session into an archive row.
func NewSessionArchive(s *Session, now time.Time) *SessionArchive {
	out := &SessionArchive{
		Id:            s.Id,
		Status:        string(s.Status),
		SeedImageUrl:  s.SeedImageUrl,
		FinalVideoUrl: s.FinalVideoUrl,
		SegmentCount:  len(s.Segments),
		Error:         s.Error,
		CreateDate:    time.UnixMilli(s.CreatedAt).UTC(),
		ArchiveDate:   now.UTC(),
	}
	for _, seg := range s.Segments {
		switch seg.Status {
		case SegmentCompleted:
			out.CompletedSegments++
		case SegmentFailed:
			out.FailedSegments++
		}
	}
	return out
}

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
// This file, `transient.go`, contains the structures that only live in memory
// while a request is handled: partial updates applied by the session stores,
// and the progress report returned to pollers.
package model

import (
	"errors"
	"fmt"
)

// ErrSegmentRegression is returned when an update would move a completed
// segment back to another status.
var ErrSegmentRegression = errors.New("completed segment cannot change status")

// SessionPatch is a partial update of a session. Nil fields are left untouched.
type SessionPatch struct {
	Status              *SessionStatus
	CurrentSegmentIndex *int
	FinalVideoUrl       *string
	Error               *string
}

// SegmentPatch is a partial update of a single segment. Nil fields are left untouched.
type SegmentPatch struct {
	RequestId     *string
	VideoUrl      *string
	LastFrameUrl  *string
	NotReadyPolls *int
	Status        *SegmentStatus
}

// Ptr returns a pointer to v, handy for building patches.
func Ptr[T any](v T) *T {
	return &v
}

// Apply merges the patch into the session.
func (p SessionPatch) Apply(s *Session) {
	if p.Status != nil {
		s.Status = *p.Status
	}
	if p.CurrentSegmentIndex != nil {
		s.CurrentSegmentIndex = *p.CurrentSegmentIndex
	}
	if p.FinalVideoUrl != nil {
		s.FinalVideoUrl = *p.FinalVideoUrl
	}
	if p.Error != nil {
		s.Error = *p.Error
	}
}

// Apply merges the patch into segment index of the session. It refuses to
// move a completed segment to any other status.
func (p SegmentPatch) Apply(s *Session, index int) error {
	if index < 0 || index >= len(s.Segments) {
		return fmt.Errorf("segment %d out of range for session %s", index, s.Id)
	}
	seg := s.Segments[index]
	if p.Status != nil && seg.Status == SegmentCompleted && *p.Status != SegmentCompleted {
		return fmt.Errorf("segment %d of session %s: %w", index, s.Id, ErrSegmentRegression)
	}
	if p.RequestId != nil {
		seg.RequestId = *p.RequestId
	}
	if p.VideoUrl != nil {
		seg.VideoUrl = *p.VideoUrl
	}
	if p.LastFrameUrl != nil {
		seg.LastFrameUrl = *p.LastFrameUrl
	}
	if p.NotReadyPolls != nil {
		seg.NotReadyPolls = *p.NotReadyPolls
	}
	if p.Status != nil {
		seg.Status = *p.Status
	}
	return nil
}

// Progress is what a poller receives after each advance of a session.
type Progress struct {
	Status          string `json:"status"` // processing, completed or failed
	SessionId       string `json:"sessionId,omitempty"`
	CurrentSegment  int    `json:"currentSegment"`
	TotalSegments   int    `json:"totalSegments"`
	VideoUrl        string `json:"videoUrl,omitempty"`
	AudioUrl        string `json:"audioUrl,omitempty"`
	ProgressMessage string `json:"progressMessage,omitempty"`
	Error           string `json:"error,omitempty"`
	Recoverable     bool   `json:"recoverable"`
}

// StartResult is returned when a new session is started.
type StartResult struct {
	SessionId     string `json:"sessionId"`
	TotalSegments int    `json:"totalSegments"`
	Error         string `json:"error,omitempty"` // First submission failed; the session can still be polled.
}

// BattleAssets are the images produced while preparing a battle.
type BattleAssets struct {
	Player1StanceUrl string `json:"player1StanceUrl"`
	Player2StanceUrl string `json:"player2StanceUrl"`
	VersusUrl        string `json:"versusUrl"`
	ArenaUrl         string `json:"arenaUrl"`

	// Failures maps an asset name to the reason it could not be produced.
	// The other assets are still returned.
	Failures map[string]string `json:"failures,omitempty"`
}

// ArchiveStats summarizes the archived sessions.
type ArchiveStats struct {
	Total     int64 `json:"total" bigquery:"total"`
	Completed int64 `json:"completed" bigquery:"completed"`
	Failed    int64 `json:"failed" bigquery:"failed"`
}

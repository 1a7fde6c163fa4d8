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

package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jaycherian/gcp-go-battle-video/internal/core/model"
)

type activeSession struct {
	SessionId      string `json:"sessionId"`
	CurrentSegment int    `json:"currentSegment"`
	TotalSegments  int    `json:"totalSegments"`
	CreatedAt      int64  `json:"createdAt"`
	Error          string `json:"error,omitempty"`
}

type statsResponse struct {
	ActiveSessions int                     `json:"activeSessions"`
	Active         []activeSession         `json:"active"`
	Archive        *model.ArchiveStats     `json:"archive,omitempty"`
	RecentArchived []*model.SessionArchive `json:"recentArchived,omitempty"`
}

// Dashboard reports the sessions in flight and, when archiving is enabled,
// a summary of the archive. `count` bounds the recent archive rows.
func (h *Handlers) Dashboard(r *gin.RouterGroup) {
	stats := r.Group("/stats")
	{
		stats.GET("", func(c *gin.Context) {
			ctx := c.Request.Context()
			active, err := h.Sessions.ListActive(ctx)
			if err != nil {
				abort(c, err)
				return
			}
			out := statsResponse{ActiveSessions: len(active), Active: make([]activeSession, 0, len(active))}
			for _, s := range active {
				out.Active = append(out.Active, activeSession{
					SessionId:      s.Id,
					CurrentSegment: s.CurrentSegmentIndex,
					TotalSegments:  len(s.Segments),
					CreatedAt:      s.CreatedAt,
					Error:          s.Error,
				})
			}

			if h.Archive != nil {
				count, err := strconv.Atoi(c.DefaultQuery("count", "10"))
				if err != nil {
					count = 10
				}
				// Archive errors are logged only; live sessions are still returned.
				if out.Archive, err = h.Archive.Stats(ctx); err != nil {
					slog.WarnContext(ctx, "archive stats unavailable", "error", err)
				}
				if out.RecentArchived, err = h.Archive.Recent(ctx, count); err != nil {
					slog.WarnContext(ctx, "recent archive unavailable", "error", err)
				}
			}
			c.JSON(http.StatusOK, out)
		})
	}
}

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
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jaycherian/gcp-go-battle-video/internal/core/model"
)

type startSessionRequest struct {
	SeedImageUrl string `json:"seedImageUrl"`
}

// BattleVideoRouter serves the multi-segment sessions.
func (h *Handlers) BattleVideoRouter(r *gin.RouterGroup) {
	sessions := r.Group("/battle-video/sessions")
	{
		sessions.POST("", func(c *gin.Context) {
			var req startSessionRequest
			if err := c.ShouldBindJSON(&req); err != nil || req.SeedImageUrl == "" {
				abort(c, badRequest("seedImageUrl is required"))
				return
			}
			out, err := h.Orchestrator.StartSession(c.Request.Context(), req.SeedImageUrl)
			if err != nil {
				abort(c, err)
				return
			}
			c.JSON(http.StatusCreated, out)
		})

		sessions.GET("/:id", func(c *gin.Context) {
			out, err := h.Orchestrator.PollSession(c.Request.Context(), c.Param("id"))
			if err != nil {
				abort(c, err)
				return
			}
			c.JSON(http.StatusOK, out)
		})
	}
}

// generateVideoRequest is the body of the single endpoint the web client
// polls. Without sessionId or multiSegment it drives a single job.
type generateVideoRequest struct {
	Action         string `json:"action"`
	BattleArenaUrl string `json:"battleArenaUrl"`
	RequestId      string `json:"requestId"`
	SessionId      string `json:"sessionId"`
	MultiSegment   bool   `json:"multiSegment"`
}

type generateVideoResponse struct {
	Success        bool   `json:"success"`
	Status         string `json:"status"`
	RequestId      string `json:"requestId,omitempty"`
	SessionId      string `json:"sessionId,omitempty"`
	CurrentSegment int    `json:"currentSegment"`
	TotalSegments  int    `json:"totalSegments,omitempty"`
	Progress       string `json:"progress,omitempty"`
	VideoUrl       string `json:"videoUrl,omitempty"`
	AudioUrl       string `json:"audioUrl,omitempty"`
	Error          string `json:"error,omitempty"`
	Recoverable    bool   `json:"recoverable"`
}

func fromProgress(p *model.Progress) generateVideoResponse {
	return generateVideoResponse{
		Success:        p.Status != "failed",
		Status:         p.Status,
		SessionId:      p.SessionId,
		CurrentSegment: p.CurrentSegment,
		TotalSegments:  p.TotalSegments,
		Progress:       p.ProgressMessage,
		VideoUrl:       p.VideoUrl,
		AudioUrl:       p.AudioUrl,
		Error:          p.Error,
		Recoverable:    p.Recoverable,
	}
}

// GenerateVideo serves the start/status endpoint.
func (h *Handlers) GenerateVideo(r *gin.RouterGroup) {
	r.POST("/generate-video", func(c *gin.Context) {
		var req generateVideoRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abort(c, badRequest("invalid request body"))
			return
		}
		ctx := c.Request.Context()

		switch req.Action {
		case "start":
			if req.BattleArenaUrl == "" {
				abort(c, badRequest("Battle arena URL required"))
				return
			}
			if req.MultiSegment {
				out, err := h.Orchestrator.StartSession(ctx, req.BattleArenaUrl)
				if err != nil {
					abort(c, err)
					return
				}
				c.JSON(http.StatusOK, generateVideoResponse{
					Success:       true,
					Status:        "processing",
					SessionId:     out.SessionId,
					TotalSegments: out.TotalSegments,
					Error:         out.Error,
					Recoverable:   out.Error != "",
				})
				return
			}
			requestId, err := h.Orchestrator.LegacyStart(ctx, req.BattleArenaUrl, "")
			if err != nil {
				abort(c, err)
				return
			}
			c.JSON(http.StatusOK, generateVideoResponse{Success: true, Status: "queued", RequestId: requestId, TotalSegments: 1})

		case "status":
			var (
				out *model.Progress
				err error
			)
			switch {
			case req.SessionId != "":
				out, err = h.Orchestrator.PollSession(ctx, req.SessionId)
			case req.RequestId != "":
				out, err = h.Orchestrator.LegacyPoll(ctx, req.RequestId)
			default:
				abort(c, badRequest("Request ID required"))
				return
			}
			if err != nil {
				abort(c, err)
				return
			}
			resp := fromProgress(out)
			resp.RequestId = req.RequestId
			c.JSON(http.StatusOK, resp)

		default:
			abort(c, badRequest("Invalid action"))
		}
	})
}

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
	"bytes"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jaycherian/gcp-go-battle-video/internal/core/storage"
)

type uploadResponse struct {
	Success  bool   `json:"success"`
	Url      string `json:"url"`
	FileName string `json:"fileName"`
}

// FileUpload stores player photos under the profiles prefix. The form
// carries the photo in `file` and the player in `playerId`.
func (h *Handlers) FileUpload(r *gin.RouterGroup) {
	r.POST("/uploads", func(c *gin.Context) {
		limit := h.MaxUploadBytes
		if limit <= 0 {
			limit = DefaultMaxUploadBytes
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+1<<20)

		header, err := c.FormFile("file")
		if err != nil {
			abort(c, badRequest("No file provided"))
			return
		}
		if header.Size > limit {
			abort(c, badRequest("file is too large"))
			return
		}
		file, err := header.Open()
		if err != nil {
			abort(c, err)
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			abort(c, err)
			return
		}

		mime, ext := storage.DetectContentType(data)
		if !strings.HasPrefix(mime, "image/") {
			abort(c, badRequest("file is not an image"))
			return
		}
		if ext == "" {
			ext = filepath.Ext(header.Filename)
		}
		key := storage.ProfileKey(h.ProfilesPrefix, c.PostForm("playerId"), ext)
		url, err := h.Blobs.Upload(c.Request.Context(), key, bytes.NewReader(data), mime)
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, uploadResponse{Success: true, Url: url, FileName: filepath.Base(key)})
	})
}

type battleRequest struct {
	Player1Url string `json:"player1Url"`
	Player2Url string `json:"player2Url"`
}

// BattleRouter prepares the battle images from two uploaded photos.
func (h *Handlers) BattleRouter(r *gin.RouterGroup) {
	r.POST("/battle", func(c *gin.Context) {
		if h.Battle == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, errorResponse{Error: "battle preparation is not configured"})
			return
		}
		var req battleRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Player1Url == "" || req.Player2Url == "" {
			abort(c, badRequest("player1Url and player2Url are required"))
			return
		}
		out, err := h.Battle.Prepare(c.Request.Context(), req.Player1Url, req.Player2Url)
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	})
}

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

// Package api defines the HTTP routes of the battle video service. Routes are
// grouped under /api/v1 and every handler delegates to the orchestrator or
// one of the services; no state lives in this package.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/jaycherian/gcp-go-battle-video/internal/core/model"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/retry"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/session"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/storage"
)

// DefaultMaxUploadBytes caps a player photo upload.
const DefaultMaxUploadBytes = 10 << 20

// Orchestrator is the part of the segment orchestrator the routes use.
type Orchestrator interface {
	StartSession(ctx context.Context, seedImageUrl string) (*model.StartResult, error)
	PollSession(ctx context.Context, id string) (*model.Progress, error)
	LegacyStart(ctx context.Context, imageUrl string, prompt string) (string, error)
	LegacyPoll(ctx context.Context, requestId string) (*model.Progress, error)
}

// BattlePreparer produces the battle images from two player photos.
type BattlePreparer interface {
	Prepare(ctx context.Context, player1Url string, player2Url string) (*model.BattleAssets, error)
}

// ArchiveReader reads the session archive.
type ArchiveReader interface {
	Recent(ctx context.Context, limit int) ([]*model.SessionArchive, error)
	Stats(ctx context.Context) (*model.ArchiveStats, error)
}

// Handlers carries the dependencies of the routes. Battle and Archive are
// optional; their routes answer 503 or omit the data when they are nil.
type Handlers struct {
	Orchestrator   Orchestrator
	Sessions       session.Store
	Blobs          storage.BlobStore
	Battle         BattlePreparer
	Archive        ArchiveReader
	ProfilesPrefix string
	MaxUploadBytes int64
}

// Register adds every route to r.
func (h *Handlers) Register(r *gin.RouterGroup) {
	h.BattleVideoRouter(r)
	h.GenerateVideo(r)
	h.FileUpload(r)
	h.BattleRouter(r)
	h.Dashboard(r)
}

// NewRouter builds the gin engine: tracing and CORS middleware, the /api/v1
// routes and, when staticDir is set, the locally stored files under /files.
func NewRouter(h *Handlers, serviceName string, staticDir string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName))
	r.Use(cors.Default())

	apiV1 := r.Group("/api/v1")
	h.Register(apiV1)

	if staticDir != "" {
		r.Static("/files", staticDir)
	}
	return r
}

type errorResponse struct {
	Error       string `json:"error"`
	Recoverable bool   `json:"recoverable"`
}

// abort writes err with a status derived from its type.
func abort(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var invalid *invalidRequestError
	switch {
	case errors.As(err, &invalid):
		status = http.StatusBadRequest
	case session.IsNotFound(err):
		status = http.StatusNotFound
	default:
		if code, ok := retry.StatusOf(err); ok && code == http.StatusNotFound {
			status = http.StatusNotFound
		}
	}
	if status == http.StatusInternalServerError {
		slog.ErrorContext(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(status, errorResponse{Error: err.Error(), Recoverable: status >= 500 && retry.IsRetryable(err)})
}

type invalidRequestError struct {
	msg string
}

func (e *invalidRequestError) Error() string { return e.msg }

func badRequest(msg string) error {
	return &invalidRequestError{msg: msg}
}

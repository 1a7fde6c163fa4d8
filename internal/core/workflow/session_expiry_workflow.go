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

package workflow

import (
	goctx "context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/jaycherian/gcp-go-battle-video/internal/core/commands"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/cor"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/model"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/session"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/storage"
)

// SessionExpiryWorkflow is the background job that removes finished sessions
// once they are older than the configured age. Each expired session first
// runs through a small chain: the BigQuery archive row (when an inserter is
// configured) and the removal of its intermediate frame images. A session
// whose chain fails is kept and tried again on the next tick.
type SessionExpiryWorkflow struct {
	cor.BaseCommand
	store    session.Store
	chain    cor.Chain
	maxAge   time.Duration
	interval time.Duration

	stopOnce    sync.Once
	closeTicker chan struct{}
}

// NewSessionExpiryWorkflow builds the workflow. inserter may be nil to skip archiving.
func NewSessionExpiryWorkflow(
	store session.Store,
	blobs storage.BlobStore,
	inserter commands.RowInserter,
	battlesPrefix string,
	interval time.Duration,
	maxAge time.Duration) *SessionExpiryWorkflow {

	chain := cor.NewBaseChain("session-expiry-chain")
	if inserter != nil {
		chain.AddCommand(commands.NewSessionPersistToBigQuery("archive-session", inserter, commands.ParamSession))
	}
	chain.AddCommand(commands.NewSessionAssetCleanup("cleanup-session-frames", blobs, battlesPrefix, commands.ParamSession))

	return &SessionExpiryWorkflow{
		BaseCommand: *cor.NewBaseCommand("session-expiry"),
		store:       store,
		chain:       chain,
		maxAge:      maxAge,
		interval:    interval,
		closeTicker: make(chan struct{}),
	}
}

// StartTimer runs the workflow every interval in a background goroutine until Stop is called.
func (w *SessionExpiryWorkflow) StartTimer() {
	tracer := otel.Tracer("session-expiry")
	ticker := time.NewTicker(w.interval)

	go func() {
		for {
			select {
			case <-ticker.C:
				traceCtx, span := tracer.Start(goctx.Background(), "expire-sessions")
				chainCtx := cor.NewContext(traceCtx)
				w.Execute(chainCtx)
				if chainCtx.HasErrors() {
					span.SetStatus(codes.Error, "failed to expire sessions")
					slog.WarnContext(traceCtx, "session expiry finished with errors", "error", cor.JoinErrors(chainCtx))
				} else {
					span.SetStatus(codes.Ok, "expired sessions")
				}
				chainCtx.Close()
				span.End()
			case <-w.closeTicker:
				ticker.Stop()
				return
			}
		}
	}()
	slog.Info("session expiry timer started", "interval", w.interval, "max_age", w.maxAge)
}

// Stop ends the timer goroutine. Safe to call more than once.
func (w *SessionExpiryWorkflow) Stop() {
	w.stopOnce.Do(func() { close(w.closeTicker) })
}

// IsExecutable is always true; the job needs no input.
func (w *SessionExpiryWorkflow) IsExecutable(_ cor.Context) bool {
	return true
}

// Execute expires what is due now and leaves the number of removed sessions
// under the output parameter.
func (w *SessionExpiryWorkflow) Execute(context cor.Context) {
	ctx := context.GetContext()
	expired, err := w.store.ListExpired(ctx, w.maxAge)
	if err != nil {
		w.Fail(context, err)
		return
	}

	removed := 0
	for _, s := range expired {
		current, err := w.store.Get(ctx, s.Id)
		if session.IsNotFound(err) {
			continue
		}
		if err != nil {
			context.AddError(fmt.Sprintf("%s.%s", w.GetName(), s.Id), err)
			continue
		}
		if current.Status == model.SessionProcessing {
			slog.InfoContext(ctx, "session resumed while expiring, kept", "session_id", s.Id)
			continue
		}
		sessionCtx := cor.NewContext(ctx)
		sessionCtx.Add(commands.ParamSession, current)
		w.chain.Execute(sessionCtx)
		if err := cor.JoinErrors(sessionCtx); err != nil {
			context.AddError(fmt.Sprintf("%s.%s", w.GetName(), s.Id), err)
			continue
		}
		err = w.store.Delete(ctx, s.Id)
		if errors.Is(err, session.ErrSessionActive) {
			slog.InfoContext(ctx, "session resumed while expiring, kept", "session_id", s.Id)
			continue
		}
		if err != nil {
			context.AddError(fmt.Sprintf("%s.%s", w.GetName(), s.Id), err)
			continue
		}
		removed++
	}

	if removed > 0 {
		slog.InfoContext(ctx, "expired sessions", "removed", removed, "candidates", len(expired))
	}
	if !context.HasErrors() {
		w.Succeed(context)
	}
	context.Add(w.GetOutputParam(), removed)
}

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

	"github.com/jaycherian/gcp-go-battle-video/internal/cloud"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/commands"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/cor"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/model"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/storage"
)

// SessionStarter is implemented by *SegmentOrchestrator.
type SessionStarter interface {
	StartSession(ctx goctx.Context, seedImageUrl string) (*model.StartResult, error)
}

// StartSessionFromObject starts a battle session seeded with the stored
// object found under the input parameter.
//
// Inputs:
//   - *cloud.GCSObject: the finalized arena image.
//
// Outputs:
//   - *model.StartResult
type StartSessionFromObject struct {
	cor.BaseCommand
	starter SessionStarter
	blobs   storage.BlobStore
}

func NewStartSessionFromObject(name string, starter SessionStarter, blobs storage.BlobStore) *StartSessionFromObject {
	return &StartSessionFromObject{BaseCommand: *cor.NewBaseCommand(name), starter: starter, blobs: blobs}
}

func (c *StartSessionFromObject) Execute(context cor.Context) {
	obj, ok := context.Get(c.GetInputParam()).(*cloud.GCSObject)
	if !ok {
		c.Fail(context, fmt.Errorf("expected *cloud.GCSObject under %s", c.GetInputParam()))
		return
	}
	result, err := c.starter.StartSession(context.GetContext(), c.blobs.URL(obj.Name))
	if err != nil {
		c.Fail(context, err)
		return
	}
	c.Succeed(context)
	context.Add(c.GetOutputParam(), result)
}

// ArenaTriggerWorkflow reacts to Cloud Storage notifications: every arena
// image finalized under the arena prefix starts a new battle session.
// Notifications for other objects or other event types are dropped without
// an error so the listener acknowledges them.
type ArenaTriggerWorkflow struct {
	cor.BaseCommand
	chain cor.Chain
}

func NewArenaTriggerWorkflow(starter SessionStarter, blobs storage.BlobStore, arenaPrefix string) *ArenaTriggerWorkflow {
	chain := cor.NewBaseChain("arena-trigger-chain")
	chain.AddCommand(commands.NewArenaTriggerToGCSObject("arena-trigger-to-gcs-object", arenaPrefix))
	chain.AddCommand(NewStartSessionFromObject("start-battle-session", starter, blobs))
	return &ArenaTriggerWorkflow{BaseCommand: *cor.NewBaseCommand("arena-trigger-workflow"), chain: chain}
}

func (w *ArenaTriggerWorkflow) Execute(context cor.Context) {
	if attrs, ok := context.Get(cloud.MessageAttributesKey).(map[string]string); ok {
		if event := attrs["eventType"]; event != "" && event != cloud.ObjectFinalizeEvent {
			slog.DebugContext(context.GetContext(), "ignoring storage event", "event_type", event)
			return
		}
	}

	inner := cor.NewContext(context.GetContext())
	defer inner.Close()
	inner.Add(cor.CtxIn, context.Get(w.GetInputParam()))
	w.chain.Execute(inner)

	for name, err := range inner.GetErrors() {
		if errors.Is(err, commands.ErrIgnoredObject) {
			slog.DebugContext(context.GetContext(), "ignoring storage notification", "reason", err)
			continue
		}
		context.AddError(name, err)
	}
	if context.HasErrors() {
		return
	}
	if result, ok := inner.Get(cor.CtxIn).(*model.StartResult); ok {
		slog.InfoContext(context.GetContext(), "battle session started from storage event", "session_id", result.SessionId)
		context.Add(w.GetOutputParam(), result)
	}
}

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

package main

import (
	"context"
	"log/slog"

	"github.com/jaycherian/gcp-go-battle-video/internal/cloud"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/workflow"
)

// ArenaTopic is the subscription key whose GCS notifications start sessions.
const ArenaTopic = "ArenaTopic"

// SetupListeners attaches the arena trigger to its subscription and starts
// receiving. Nothing happens when the subscription is not configured.
func SetupListeners(ctx context.Context, config *cloud.Config, cloudClients *cloud.ServiceClients) {
	listener, ok := cloudClients.PubSubListeners[ArenaTopic]
	if !ok {
		slog.Info("no arena subscription configured")
		return
	}
	listener.SetCommand(workflow.NewArenaTriggerWorkflow(state.orchestrator, state.blobs, config.Storage.ArenaPrefix))
	listener.Listen(ctx)
}

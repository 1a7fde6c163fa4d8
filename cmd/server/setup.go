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
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/jaycherian/gcp-go-battle-video/internal/api"
	"github.com/jaycherian/gcp-go-battle-video/internal/cloud"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/commands"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/generation"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/media"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/services"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/session"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/storage"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/workflow"
)

// StateManager holds the components built at start-up.
type StateManager struct {
	config       *cloud.Config
	cloud        *cloud.ServiceClients
	blobs        storage.BlobStore
	staticDir    string
	sessions     session.Store
	orchestrator *workflow.SegmentOrchestrator
	expiry       *workflow.SessionExpiryWorkflow
	handlers     *api.Handlers
}

var state = &StateManager{}

// SetupOS defaults the configuration directory and runtime for a local run.
// Values already present in the environment win.
func SetupOS() error {
	if os.Getenv(cloud.EnvConfigFilePrefix) == "" {
		if err := os.Setenv(cloud.EnvConfigFilePrefix, "configs"); err != nil {
			return err
		}
	}
	if os.Getenv(cloud.EnvConfigRuntime) == "" {
		return os.Setenv(cloud.EnvConfigRuntime, "local")
	}
	return nil
}

func GetConfig() *cloud.Config {
	if state.config == nil {
		if err := SetupOS(); err != nil {
			log.Fatalf("failed to setup os: %v\n", err)
		}
		config := cloud.NewConfig()
		cloud.LoadConfig(config)
		state.config = config
	}
	return state.config
}

func newBlobStore(config *cloud.Config, clients *cloud.ServiceClients) (storage.BlobStore, string, error) {
	switch config.Storage.Backend {
	case "gcs":
		store := storage.NewGCSStore(clients.StorageClient, config.Storage.Bucket, config.Storage.PublicBaseUrl)
		if config.Storage.SignedUrls {
			expires := time.Duration(config.Storage.SignedUrlMinutes) * time.Minute
			store = store.WithSigner(clients.IAMClient, config.Application.SignerServiceAccountEmail, expires)
		}
		return store, "", nil
	case "", "local":
		store, err := storage.NewLocalStore(config.Storage.LocalDir, config.Storage.PublicBaseUrl)
		if err != nil {
			return nil, "", err
		}
		return store, store.Dir(), nil
	default:
		return nil, "", fmt.Errorf("unknown storage backend %q", config.Storage.Backend)
	}
}

func newGenerationClient(config *cloud.Config) generation.Client {
	if config.Generation.Mock {
		slog.Warn("using the mock generation client")
		return generation.NewMockClient(config.Generation.MockPollsUntilDone, config.Generation.MockVideoUrl)
	}
	return generation.NewFalQueueClient(config.Generation, config.Retry.Policy())
}

// InitState creates the clients, stores, services and workflows, starts the
// expiry timer and the Pub/Sub listeners.
func InitState(ctx context.Context) error {
	config := GetConfig()

	cloudClients, err := cloud.NewCloudServiceClients(ctx, config)
	if err != nil {
		return err
	}
	state.cloud = cloudClients

	if state.blobs, state.staticDir, err = newBlobStore(config, cloudClients); err != nil {
		return err
	}
	if state.sessions, err = session.NewStore(config.Sessions, config.Battle.Prompts, cloudClients.RedisClient); err != nil {
		return err
	}

	state.orchestrator = workflow.NewSegmentOrchestrator(
		state.sessions,
		newGenerationClient(config),
		media.NewProcessor(config.FFmpeg, config.Application.ThreadPoolSize),
		state.blobs,
		workflow.OrchestratorOptions{
			BattlesPrefix: config.Storage.BattlesPrefix,
			Params: generation.Params{
				Duration:      config.Generation.Duration,
				Resolution:    config.Generation.Resolution,
				GenerateAudio: config.Generation.GenerateAudio,
			},
			MaxNotReadyPolls: config.Orchestrator.MaxNotReadyPolls,
		})

	state.handlers = &api.Handlers{
		Orchestrator:   state.orchestrator,
		Sessions:       state.sessions,
		Blobs:          state.blobs,
		ProfilesPrefix: config.Storage.ProfilesPrefix,
	}
	if imageModel, ok := cloudClients.AgentModels[config.Battle.ImageModel]; ok {
		state.handlers.Battle = services.NewBattlePrepService(imageModel, state.blobs, config.Storage.EditsPrefix)
	} else {
		slog.Warn("no image model configured, battle preparation disabled", "model", config.Battle.ImageModel)
	}

	var inserter commands.RowInserter
	if cloudClients.BigQueryClient != nil {
		archive := &services.ArchiveService{
			BigqueryClient: cloudClients.BigQueryClient,
			DatasetName:    config.BigQueryDataSource.DatasetName,
			ArchiveTable:   config.BigQueryDataSource.ArchiveTable,
		}
		state.handlers.Archive = archive
		inserter = cloudClients.BigQueryClient.Dataset(archive.DatasetName).Table(archive.ArchiveTable).Inserter()
	}

	state.expiry = workflow.NewSessionExpiryWorkflow(
		state.sessions,
		state.blobs,
		inserter,
		config.Storage.BattlesPrefix,
		time.Duration(config.Sessions.CleanupIntervalSeconds)*time.Second,
		time.Duration(config.Sessions.MaxAgeMinutes)*time.Minute)
	state.expiry.StartTimer()

	SetupListeners(ctx, config, cloudClients)
	return nil
}

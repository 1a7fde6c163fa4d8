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

// Package cloud provides components for interacting with Google Cloud services.
// This file builds the ServiceClients container: every external client the
// service needs, created once at start-up from the configuration and passed
// explicitly to the stores, services and workflows that use them.
//
// Clients are only created for the features the configuration enables, so a
// local run with the file session store, local blob storage and the mock
// generation client starts without any cloud credentials.
package cloud

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/bigquery"
	credentials "cloud.google.com/go/iam/credentials/apiv1"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/go-redis/redis/v8"
	"google.golang.org/genai"
)

// ServiceClients holds the shared connections to external services. Fields
// are nil when the matching feature is disabled.
type ServiceClients struct {
	StorageClient   *storage.Client
	PubsubClient    *pubsub.Client
	GenAIClient     *genai.Client
	BigQueryClient  *bigquery.Client
	IAMClient       *credentials.IamCredentialsClient // Signs GCS URLs without local keys.
	RedisClient     *redis.Client
	PubSubListeners map[string]*PubSubListener              // Keyed by the logical name from the config.
	AgentModels     map[string]*QuotaAwareGenerativeAIModel // Keyed by the logical name from the config.
}

// Close releases every client that was created.
func (c *ServiceClients) Close() {
	if c.StorageClient != nil {
		_ = c.StorageClient.Close()
	}
	if c.PubsubClient != nil {
		_ = c.PubsubClient.Close()
	}
	if c.BigQueryClient != nil {
		_ = c.BigQueryClient.Close()
	}
	if c.IAMClient != nil {
		_ = c.IAMClient.Close()
	}
	if c.RedisClient != nil {
		_ = c.RedisClient.Close()
	}
}

// NewCloudServiceClients creates the clients required by config.
func NewCloudServiceClients(ctx context.Context, config *Config) (cloud *ServiceClients, err error) {
	cloud = &ServiceClients{
		PubSubListeners: make(map[string]*PubSubListener),
		AgentModels:     make(map[string]*QuotaAwareGenerativeAIModel),
	}

	if config.Storage.Backend == "gcs" {
		if cloud.StorageClient, err = storage.NewClient(ctx); err != nil {
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		if config.Storage.SignedUrls {
			if cloud.IAMClient, err = credentials.NewIamCredentialsClient(ctx); err != nil {
				return nil, fmt.Errorf("failed to create iam credentials client: %w", err)
			}
		}
	}

	project := config.Application.GoogleProjectId
	if project == "" && (len(config.TopicSubscriptions) > 0 || len(config.AgentModels) > 0) {
		slog.Warn("no google project configured; pubsub listeners and agent models are disabled")
	}

	if len(config.TopicSubscriptions) > 0 && project != "" {
		if cloud.PubsubClient, err = pubsub.NewClient(ctx, config.Application.GoogleProjectId); err != nil {
			return nil, fmt.Errorf("failed to create pubsub client: %w", err)
		}
		for key, values := range config.TopicSubscriptions {
			listener, err := NewPubSubListener(cloud.PubsubClient, values.Name, nil)
			if err != nil {
				return nil, err
			}
			cloud.PubSubListeners[key] = listener
		}
	}

	if config.Sessions.Archive && config.BigQueryDataSource.DatasetName != "" {
		if cloud.BigQueryClient, err = bigquery.NewClient(ctx, config.Application.GoogleProjectId); err != nil {
			return nil, fmt.Errorf("failed to create bigquery client: %w", err)
		}
	}

	if config.Sessions.Backend == "redis" {
		cloud.RedisClient = redis.NewClient(&redis.Options{
			Addr:     config.Sessions.RedisAddr,
			Password: config.Sessions.RedisPassword,
			DB:       config.Sessions.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := cloud.RedisClient.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("failed to reach redis at %s: %w", config.Sessions.RedisAddr, err)
		}
	}

	if len(config.AgentModels) > 0 && project != "" {
		cloud.GenAIClient, err = genai.NewClient(ctx, &genai.ClientConfig{
			Project:  config.Application.GoogleProjectId,
			Location: config.Application.GoogleLocation,
			Backend:  genai.BackendVertexAI,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create genai client: %w", err)
		}
		for key, values := range config.AgentModels {
			model := &genai.GenerateContentConfig{
				Temperature:        genai.Ptr[float32](values.Temperature),
				TopP:               genai.Ptr[float32](values.TopP),
				MaxOutputTokens:    values.MaxTokens,
				SafetySettings:     DefaultSafetySettings,
				ResponseModalities: []string{"IMAGE", "TEXT"},
			}
			if values.SystemInstructions != "" {
				model.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: values.SystemInstructions}}}
			}
			cloud.AgentModels[key] = NewQuotaAwareModel(model, values.Model, cloud.GenAIClient.Models, values.RateLimit, config.Retry.Policy())
			slog.Info("configured agent model", "key", key, "model", values.Model)
		}
	}

	return cloud, nil
}

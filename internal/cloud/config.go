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

// Package cloud defines the data structures for application configuration,
// loaded from TOML files and overlaid with secrets from the environment. It
// covers the video generation API, retry policy, ffmpeg tooling, blob storage,
// session persistence, Pub/Sub triggers, BigQuery archiving and the image
// models used to prepare a battle.
//
// Structs:
//   - Generation: fal.ai queue endpoint, model and request parameters.
//   - RetryConfig: backoff defaults shared by every external call.
//   - FFmpeg: binary paths and scratch space for media post-processing.
//   - Storage: where uploads, frames and final videos are written.
//   - Sessions: session store backend and expiry policy.
//   - Config: the top-level struct that aggregates all other configuration structs.
package cloud

import (
	"time"

	"google.golang.org/genai"

	"github.com/jaycherian/gcp-go-battle-video/internal/core/retry"
)

// DefaultSafetySettings keeps the image models from blocking stylised fight scenes.
var DefaultSafetySettings = []*genai.SafetySetting{
	{
		Category:  genai.HarmCategoryDangerousContent,
		Threshold: genai.HarmBlockThresholdBlockOnlyHigh,
	},
	{
		Category:  genai.HarmCategoryHarassment,
		Threshold: genai.HarmBlockThresholdBlockOnlyHigh,
	},
	{
		Category:  genai.HarmCategoryHateSpeech,
		Threshold: genai.HarmBlockThresholdBlockOnlyHigh,
	},
	{
		Category:  genai.HarmCategorySexuallyExplicit,
		Threshold: genai.HarmBlockThresholdBlockMediumAndAbove,
	},
}

// Generation configures the asynchronous video generation API.
type Generation struct {
	QueueBaseUrl       string  `toml:"queue_base_url"`             // e.g. "https://queue.fal.run"
	Model              string  `toml:"model"`                      // Full model path used for submission.
	App                string  `toml:"app"`                        // Owner/app path used for status and result lookups.
	ApiKey             string  `toml:"api_key" env:"FAL_KEY"`      // Never committed; normally provided by the environment.
	Duration           string  `toml:"duration"`                   // Clip length, e.g. "8s".
	Resolution         string  `toml:"resolution"`                 // e.g. "720p".
	GenerateAudio      bool    `toml:"generate_audio"`             // Ask the model for a soundtrack.
	RequestsPerSecond  float64 `toml:"requests_per_second"`        // Client side rate limit.
	Burst              int     `toml:"burst"`                      // Rate limiter burst size.
	TimeoutSeconds     int     `toml:"timeout_seconds"`            // Per HTTP request timeout.
	Mock               bool    `toml:"mock" env:"GENERATION_MOCK"` // Use the in-process mock instead of the real API.
	MockPollsUntilDone int     `toml:"mock_polls_until_done"`      // Polls before a mock job completes.
	MockVideoUrl       string  `toml:"mock_video_url"`             // Video every mock job resolves to.
}

// RetryConfig holds the default backoff policy. Individual calls may tighten it.
type RetryConfig struct {
	MaxRetries        int     `toml:"max_retries"`
	InitialDelayMs    int     `toml:"initial_delay_ms"`
	MaxDelayMs        int     `toml:"max_delay_ms"`
	BackoffMultiplier float64 `toml:"backoff_multiplier"`
}

// Policy converts the configuration into a retry policy.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxRetries:        r.MaxRetries,
		InitialDelay:      time.Duration(r.InitialDelayMs) * time.Millisecond,
		MaxDelay:          time.Duration(r.MaxDelayMs) * time.Millisecond,
		BackoffMultiplier: r.BackoffMultiplier,
	}
}

// FFmpeg configures the external media tools.
type FFmpeg struct {
	FFmpegPath         string  `toml:"ffmpeg_path"`
	FFprobePath        string  `toml:"ffprobe_path"`
	ScratchDir         string  `toml:"scratch_dir"`          // Parent of the per-call scratch directories; empty means os.TempDir().
	FrameOffsetSeconds float64 `toml:"frame_offset_seconds"` // Distance from the end of the clip for the seed frame.
	DownloadTimeoutSec int     `toml:"download_timeout_seconds"`
}

// DownloadTimeout bounds a single clip download. Defaults to two minutes.
func (f FFmpeg) DownloadTimeout() time.Duration {
	if f.DownloadTimeoutSec <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(f.DownloadTimeoutSec) * time.Second
}

// Storage represents the configuration for the blob store.
type Storage struct {
	Backend          string `toml:"backend"`            // "gcs" or "local".
	Bucket           string `toml:"bucket"`             // GCS bucket for every object this service writes.
	PublicBaseUrl    string `toml:"public_base_url"`    // Prefix for public object URLs.
	LocalDir         string `toml:"local_dir"`          // Root directory for the local backend.
	ProfilesPrefix   string `toml:"profiles_prefix"`    // Player photo uploads.
	EditsPrefix      string `toml:"edits_prefix"`       // Battle preparation images.
	BattlesPrefix    string `toml:"battles_prefix"`     // Frames and final videos.
	ArenaPrefix      string `toml:"arena_prefix"`       // Objects under this prefix trigger a session when finalized.
	SignedUrls       bool   `toml:"signed_urls"`        // Return V4 signed URLs instead of public ones.
	SignedUrlMinutes int    `toml:"signed_url_minutes"` // Lifetime of signed URLs.
}

// Sessions configures the session store and its expiry.
type Sessions struct {
	Backend                string `toml:"backend"` // "file", "redis" or "memory".
	Dir                    string `toml:"dir"`
	RedisAddr              string `toml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword          string `toml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB                int    `toml:"redis_db"`
	TTLHours               int    `toml:"ttl_hours"`
	CleanupIntervalSeconds int    `toml:"cleanup_interval_seconds"`
	MaxAgeMinutes          int    `toml:"max_age_minutes"`
	Archive                bool   `toml:"archive"` // Write terminal sessions to BigQuery before expiring them.
}

// Orchestrator tunes the segment state machine.
type Orchestrator struct {
	MaxNotReadyPolls int `toml:"max_not_ready_polls"` // Polls tolerated while a completed job's result is still not ready.
}

// Battle holds the narrative and the image model used for battle preparation.
type Battle struct {
	Prompts    []string `toml:"prompts"`
	ImageModel string   `toml:"image_model"` // Key into AgentModels.
}

// BigQueryDataSource represents the configuration for the session archive.
type BigQueryDataSource struct {
	DatasetName  string `toml:"dataset"`
	ArchiveTable string `toml:"archive_table"`
}

// VertexAiLLMModel represents the configuration for a Vertex AI model.
type VertexAiLLMModel struct {
	Model              string  `toml:"model"`
	SystemInstructions string  `toml:"system_instructions"`
	Temperature        float32 `toml:"temperature"`
	TopP               float32 `toml:"top_p"`
	MaxTokens          int32   `toml:"max_tokens"`
	RateLimit          int     `toml:"rate_limit"` // requests per second
}

// TopicSubscription represents the configuration for a Pub/Sub topic subscription.
type TopicSubscription struct {
	Name             string `toml:"name"`
	DeadLetterTopic  string `toml:"dead_letter_topic"`
	TimeoutInSeconds int    `toml:"timeout_in_seconds"`
}

// Logging controls the rotating log file.
type Logging struct {
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Debug      bool   `toml:"debug"`
}

// Config is the root of the application configuration.
type Config struct {
	Application struct {
		Name                      string `toml:"name"`
		GoogleProjectId           string `toml:"google_project_id" env:"GOOGLE_CLOUD_PROJECT"`
		GoogleLocation            string `toml:"location"`
		Port                      int    `toml:"port"`
		ThreadPoolSize            int    `toml:"thread_pool_size"`
		SignerServiceAccountEmail string `toml:"signer_service_account_email"`
		EnableTelemetry           bool   `toml:"enable_telemetry"`
	} `toml:"application"`
	Generation         Generation                   `toml:"generation"`
	Retry              RetryConfig                  `toml:"retry"`
	FFmpeg             FFmpeg                       `toml:"ffmpeg"`
	Storage            Storage                      `toml:"storage"`
	Sessions           Sessions                     `toml:"sessions"`
	Orchestrator       Orchestrator                 `toml:"orchestrator"`
	Battle             Battle                       `toml:"battle"`
	BigQueryDataSource BigQueryDataSource           `toml:"big_query_data_source"`
	TopicSubscriptions map[string]TopicSubscription `toml:"topic_subscriptions"` // Keyed by a logical name, e.g. "ArenaTopic".
	AgentModels        map[string]VertexAiLLMModel  `toml:"agent_models"`        // Keyed by a logical name, e.g. "image-edit".
	Logging            Logging                      `toml:"logging"`
}

// NewConfig returns a Config populated with defaults. Values decoded from the
// TOML files afterwards take precedence.
func NewConfig() *Config {
	c := &Config{
		TopicSubscriptions: make(map[string]TopicSubscription),
		AgentModels:        make(map[string]VertexAiLLMModel),
	}
	c.Application.Name = "battle-video"
	c.Application.Port = 8080
	c.Application.ThreadPoolSize = 4

	c.Generation = Generation{
		QueueBaseUrl:       "https://queue.fal.run",
		Model:              "fal-ai/veo3/fast/image-to-video",
		App:                "fal-ai/veo3",
		Duration:           "8s",
		Resolution:         "720p",
		GenerateAudio:      true,
		RequestsPerSecond:  2,
		Burst:              4,
		TimeoutSeconds:     60,
		MockPollsUntilDone: 2,
	}
	c.Retry = RetryConfig{MaxRetries: 3, InitialDelayMs: 1000, MaxDelayMs: 30000, BackoffMultiplier: 2}
	c.FFmpeg = FFmpeg{FFmpegPath: "ffmpeg", FFprobePath: "ffprobe", FrameOffsetSeconds: 0.1, DownloadTimeoutSec: 120}
	c.Storage = Storage{
		Backend:          "local",
		LocalDir:         "public",
		PublicBaseUrl:    "http://localhost:8080/files",
		ProfilesPrefix:   "profiles",
		EditsPrefix:      "edits",
		BattlesPrefix:    "battles",
		ArenaPrefix:      "arena",
		SignedUrlMinutes: 60,
	}
	c.Sessions = Sessions{
		Backend:                "file",
		Dir:                    ".sessions",
		TTLHours:               24,
		CleanupIntervalSeconds: 300,
		MaxAgeMinutes:          60,
	}
	c.Orchestrator = Orchestrator{MaxNotReadyPolls: 20}
	c.Battle.ImageModel = "image-edit"
	c.Logging = Logging{File: "app.log", MaxSizeMB: 50, MaxBackups: 3, MaxAgeDays: 7}
	return c
}

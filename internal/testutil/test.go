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

// Package test provides helpers shared by the test suites: the test
// configuration singleton and sample Pub/Sub payloads.
package test

import (
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/jaycherian/gcp-go-battle-video/internal/cloud"
)

var (
	configOnce sync.Once
	config     *cloud.Config
)

// repoRoot walks up from the working directory to the directory holding go.mod.
func repoRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		log.Fatalf("failed to get working directory: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			log.Fatalf("go.mod not found above %s", dir)
		}
		dir = parent
	}
}

// SetupOS points the configuration loader at configs/.env.test.toml.
func SetupOS() error {
	if err := os.Setenv(cloud.EnvConfigFilePrefix, filepath.Join(repoRoot(), "configs")); err != nil {
		return err
	}
	return os.Setenv(cloud.EnvConfigRuntime, "test")
}

// GetConfig loads the test configuration once and returns the cached copy.
// Callers must not modify it; take a copy first.
func GetConfig() *cloud.Config {
	configOnce.Do(func() {
		if err := SetupOS(); err != nil {
			log.Fatalf("failed to setup environment for test: %v\n", err)
		}
		c := cloud.NewConfig()
		cloud.LoadConfig(c)
		config = c
	})
	return config
}

// GetTestArenaMessageText is a GCS notification for an arena image.
func GetTestArenaMessageText() string {
	return `{
  "kind": "storage#object",
  "id": "battle-video-assets/arena/battle-arena-001.png/1728615848664286",
  "selfLink": "https://www.googleapis.com/storage/v1/b/battle-video-assets/o/arena%2Fbattle-arena-001.png",
  "name": "arena/battle-arena-001.png",
  "bucket": "battle-video-assets",
  "generation": "1728615848664286",
  "metageneration": "1",
  "contentType": "image/png",
  "timeCreated": "2024-10-11T03:04:08.672Z",
  "updated": "2024-10-11T03:04:08.672Z",
  "storageClass": "STANDARD",
  "timeStorageClassUpdated": "2024-10-11T03:04:08.672Z",
  "size": "1048576",
  "md5Hash": "67c1rAU+1RYZzK5zp8iBkA==",
  "mediaLink": "https://storage.googleapis.com/download/storage/v1/b/battle-video-assets/o/arena%2Fbattle-arena-001.png?generation=1728615848664286&alt=media",
  "metadata": { "player1": "ninja-a", "player2": "ninja-b" },
  "crc32c": "IYeSTw==",
  "etag": "CN658+yrhYkDEAE="
}`
}

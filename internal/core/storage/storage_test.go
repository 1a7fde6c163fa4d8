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

package storage_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jaycherian/gcp-go-battle-video/internal/core/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreUploadAndDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewLocalStore(dir, "http://localhost:8080/files/")
	require.NoError(t, err)

	key := storage.FinalVideoKey("battles", "battle-1")
	url, err := store.Upload(context.Background(), key, strings.NewReader("video-bytes"), "video/mp4")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/files/battles/battle-1/final.mp4", url)

	data, err := os.ReadFile(filepath.Join(dir, "battles", "battle-1", "final.mp4"))
	require.NoError(t, err)
	assert.Equal(t, "video-bytes", string(data))

	require.NoError(t, store.Delete(context.Background(), key))
	_, err = os.Stat(filepath.Join(dir, "battles", "battle-1", "final.mp4"))
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, store.Delete(context.Background(), key))
}

func TestLocalStoreStaysInsideRoot(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "public")
	store, err := storage.NewLocalStore(dir, "http://localhost/files")
	require.NoError(t, err)

	_, err = store.Upload(context.Background(), "../escape.txt", strings.NewReader("x"), "")
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(root, "escape.txt"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "escape.txt"))
	assert.NoError(t, err)
}

func TestLocalStoreCancelledContext(t *testing.T) {
	store, err := storage.NewLocalStore(t.TempDir(), "http://localhost/files")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = store.Upload(ctx, "a.txt", strings.NewReader("x"), "")
	var upErr *storage.UploadError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, "a.txt", upErr.Key)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "battles/battle-9/frame_2.jpg", storage.FrameKey("battles", "battle-9", 2))
	assert.Equal(t, "battles/battle-9/final.mp4", storage.FinalVideoKey("battles", "battle-9"))

	key := storage.ProfileKey("profiles", "player 1/..", ".PNG")
	assert.True(t, strings.HasPrefix(key, "profiles/player_1___-"), key)
	assert.True(t, strings.HasSuffix(key, ".png"), key)
	assert.NotEqual(t, key, storage.ProfileKey("profiles", "player 1/..", ".PNG"))
}

func TestDetectContentType(t *testing.T) {
	jpeg := append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, bytes.Repeat([]byte{0}, 32)...)
	mime, ext := storage.DetectContentType(jpeg)
	assert.Equal(t, "image/jpeg", mime)
	assert.Equal(t, "jpg", ext)

	mime, ext = storage.DetectContentType([]byte("plain text"))
	assert.Equal(t, "application/octet-stream", mime)
	assert.Empty(t, ext)
}

func TestGCSStoreURL(t *testing.T) {
	store := storage.NewGCSStore(nil, "battle-assets", "")
	assert.Equal(t, "https://storage.googleapis.com/battle-assets/battles/b-1/final.mp4",
		store.URL("battles/b-1/final.mp4"))

	cdn := storage.NewGCSStore(nil, "battle-assets", "https://cdn.example.com/")
	assert.Equal(t, "https://cdn.example.com/profiles/p.jpg", cdn.URL("profiles/p.jpg"))
}

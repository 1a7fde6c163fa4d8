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

// Package storage persists the binary artifacts of a battle: uploaded player
// photos, generated images, extracted frames and stitched videos. Every
// artifact is addressed by an object key and exposed to the outside world
// (browsers and the generation service) through a URL.
//
// Implementations:
//   - GCSStore: a Cloud Storage bucket, optionally handing out V4 signed URLs
//     signed through the IAM Credentials API.
//   - LocalStore: a directory on disk served by the HTTP API under /files.
package storage

import (
	"context"
	"fmt"
	"io"
)

// BlobStore is the contract the rest of the service depends on.
type BlobStore interface {
	// Upload writes r under key and returns a URL that can be fetched
	// without further credentials.
	Upload(ctx context.Context, key string, r io.Reader, contentType string) (string, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// URL returns the unsigned, canonical URL of key.
	URL(key string) string
}

// UploadError is returned when an artifact could not be persisted.
type UploadError struct {
	Key string
	Err error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload of %s failed: %v", e.Key, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

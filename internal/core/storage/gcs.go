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

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	credentials "cloud.google.com/go/iam/credentials/apiv1"
	"cloud.google.com/go/iam/credentials/apiv1/credentialspb"
	"cloud.google.com/go/storage"
)

const gcsPublicHost = "https://storage.googleapis.com"

// GCSStore keeps artifacts in a single Cloud Storage bucket.
type GCSStore struct {
	client        *storage.Client
	bucket        string
	publicBaseUrl string

	// Signing is enabled when both are set.
	iam         *credentials.IamCredentialsClient
	signerEmail string
	signedFor   time.Duration
}

// NewGCSStore creates a store over bucket. publicBaseUrl overrides the
// default https://storage.googleapis.com/<bucket> prefix, e.g. for a CDN.
func NewGCSStore(client *storage.Client, bucket string, publicBaseUrl string) *GCSStore {
	base := strings.TrimRight(publicBaseUrl, "/")
	if base == "" {
		base = fmt.Sprintf("%s/%s", gcsPublicHost, bucket)
	}
	return &GCSStore{client: client, bucket: bucket, publicBaseUrl: base}
}

// WithSigner makes Upload return V4 signed GET URLs valid for expires,
// signed by signerEmail through the IAM Credentials API.
func (s *GCSStore) WithSigner(iam *credentials.IamCredentialsClient, signerEmail string, expires time.Duration) *GCSStore {
	s.iam = iam
	s.signerEmail = signerEmail
	s.signedFor = expires
	return s
}

func (s *GCSStore) Upload(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	if contentType == "" {
		contentType = defaultContentType
	}
	writer := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	writer.ContentType = contentType
	writer.CacheControl = "public, max-age=86400"

	written, err := io.Copy(writer, r)
	if err != nil {
		_ = writer.Close()
		return "", &UploadError{Key: key, Err: fmt.Errorf("partial write after %d bytes: %w", written, err)}
	}
	// The object only exists once Close succeeds.
	if err := writer.Close(); err != nil {
		return "", &UploadError{Key: key, Err: err}
	}
	slog.InfoContext(ctx, "uploaded object", "bucket", s.bucket, "key", key, "bytes", written)

	if s.iam == nil || s.signerEmail == "" {
		return s.URL(key), nil
	}
	signed, err := s.SignedURL(ctx, key, s.signedFor)
	if err != nil {
		return "", &UploadError{Key: key, Err: err}
	}
	return signed, nil
}

func (s *GCSStore) Delete(ctx context.Context, key string) error {
	err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete gs://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

func (s *GCSStore) URL(key string) string {
	return fmt.Sprintf("%s/%s", s.publicBaseUrl, (&url.URL{Path: key}).EscapedPath())
}

// SignedURL creates a time limited GET URL for key.
func (s *GCSStore) SignedURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	if expires <= 0 {
		expires = time.Hour
	}
	opts := &storage.SignedURLOptions{
		Scheme:         storage.SigningSchemeV4,
		Method:         "GET",
		Expires:        time.Now().Add(expires),
		GoogleAccessID: s.signerEmail,
		SignBytes: func(b []byte) ([]byte, error) {
			resp, err := s.iam.SignBlob(ctx, &credentialspb.SignBlobRequest{
				Name:    fmt.Sprintf("projects/-/serviceAccounts/%s", s.signerEmail),
				Payload: b,
			})
			if err != nil {
				return nil, fmt.Errorf("IAMClient.SignBlob: %w", err)
			}
			return resp.SignedBlob, nil
		},
	}
	u, err := s.client.Bucket(s.bucket).SignedURL(key, opts)
	if err != nil {
		return "", fmt.Errorf("Bucket(%q).SignedURL(%q): %w", s.bucket, key, err)
	}
	return u, nil
}

// Bucket returns the bucket name.
func (s *GCSStore) Bucket() string {
	return s.bucket
}

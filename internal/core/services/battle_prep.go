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

package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/jaycherian/gcp-go-battle-video/internal/cloud"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/model"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/storage"
)

// maxReferenceBytes caps a downloaded player photo.
const maxReferenceBytes = 20 << 20

// ImageGenerator produces one image from a prompt and reference images.
// *cloud.QuotaAwareGenerativeAIModel implements it.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string, references ...cloud.GeneratedImage) (*cloud.GeneratedImage, error)
}

// BattlePrepService turns two player photos into the battle's still images:
// a stance for each player, the versus screen and the arena. The arena image
// is the seed of the battle video.
type BattlePrepService struct {
	Generator   ImageGenerator
	Blobs       storage.BlobStore
	EditsPrefix string
	HTTPClient  *http.Client
}

func NewBattlePrepService(generator ImageGenerator, blobs storage.BlobStore, editsPrefix string) *BattlePrepService {
	return &BattlePrepService{
		Generator:   generator,
		Blobs:       blobs,
		EditsPrefix: editsPrefix,
		HTTPClient: &http.Client{
			Timeout:   time.Minute,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type prepJob struct {
	name       string
	prompt     string
	references []cloud.GeneratedImage
	target     *string
}

// Prepare generates the four images concurrently. An image that fails is
// reported in Failures and the others are still returned; an error is only
// returned when the photos cannot be read or every image failed.
func (s *BattlePrepService) Prepare(ctx context.Context, player1Url string, player2Url string) (*model.BattleAssets, error) {
	if player1Url == "" || player2Url == "" {
		return nil, errors.New("both player images are required")
	}

	var player1, player2 cloud.GeneratedImage
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		player1, err = s.fetchImage(gctx, player1Url)
		return err
	})
	g.Go(func() (err error) {
		player2, err = s.fetchImage(gctx, player2Url)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &model.BattleAssets{}
	jobs := []prepJob{
		{name: "player1-stance", prompt: model.Player1StancePrompt, references: []cloud.GeneratedImage{player1}, target: &out.Player1StanceUrl},
		{name: "player2-stance", prompt: model.Player2StancePrompt, references: []cloud.GeneratedImage{player2}, target: &out.Player2StanceUrl},
		{name: "versus", prompt: model.VersusPrompt, references: []cloud.GeneratedImage{player1, player2}, target: &out.VersusUrl},
		{name: "arena", prompt: model.ArenaPrompt, references: []cloud.GeneratedImage{player1, player2}, target: &out.ArenaUrl},
	}

	var mu sync.Mutex
	var all errgroup.Group
	for _, job := range jobs {
		all.Go(func() error {
			url, err := s.generate(ctx, job)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slog.WarnContext(ctx, "battle image failed", "asset", job.name, "error", err)
				if out.Failures == nil {
					out.Failures = make(map[string]string)
				}
				out.Failures[job.name] = err.Error()
				return nil
			}
			*job.target = url
			return nil
		})
	}
	_ = all.Wait()

	if len(out.Failures) == len(jobs) {
		return nil, fmt.Errorf("no battle image could be generated: %s", out.Failures["arena"])
	}
	return out, nil
}

func (s *BattlePrepService) generate(ctx context.Context, job prepJob) (string, error) {
	img, err := s.Generator.GenerateImage(ctx, job.prompt, job.references...)
	if err != nil {
		return "", err
	}
	mime, ext := storage.DetectContentType(img.Data)
	if !strings.HasPrefix(mime, "image/") {
		mime, ext = img.MIMEType, ""
	}
	return s.Blobs.Upload(ctx, storage.GeneratedKey(s.EditsPrefix, job.name, ext), bytes.NewReader(img.Data), mime)
}

// fetchImage downloads a player photo and checks that it is an image.
func (s *BattlePrepService) fetchImage(ctx context.Context, url string) (cloud.GeneratedImage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return cloud.GeneratedImage{}, fmt.Errorf("invalid image url %q: %w", url, err)
	}
	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return cloud.GeneratedImage{}, fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return cloud.GeneratedImage{}, fmt.Errorf("failed to download %s: status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReferenceBytes))
	if err != nil {
		return cloud.GeneratedImage{}, fmt.Errorf("failed to read %s: %w", url, err)
	}
	mime, _ := storage.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return cloud.GeneratedImage{}, fmt.Errorf("%s is not an image (%s)", url, mime)
	}
	return cloud.GeneratedImage{Data: data, MIMEType: mime}, nil
}

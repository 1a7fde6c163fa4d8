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
// This file decorates a Gemini model handle with a token bucket rate limiter
// and the shared retry policy, so battle preparation can fan out several image
// edits at once without tripping the Vertex AI quota.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/jaycherian/gcp-go-battle-video/internal/core/retry"
)

// GeneratedImage is one inline image returned by a model.
type GeneratedImage struct {
	Data     []byte
	MIMEType string
}

// QuotaAwareGenerativeAIModel wraps a genai model handle with a rate limiter
// and retries.
type QuotaAwareGenerativeAIModel struct {
	GenerativeContentConfig *genai.GenerateContentConfig
	ModelName               string
	ModelHandle             *genai.Models
	RateLimit               *rate.Limiter
	Retry                   retry.Policy
}

// NewQuotaAwareModel allows requestsPerSecond calls per second with the same burst.
func NewQuotaAwareModel(wrapped *genai.GenerateContentConfig, name string, handle *genai.Models, requestsPerSecond int, policy retry.Policy) *QuotaAwareGenerativeAIModel {
	if requestsPerSecond < 1 {
		requestsPerSecond = 1
	}
	return &QuotaAwareGenerativeAIModel{
		GenerativeContentConfig: wrapped,
		ModelName:               name,
		ModelHandle:             handle,
		RateLimit:               rate.NewLimiter(rate.Every(time.Second/time.Duration(requestsPerSecond)), requestsPerSecond),
		Retry:                   policy.WithShouldRetry(isRetryableGenAIError),
	}
}

// GenerateContent waits for a rate limiter token and calls the model, retrying
// quota and server errors.
func (q *QuotaAwareGenerativeAIModel) GenerateContent(ctx context.Context, content []*genai.Content) (*genai.GenerateContentResponse, error) {
	return retry.Do(ctx, "genai."+q.ModelName, q.Retry, func(ctx context.Context) (*genai.GenerateContentResponse, error) {
		if err := q.RateLimit.Wait(ctx); err != nil {
			return nil, err
		}
		return q.ModelHandle.GenerateContent(ctx, q.ModelName, content, q.GenerativeContentConfig)
	})
}

// GenerateImage sends a prompt plus reference images and returns the first
// inline image of the response.
func (q *QuotaAwareGenerativeAIModel) GenerateImage(ctx context.Context, prompt string, references ...GeneratedImage) (*GeneratedImage, error) {
	parts := make([]*genai.Part, 0, len(references)+1)
	for _, ref := range references {
		parts = append(parts, genai.NewPartFromBytes(ref.Data, ref.MIMEType))
	}
	parts = append(parts, genai.NewPartFromText(prompt))

	resp, err := q.GenerateContent(ctx, []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)})
	if err != nil {
		return nil, fmt.Errorf("image generation with %s failed: %w", q.ModelName, err)
	}
	return FirstInlineImage(resp)
}

// FirstInlineImage extracts the first inline image part from a response.
func FirstInlineImage(resp *genai.GenerateContentResponse) (*GeneratedImage, error) {
	if resp == nil {
		return nil, errors.New("empty model response")
	}
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return &GeneratedImage{Data: part.InlineData.Data, MIMEType: part.InlineData.MIMEType}, nil
			}
		}
	}
	return nil, errors.New("model response did not contain an image")
}

func isRetryableGenAIError(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}
	return retry.IsRetryable(err)
}

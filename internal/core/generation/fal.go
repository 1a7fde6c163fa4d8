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

package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jaycherian/gcp-go-battle-video/internal/cloud"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/retry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const maxErrorBody = 2048

// FalQueueClient implements Client over the fal.ai queue REST API.
type FalQueueClient struct {
	BaseUrl    string
	Model      string // submission path, e.g. fal-ai/veo3/fast/image-to-video
	App        string // owner/app path for status and result, e.g. fal-ai/veo3
	ApiKey     string
	HTTPClient *http.Client
	Limiter    *rate.Limiter

	SubmitPolicy retry.Policy
	StatusPolicy retry.Policy
	ResultPolicy retry.Policy
}

// NewFalQueueClient builds a client from configuration. base supplies the
// backoff shape; each call type then applies its own attempt budget and
// classifier.
func NewFalQueueClient(cfg cloud.Generation, base retry.Policy) *FalQueueClient {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &FalQueueClient{
		BaseUrl: strings.TrimRight(cfg.QueueBaseUrl, "/"),
		Model:   strings.Trim(cfg.Model, "/"),
		App:     strings.Trim(cfg.App, "/"),
		ApiKey:  cfg.ApiKey,
		HTTPClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		Limiter:      rate.NewLimiter(limit, burst),
		SubmitPolicy: base.WithMaxRetries(5).WithInitialDelay(2 * time.Second).WithShouldRetry(submitRetryable),
		StatusPolicy: base.WithMaxRetries(3).WithShouldRetry(retry.NotStatus(401, 403, 404)),
		ResultPolicy: base.WithMaxRetries(3).WithShouldRetry(retry.NotStatus(400, 401, 403, 404, 422)),
	}
}

// submitRetryable retries throttling, server errors and network failures.
// Any other client error is final.
func submitRetryable(err error) bool {
	if status, ok := retry.StatusOf(err); ok {
		return status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500
	}
	return retry.IsRetryable(err)
}

type submitRequest struct {
	Prompt        string `json:"prompt"`
	ImageUrl      string `json:"image_url"`
	Duration      string `json:"duration,omitempty"`
	GenerateAudio bool   `json:"generate_audio"`
	Resolution    string `json:"resolution,omitempty"`
}

type submitResponse struct {
	RequestId   string `json:"request_id"`
	StatusUrl   string `json:"status_url"`
	ResponseUrl string `json:"response_url"`
}

type statusResponse struct {
	Status        string          `json:"status"`
	QueuePosition int             `json:"queue_position"`
	Logs          []LogEntry      `json:"logs"`
	Error         string          `json:"error"`
	Response      json.RawMessage `json:"response"`
}

func (c *FalQueueClient) Submit(ctx context.Context, prompt string, seedImageUrl string, params Params) (string, error) {
	body := submitRequest{
		Prompt:        prompt,
		ImageUrl:      seedImageUrl,
		Duration:      params.Duration,
		GenerateAudio: params.GenerateAudio,
		Resolution:    params.Resolution,
	}
	endpoint := fmt.Sprintf("%s/%s", c.BaseUrl, c.Model)

	requestId, err := retry.Do(ctx, "generation.submit", c.SubmitPolicy, func(ctx context.Context) (string, error) {
		var resp submitResponse
		if err := c.doJSON(ctx, http.MethodPost, endpoint, body, &resp); err != nil {
			return "", err
		}
		if resp.RequestId == "" {
			return "", errors.New("submission response carried no request id")
		}
		return resp.RequestId, nil
	})
	if err != nil {
		return "", &SubmissionError{StatusCode: statusCodeOf(err), Err: err}
	}
	slog.InfoContext(ctx, "generation job submitted", "request_id", requestId, "model", c.Model)
	return requestId, nil
}

func (c *FalQueueClient) PollStatus(ctx context.Context, requestId string) (*StatusResult, error) {
	if requestId == "" {
		return nil, &PollError{Err: errors.New("empty request id")}
	}
	endpoint := fmt.Sprintf("%s/%s/requests/%s/status?logs=1", c.BaseUrl, c.App, url.PathEscape(requestId))

	result, err := retry.Do(ctx, "generation.status", c.StatusPolicy, func(ctx context.Context) (*StatusResult, error) {
		var resp statusResponse
		err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &resp)
		if err == nil {
			return toStatusResult(resp), nil
		}
		if statusCodeOf(err) == http.StatusNotFound {
			// Completed jobs can be evicted from the status endpoint.
			slog.WarnContext(ctx, "job not found on status endpoint, trying result", "request_id", requestId)
			if res, rerr := c.FetchResult(ctx, requestId); rerr == nil {
				return &StatusResult{Status: StatusCompleted, Result: res}, nil
			}
		}
		return nil, err
	})
	if err != nil {
		return nil, &PollError{RequestId: requestId, StatusCode: statusCodeOf(err), Err: err}
	}
	return result, nil
}

func (c *FalQueueClient) FetchResult(ctx context.Context, requestId string) (*Result, error) {
	if requestId == "" {
		return nil, errors.New("fetch result: empty request id")
	}
	endpoint := fmt.Sprintf("%s/%s/requests/%s", c.BaseUrl, c.App, url.PathEscape(requestId))

	result, err := retry.Do(ctx, "generation.result", c.ResultPolicy, func(ctx context.Context) (*Result, error) {
		var raw map[string]any
		if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &raw); err != nil {
			return nil, err
		}
		return NormalizeResult(raw)
	})
	if err != nil {
		if statusCodeOf(err) == http.StatusUnprocessableEntity {
			return nil, &ResultNotReadyError{RequestId: requestId, Err: err}
		}
		return nil, fmt.Errorf("fetch result for %s: %w", requestId, err)
	}
	return result, nil
}

func toStatusResult(resp statusResponse) *StatusResult {
	out := &StatusResult{
		Status:        ParseStatus(resp.Status),
		Logs:          resp.Logs,
		QueuePosition: resp.QueuePosition,
		Error:         resp.Error,
	}
	if out.Status == StatusCompleted && resp.Error != "" {
		out.Status = StatusFailed
	}
	if out.Status == StatusCompleted && len(resp.Response) > 0 {
		var raw map[string]any
		if json.Unmarshal(resp.Response, &raw) == nil {
			if res, err := NormalizeResult(raw); err == nil {
				out.Result = res
			}
		}
	}
	return out
}

var (
	videoUrlPaths = [][]string{{"video", "url"}, {"data", "video", "url"}, {"output", "video", "url"}, {"url"}}
	audioUrlPaths = [][]string{{"audio", "url"}, {"data", "audio", "url"}}
)

// NormalizeResult extracts the video and audio URLs from any of the result
// shapes the provider is known to return.
func NormalizeResult(raw map[string]any) (*Result, error) {
	video := firstString(raw, videoUrlPaths)
	if video == "" {
		return nil, ErrNoVideoUrl
	}
	return &Result{VideoUrl: video, AudioUrl: firstString(raw, audioUrlPaths)}, nil
}

func firstString(raw map[string]any, paths [][]string) string {
	for _, path := range paths {
		var cur any = raw
		for _, key := range path {
			m, ok := cur.(map[string]any)
			if !ok {
				cur = nil
				break
			}
			cur = m[key]
		}
		if s, ok := cur.(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func (c *FalQueueClient) doJSON(ctx context.Context, method string, endpoint string, in any, out any) error {
	if err := c.Limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.ApiKey != "" {
		req.Header.Set("Authorization", "Key "+c.ApiKey)
	}

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return &HTTPError{Method: method, Url: endpoint, StatusCode: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

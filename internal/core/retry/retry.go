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

// Package retry wraps fallible calls to external services with exponential
// backoff and jitter. Every call the orchestrator makes to the generation API,
// the blob store or the media tools goes through Do.
//
// A call is attempted up to MaxRetries times. After a failure the executor
// stops immediately when the attempt budget is spent or the error is not
// retryable; otherwise it sleeps min(delay + jitter, MaxDelay), where jitter is
// drawn uniformly from [0, 30% of delay), and multiplies delay by
// BackoffMultiplier (capped at MaxDelay) for the next round.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	DefaultMaxRetries        = 3
	DefaultInitialDelay      = 1000 * time.Millisecond
	DefaultMaxDelay          = 30000 * time.Millisecond
	DefaultBackoffMultiplier = 2.0
	JitterFraction           = 0.3
)

// Policy controls how Do retries. Zero fields take the package defaults.
type Policy struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	ShouldRetry       func(error) bool
}

// DefaultPolicy returns the package defaults with IsRetryable as the classifier.
func DefaultPolicy() Policy {
	return Policy{}.normalize()
}

// WithMaxRetries returns a copy of the policy with a different attempt budget.
func (p Policy) WithMaxRetries(n int) Policy {
	p.MaxRetries = n
	return p
}

// WithInitialDelay returns a copy of the policy with a different first delay.
func (p Policy) WithInitialDelay(d time.Duration) Policy {
	p.InitialDelay = d
	return p
}

// WithShouldRetry returns a copy of the policy with a different classifier.
func (p Policy) WithShouldRetry(fn func(error) bool) Policy {
	p.ShouldRetry = fn
	return p
}

func (p Policy) normalize() Policy {
	if p.MaxRetries < 1 {
		p.MaxRetries = DefaultMaxRetries
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = DefaultInitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.BackoffMultiplier < 1 {
		p.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if p.ShouldRetry == nil {
		p.ShouldRetry = IsRetryable
	}
	return p
}

var (
	counterOnce  sync.Once
	retryCounter metric.Int64Counter
)

func attemptCounter() metric.Int64Counter {
	counterOnce.Do(func() {
		var err error
		retryCounter, err = otel.Meter("github.com/jaycherian/gcp-go-battle-video").Int64Counter("retry.counter.attempt")
		if err != nil {
			slog.Error("failed to create retry counter", "error", err)
		}
	})
	return retryCounter
}

// Do runs operation until it succeeds or the policy gives up, and returns the
// last error unchanged so callers can still inspect it with errors.As.
// label identifies the call in logs and metrics.
func Do[T any](ctx context.Context, label string, policy Policy, operation func(context.Context) (T, error)) (T, error) {
	policy = policy.normalize()
	delay := policy.InitialDelay
	counter := attemptCounter()

	var zero T
	for attempt := 1; ; attempt++ {
		result, err := operation(ctx)
		if err == nil {
			return result, nil
		}
		if attempt >= policy.MaxRetries || !policy.ShouldRetry(err) {
			if attempt > 1 {
				slog.WarnContext(ctx, "giving up", "label", label, "attempts", attempt, "error", err)
			}
			return zero, err
		}

		wait := NextWait(delay, policy.MaxDelay, rand.Float64())
		slog.WarnContext(ctx, "retrying after failure", "label", label, "attempt", attempt,
			"max_retries", policy.MaxRetries, "wait", wait.String(), "error", err)
		if counter != nil {
			counter.Add(ctx, 1, metric.WithAttributes(attribute.String("label", label)))
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, errors.Join(err, ctx.Err())
		case <-timer.C:
		}
		delay = min(time.Duration(float64(delay)*policy.BackoffMultiplier), policy.MaxDelay)
	}
}

// NextWait computes the sleep before the next attempt: delay plus a jitter of
// r * JitterFraction * delay, capped at maxDelay. r must be in [0, 1).
func NextWait(delay, maxDelay time.Duration, r float64) time.Duration {
	jitter := time.Duration(r * JitterFraction * float64(delay))
	return min(delay+jitter, maxDelay)
}

// StatusCoder is implemented by errors that carry an HTTP status code.
type StatusCoder interface {
	HTTPStatus() int
}

// StatusOf returns the HTTP status carried by err, if any.
func StatusOf(err error) (int, bool) {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatus(), true
	}
	return 0, false
}

var retryableStatuses = map[int]bool{422: true, 429: true, 502: true, 503: true, 504: true}

var retryableMessages = []string{"rate limit", "temporarily unavailable", "unprocessable entity"}

// IsRetryable is the default classifier: connection resets, timeouts and DNS
// failures, HTTP 422/429/502/503/504, and the known transient message patterns.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if status, ok := StatusOf(err); ok && retryableStatuses[status] {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range retryableMessages {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// NotStatus returns a classifier that refuses to retry the given statuses and
// defers to IsRetryable for everything else.
func NotStatus(statuses ...int) func(error) bool {
	return func(err error) bool {
		if status, ok := StatusOf(err); ok {
			for _, s := range statuses {
				if s == status {
					return false
				}
			}
		}
		return IsRetryable(err)
	}
}

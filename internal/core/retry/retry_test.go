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

package retry_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/jaycherian/gcp-go-battle-video/internal/core/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusErr int

func (s statusErr) Error() string { return fmt.Sprintf("status %d", int(s)) }
func (s statusErr) HTTPStatus() int { return int(s) }

func fastPolicy() retry.Policy {
	return retry.Policy{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestDoRetriesTransientErrors(t *testing.T) {
	calls := 0
	out, err := retry.Do(context.Background(), "flaky", fastPolicy(), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", statusErr(429)
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, calls)
}

func TestDoStopsAtMaxRetries(t *testing.T) {
	calls := 0
	_, err := retry.Do(context.Background(), "always-503", fastPolicy(), func(context.Context) (int, error) {
		calls++
		return 0, statusErr(503)
	})
	assert.Equal(t, 3, calls)
	var se statusErr
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, 503, int(se))
}

func TestDoFailsFastOnTerminalErrors(t *testing.T) {
	calls := 0
	_, err := retry.Do(context.Background(), "auth", fastPolicy(), func(context.Context) (int, error) {
		calls++
		return 0, statusErr(401)
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoHonorsCustomClassifier(t *testing.T) {
	calls := 0
	policy := fastPolicy().WithShouldRetry(retry.NotStatus(422))
	_, err := retry.Do(context.Background(), "result", policy, func(context.Context) (int, error) {
		calls++
		return 0, statusErr(422)
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoStopsWhenContextIsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := retry.Policy{MaxRetries: 5, InitialDelay: time.Hour, MaxDelay: time.Hour}
	calls := 0
	_, err := retry.Do(ctx, "cancelled", policy, func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, statusErr(503)
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestNextWait(t *testing.T) {
	assert.Equal(t, time.Second, retry.NextWait(time.Second, 30*time.Second, 0))
	assert.Equal(t, 1300*time.Millisecond, retry.NextWait(time.Second, 30*time.Second, 1))
	assert.Equal(t, 30*time.Second, retry.NextWait(29*time.Second, 30*time.Second, 0.5))
}

func TestIsRetryable(t *testing.T) {
	cases := map[string]struct {
		err  error
		want bool
	}{
		"422":               {statusErr(422), true},
		"429":               {statusErr(429), true},
		"502":               {statusErr(502), true},
		"503":               {statusErr(503), true},
		"504":               {statusErr(504), true},
		"400":               {statusErr(400), false},
		"401":               {statusErr(401), false},
		"500":               {statusErr(500), false},
		"reset":             {fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		"timeout":           {fmt.Errorf("dial: %w", syscall.ETIMEDOUT), true},
		"dns":               {&net.DNSError{Err: "no such host", Name: "queue.fal.run"}, true},
		"rate limit text":   {errors.New("Rate limit exceeded"), true},
		"unavailable text":  {errors.New("service temporarily unavailable"), true},
		"unprocessable":     {errors.New("Unprocessable Entity"), true},
		"validation":        {errors.New("image_url is required"), false},
		"context cancelled": {context.Canceled, false},
		"nil":               {nil, false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, retry.IsRetryable(tc.err))
		})
	}
}

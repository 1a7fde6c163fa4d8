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
	"errors"
	"fmt"
	"net/http"
)

// HTTPError is a non-2xx answer from the provider.
type HTTPError struct {
	Method     string
	Url        string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.Url, e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// HTTPStatus lets the retry classifier see the status code.
func (e *HTTPError) HTTPStatus() int {
	return e.StatusCode
}

// SubmissionError means a job could not be started.
type SubmissionError struct {
	StatusCode int
	Err        error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("job submission failed: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// PollError means the status of a job could not be determined.
type PollError struct {
	RequestId  string
	StatusCode int
	Err        error
}

func (e *PollError) Error() string {
	return fmt.Sprintf("status check for %s failed: %v", e.RequestId, e.Err)
}

func (e *PollError) Unwrap() error { return e.Err }

// ResultNotReadyError is returned when the provider reports a job as
// completed but rejects the result fetch with 422.
type ResultNotReadyError struct {
	RequestId string
	Err       error
}

func (e *ResultNotReadyError) Error() string {
	return fmt.Sprintf("result for %s is not ready yet: %v", e.RequestId, e.Err)
}

func (e *ResultNotReadyError) Unwrap() error { return e.Err }

// IsTransient is always true; the next poll may succeed.
func (e *ResultNotReadyError) IsTransient() bool { return true }

// ErrNoVideoUrl is returned when a result carries no recognizable video URL.
var ErrNoVideoUrl = errors.New("no video url found in result")

// IsNotReady reports whether err is, or wraps, a *ResultNotReadyError.
func IsNotReady(err error) bool {
	var nr *ResultNotReadyError
	return errors.As(err, &nr)
}

func statusCodeOf(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	return 0
}

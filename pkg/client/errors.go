// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package client

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a failure talking to an orchestration server.
// It distinguishes authorization failures (which trigger per-server auth
// backoff) from transient failures (which feed the circuit breaker).
type Error struct {
	// Op is the logical operation: "poll", "update", "token", "metadata".
	Op string

	// Server is the base URL of the server the call was made against.
	Server string

	// StatusCode is the HTTP status code, if the server responded.
	StatusCode int

	// Message is the human-readable error description.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s", e.Op, e.Server)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s [HTTP %d]", msg, e.StatusCode)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Cause != nil && e.Message == "" {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// AuthError reports whether the failure was an authorization rejection.
func (e *Error) AuthError() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// Retryable reports whether the failure is transient and worth retrying.
func (e *Error) Retryable() bool {
	if e.AuthError() {
		return false
	}
	if e.StatusCode == 0 {
		// Network-level failure with no response.
		return true
	}
	return e.StatusCode >= 500 ||
		e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests
}

// IsAuthError reports whether err is an authorization failure from a server.
func IsAuthError(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.AuthError()
}

// IsRetryable reports whether err is a transient server or network failure.
func IsRetryable(err error) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Retryable()
	}
	// Unknown error shapes are treated as transient: the circuit breaker
	// bounds the damage if they persist.
	return true
}

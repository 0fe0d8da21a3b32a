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

// Package errors defines the typed errors shared across foreman.
// Each type carries enough structure for callers to branch on the
// condition without string matching.
package errors

import (
	"fmt"
	"time"
)

// ValidationError represents user input validation failures.
// Use this for invalid worker definitions, malformed configuration
// values, or constraint violations.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// ErrorType identifies the error category for classification.
func (e *ValidationError) ErrorType() string { return "validation" }

// IsRetryable reports whether retrying could succeed. Validation
// failures never resolve on retry.
func (e *ValidationError) IsRetryable() bool { return false }

// NotFoundError represents a resource not found error.
// Use this when a requested resource does not exist.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "worker", "task definition")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrorType identifies the error category for classification.
func (e *NotFoundError) ErrorType() string { return "not_found" }

// IsRetryable reports whether retrying could succeed.
func (e *NotFoundError) IsRetryable() bool { return false }

// ConfigError represents configuration problems.
// Use this for configuration file errors, missing settings, or invalid
// config values.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "servers", "runner.strategy")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// ErrorType identifies the error category for classification.
func (e *ConfigError) ErrorType() string { return "config" }

// IsRetryable reports whether retrying could succeed.
func (e *ConfigError) IsRetryable() bool { return false }

// TimeoutError represents operation timeouts.
// Use this when an operation exceeds its configured timeout.
type TimeoutError struct {
	// Operation describes what timed out (e.g., "task execution", "batch poll")
	Operation string

	// Duration is how long the operation ran before timing out
	Duration time.Duration

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s operation timed out after %v", e.Operation, e.Duration)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// ErrorType identifies the error category for classification.
func (e *TimeoutError) ErrorType() string { return "timeout" }

// IsRetryable reports whether retrying could succeed. Timeouts are
// usually transient.
func (e *TimeoutError) IsRetryable() bool { return true }

// ProcessError represents supervised process failures.
// Use this for spawn failures, unexpected exits, and signal errors.
type ProcessError struct {
	// Op describes what was being done to the process (e.g., "spawn", "signal", "wait")
	Op string

	// TaskType is the worker the process belongs to
	TaskType string

	// PID is the process identifier, if one was assigned
	PID int

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *ProcessError) Error() string {
	msg := fmt.Sprintf("process %s failed", e.Op)
	if e.TaskType != "" {
		msg = fmt.Sprintf("%s for worker %s", msg, e.TaskType)
	}
	if e.PID > 0 {
		msg = fmt.Sprintf("%s (pid %d)", msg, e.PID)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ProcessError) Unwrap() error {
	return e.Cause
}

// ErrorType identifies the error category for classification.
func (e *ProcessError) ErrorType() string { return "process" }

// IsRetryable reports whether retrying could succeed. Process failures
// are retried by the supervisor's restart loop.
func (e *ProcessError) IsRetryable() bool { return true }

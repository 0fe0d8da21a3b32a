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

package task

import (
	"errors"
	"fmt"
)

// NonRetryableError marks a handler error as terminal: the server must not
// re-deliver the task. Wrap with NonRetryable or return the type directly.
type NonRetryableError struct {
	Cause error
}

// Error implements the error interface.
func (e *NonRetryableError) Error() string {
	if e.Cause == nil {
		return "non-retryable task failure"
	}
	return e.Cause.Error()
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *NonRetryableError) Unwrap() error {
	return e.Cause
}

// NonRetryable wraps an error so the resulting task failure is terminal.
func NonRetryable(err error) error {
	return &NonRetryableError{Cause: err}
}

// NonRetryablef is a convenience wrapper for formatted terminal failures.
func NonRetryablef(format string, args ...any) error {
	return &NonRetryableError{Cause: fmt.Errorf(format, args...)}
}

// ResultFor maps a handler's return value to a Result:
//
//   - a *Result is used verbatim (identity fields filled in if missing)
//   - an *InProgress sentinel yields IN_PROGRESS with the sentinel's
//     callback delay and partial output
//   - a map[string]any becomes the output data of a COMPLETED result
//   - any other value, including nil, is wrapped as {"result": value}
//   - a *NonRetryableError yields FAILED_WITH_TERMINAL_ERROR
//   - any other error yields FAILED with the error message as the reason
func ResultFor(t *Task, workerID string, value any, err error) *Result {
	if err != nil {
		r := NewResult(t, workerID)
		r.ReasonForIncompletion = err.Error()
		var terminal *NonRetryableError
		if errors.As(err, &terminal) {
			r.Status = StatusFailedWithTerminalError
		} else {
			r.Status = StatusFailed
		}
		return r
	}

	switch v := value.(type) {
	case *Result:
		if v.TaskID == "" {
			v.TaskID = t.TaskID
		}
		if v.WorkflowInstanceID == "" {
			v.WorkflowInstanceID = t.WorkflowInstanceID
		}
		if v.WorkerID == "" {
			v.WorkerID = workerID
		}
		return v
	case *InProgress:
		r := NewResult(t, workerID)
		r.Status = StatusInProgress
		r.CallbackAfterSeconds = v.CallbackAfterSeconds
		r.OutputData = v.OutputData
		return r
	case map[string]any:
		r := NewResult(t, workerID)
		r.Status = StatusCompleted
		r.OutputData = v
		return r
	default:
		r := NewResult(t, workerID)
		r.Status = StatusCompleted
		r.OutputData = map[string]any{"result": value}
		return r
	}
}

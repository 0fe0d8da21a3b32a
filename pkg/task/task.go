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

// Package task defines the unit of work exchanged with the orchestration
// server and the mapping from handler return values to reported results.
package task

import (
	"time"
)

// Status represents the outcome of a task execution as reported to the server.
type Status string

const (
	StatusCompleted               Status = "COMPLETED"
	StatusFailed                  Status = "FAILED"
	StatusFailedWithTerminalError Status = "FAILED_WITH_TERMINAL_ERROR"
	StatusInProgress              Status = "IN_PROGRESS"
)

// Task is one unit of work fetched from the orchestration server.
// A Task is immutable once received; it is owned exclusively by the
// execution unit that polled it until its result is updated.
type Task struct {
	TaskID                 string         `json:"taskId"`
	WorkflowInstanceID     string         `json:"workflowInstanceId"`
	TaskDefName            string         `json:"taskDefName"`
	InputData              map[string]any `json:"inputData,omitempty"`
	PollCount              int            `json:"pollCount,omitempty"`
	ResponseTimeoutSeconds int            `json:"responseTimeoutSeconds,omitempty"`
}

// ResponseTimeout returns the execution deadline for the task, or zero if
// the server did not set one.
func (t *Task) ResponseTimeout() time.Duration {
	if t.ResponseTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(t.ResponseTimeoutSeconds) * time.Second
}

// Log is a single timestamped log line attached to a task result.
type Log struct {
	Log         string `json:"log"`
	CreatedTime int64  `json:"createdTime"` // epoch milliseconds
}

// NewLog creates a log entry stamped with the current time.
func NewLog(line string) Log {
	return Log{Log: line, CreatedTime: time.Now().UnixMilli()}
}

// Result is the outcome of executing a Task, reported back to the server.
// A Result is constructed by the execution unit that owns the task and is
// never shared between goroutines after creation.
type Result struct {
	TaskID                string         `json:"taskId"`
	WorkflowInstanceID    string         `json:"workflowInstanceId"`
	WorkerID              string         `json:"workerId"`
	Status                Status         `json:"status"`
	OutputData            map[string]any `json:"outputData,omitempty"`
	Logs                  []Log          `json:"logs,omitempty"`
	CallbackAfterSeconds  int64          `json:"callbackAfterSeconds,omitempty"`
	ReasonForIncompletion string         `json:"reasonForIncompletion,omitempty"`
}

// NewResult creates a Result for the given task with identity fields filled in.
func NewResult(t *Task, workerID string) *Result {
	return &Result{
		TaskID:             t.TaskID,
		WorkflowInstanceID: t.WorkflowInstanceID,
		WorkerID:           workerID,
	}
}

// AddLog appends a timestamped log line to the result.
func (r *Result) AddLog(line string) {
	r.Logs = append(r.Logs, NewLog(line))
}

// InProgress is the "still working" sentinel a handler returns to request
// re-delivery of a long-running task. The server re-delivers the task after
// CallbackAfterSeconds with its poll count incremented.
type InProgress struct {
	CallbackAfterSeconds int64
	OutputData           map[string]any
}

// Handler executes one task. The return value is mapped to a Result by the
// runner; see ResultFor for the mapping rules.
type Handler func(ctx *Context, t *Task) (any, error)

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

// Package client defines the contracts the runner consumes to talk to an
// orchestration server, and an HTTP implementation of them.
//
// The runner never depends on the transport: it is written against
// PollClient and UpdateClient, with errors classified through this
// package's Error type (authorization vs. transient vs. other).
package client

import (
	"context"
	"time"

	"github.com/tombee/foreman/pkg/task"
)

// PollClient fetches batches of pending tasks for one task type.
type PollClient interface {
	// BatchPoll asks the server for up to count tasks of the given type.
	// It may return fewer tasks than requested, or none. The timeout is
	// how long the server may hold the long poll open.
	BatchPoll(ctx context.Context, taskType, workerID string, count int, timeout time.Duration, domain *string) ([]task.Task, error)
}

// UpdateClient reports task results back to the server.
type UpdateClient interface {
	// UpdateTask reports a result. The server may hand back a chained
	// next task for the worker that just freed capacity; a nil task with
	// nil error is a plain acknowledgement.
	UpdateTask(ctx context.Context, r *task.Result) (*task.Task, error)

	// UpdateTaskV1 reports a result without requesting a chained task.
	UpdateTaskV1(ctx context.Context, r *task.Result) error
}

// TaskDef is the minimal task definition metadata registered with the
// server on behalf of a worker.
type TaskDef struct {
	Name                   string `json:"name"`
	Description            string `json:"description,omitempty"`
	RetryCount             int    `json:"retryCount,omitempty"`
	TimeoutSeconds         int    `json:"timeoutSeconds,omitempty"`
	ResponseTimeoutSeconds int    `json:"responseTimeoutSeconds,omitempty"`
	OwnerEmail             string `json:"ownerEmail,omitempty"`
}

// MetadataClient registers task definitions. Registration is best effort:
// callers log failures and never let them reach the poll cycle.
type MetadataClient interface {
	RegisterTaskDef(ctx context.Context, defs ...TaskDef) error
}

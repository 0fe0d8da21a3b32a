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

// Package events provides a synchronous pub/sub bus for task lifecycle
// events. Listeners are invoked in the call stack that produced the event;
// a panicking listener is isolated and never affects the runner or other
// listeners.
package events

import (
	"time"

	"github.com/tombee/foreman/pkg/task"
)

// Type identifies the kind of lifecycle event.
type Type string

const (
	TypePollStarted        Type = "poll.started"
	TypePollCompleted      Type = "poll.completed"
	TypePollFailure        Type = "poll.failure"
	TypeCircuitOpened      Type = "circuit.opened"
	TypeExecutionStarted   Type = "execution.started"
	TypeExecutionCompleted Type = "execution.completed"
	TypeExecutionFailure   Type = "execution.failure"
	TypeUpdateFailure      Type = "update.failure"
)

// Event is an immutable record of one task lifecycle occurrence.
type Event struct {
	Type      Type
	Timestamp time.Time

	// TaskType is the task definition name being polled or executed.
	TaskType string
	// WorkerID identifies the worker instance.
	WorkerID string
	// Server names the server target involved, when the event is tied to
	// one (polls and updates).
	Server string

	// TaskID and WorkflowID are set for execution and update events.
	TaskID     string
	WorkflowID string

	// TaskCount is the number of tasks returned, for poll.completed.
	TaskCount int

	// Duration is how long the poll or execution took.
	Duration time.Duration

	// Err is the causing error for failure events.
	Err error

	// Result carries the unreported task result for update.failure events,
	// so downstream listeners can reconcile or persist it.
	Result *task.Result
}

// Listener consumes lifecycle events. Listeners run synchronously; a
// listener that panics is recovered and logged by the dispatcher.
type Listener func(e Event)

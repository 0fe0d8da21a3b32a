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

// Package worker describes one task type's execution capability: its
// handler, concurrency limit, poll cadence, and routing configuration.
package worker

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tombee/foreman/pkg/task"
)

// Built-in defaults, overridable per worker and via environment.
const (
	DefaultConcurrency  = 1
	DefaultPollInterval = 100 * time.Millisecond
)

// Worker binds a task definition name to a handler along with the runtime
// configuration governing how tasks of that type are polled and executed.
//
// All fields except the pause flag are resolved once at construction time
// and immutable afterwards. Resolution order for each knob: explicit option,
// per-task environment override, generic environment override, built-in
// default (see env.go for the variable names).
type Worker struct {
	// TaskDefName is the primary task definition name this worker serves.
	TaskDefName string

	// Aliases are additional task definition names served by the same
	// handler. Each alias gets its own poll loop at runtime.
	Aliases []string

	// Handler executes one task.
	Handler task.Handler

	// Concurrency bounds in-flight task executions across all servers.
	Concurrency int

	// PollInterval is the target cadence between polls when the server
	// has work; empty polls back off adaptively up to this interval.
	PollInterval time.Duration

	// Domain optionally restricts which pool of tasks this worker polls.
	Domain *string

	// WorkerID identifies this worker instance to the server.
	// Defaults to the hostname with a random suffix.
	WorkerID string

	// LeaseExtend enables in-progress heartbeats for executions that run
	// close to the task's response timeout, preventing server-side
	// reassignment of long-running tasks.
	LeaseExtend bool

	// RegisterTaskDef requests best-effort registration of the task
	// definition with the server at startup.
	RegisterTaskDef bool

	paused atomic.Bool
}

// New resolves a worker configuration for the given task definition name.
func New(taskDefName string, handler task.Handler, opts ...Option) (*Worker, error) {
	if taskDefName == "" {
		return nil, fmt.Errorf("worker: task definition name is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("worker %s: handler is required", taskDefName)
	}

	w := &Worker{
		TaskDefName: taskDefName,
		Handler:     handler,
	}
	for _, opt := range opts {
		opt(w)
	}

	resolveFromEnv(w)

	if w.Concurrency <= 0 {
		w.Concurrency = DefaultConcurrency
	}
	if w.PollInterval <= 0 {
		w.PollInterval = DefaultPollInterval
	}
	if w.WorkerID == "" {
		w.WorkerID = defaultWorkerID()
	}

	return w, nil
}

// Names returns the primary task definition name followed by any aliases.
func (w *Worker) Names() []string {
	return append([]string{w.TaskDefName}, w.Aliases...)
}

// Paused reports whether polling is currently suspended for this worker.
func (w *Worker) Paused() bool {
	return w.paused.Load()
}

// SetPaused suspends or resumes polling. Safe to call while the worker is
// running; in-flight executions are unaffected.
func (w *Worker) SetPaused(paused bool) {
	w.paused.Store(paused)
}

// defaultWorkerID derives a worker identity from the hostname. A short
// random suffix keeps IDs distinct when several processes share a host.
func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

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

package worker

import "time"

// Option configures a Worker at construction time.
type Option func(*Worker)

// WithAliases registers additional task definition names for the worker.
func WithAliases(names ...string) Option {
	return func(w *Worker) {
		w.Aliases = append(w.Aliases, names...)
	}
}

// WithConcurrency sets the maximum number of concurrently executing tasks.
func WithConcurrency(n int) Option {
	return func(w *Worker) {
		w.Concurrency = n
	}
}

// WithPollInterval sets the target poll cadence.
func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) {
		w.PollInterval = d
	}
}

// WithDomain restricts the worker to a task domain.
func WithDomain(domain string) Option {
	return func(w *Worker) {
		w.Domain = &domain
	}
}

// WithWorkerID overrides the derived worker identity.
func WithWorkerID(id string) Option {
	return func(w *Worker) {
		w.WorkerID = id
	}
}

// WithPaused starts the worker in the paused state.
func WithPaused() Option {
	return func(w *Worker) {
		w.paused.Store(true)
	}
}

// WithLeaseExtension enables in-progress heartbeats for long executions.
func WithLeaseExtension() Option {
	return func(w *Worker) {
		w.LeaseExtend = true
	}
}

// WithTaskDefRegistration requests best-effort task definition registration
// at startup.
func WithTaskDefRegistration() Option {
	return func(w *Worker) {
		w.RegisterTaskDef = true
	}
}

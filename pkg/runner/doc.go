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

// Package runner drives workers against one or more task servers.
//
// A runner owns one worker definition and repeats the same cycle: poll a
// server for tasks, execute the worker's handler on each, and report the
// results back. Three strategies trade off latency against simplicity:
//
//   - PoolRunner: a fixed pool of goroutines, each looping
//     poll-execute-update on its own. A slot stuck on a slow task never
//     blocks the others from polling.
//   - BatchRunner: a single loop that polls in batches sized to free
//     capacity and fans tasks out to short-lived goroutines.
//   - ChainedRunner: the batch strategy plus a fast path where reporting
//     a result can hand back the next task of the same type, skipping a
//     poll round trip.
//
// Concurrency in the batch and chained strategies is bounded by a permit
// pool. A permit is held for a task's whole lifecycle, execution and
// result reporting included, so the configured concurrency is a true
// ceiling on in-flight work.
//
// Each server is wrapped in a ServerTarget carrying its own circuit
// breaker and auth backoff, so one failing server degrades only its own
// share of polling.
package runner

import "fmt"

// NewRunner builds the runner strategy named by kind: "pool", "batch",
// or "chained". An empty kind selects the batch strategy.
func NewRunner(kind string, cfg Config) (Runner, error) {
	switch kind {
	case "", "batch":
		return NewBatchRunner(cfg)
	case "pool":
		return NewPoolRunner(cfg)
	case "chained":
		return NewChainedRunner(cfg)
	}
	return nil, fmt.Errorf("runner: unknown strategy %q", kind)
}

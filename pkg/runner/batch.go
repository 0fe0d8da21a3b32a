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

package runner

import (
	"context"
)

// BatchRunner polls in batches sized to the currently free permits and
// dispatches each polled task to its own goroutine. One loop drives the
// whole worker; concurrency is bounded only by the permit pool.
type BatchRunner struct {
	*core
}

// NewBatchRunner builds a batch-polling runner from cfg.
func NewBatchRunner(cfg Config) (*BatchRunner, error) {
	c, err := newCore(cfg)
	if err != nil {
		return nil, err
	}
	return &BatchRunner{core: c}, nil
}

// RunOnce performs one scheduling step: wait out any empty-poll backoff,
// poll for as many tasks as there are free permits, and dispatch each one.
// Tasks run on background goroutines; RunOnce returns once they are
// dispatched, not when they finish.
func (r *BatchRunner) RunOnce(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.w.Paused() {
		sleep(ctx, r.w.PollInterval)
		return nil
	}

	slots := r.availableSlots()
	if slots == 0 {
		sleep(ctx, r.cfg.IdleSleep)
		return nil
	}

	sleep(ctx, r.pollDelay())
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, p := range r.pollRound(ctx, slots) {
		if !r.tryAcquire() {
			// Overpolled relative to free permits. The task is left to
			// time out and be rescheduled server-side rather than
			// queueing it past the limit.
			r.logger.Warn("dropping task polled beyond permit capacity",
				"task_id", p.task.TaskID, "server", p.target.Name())
			continue
		}
		r.wg.Add(1)
		// Detached from ctx so a shutdown mid-execution still lets the
		// handler finish and its result reach the server during drain.
		execCtx := context.WithoutCancel(ctx)
		go func(p polled) {
			defer r.wg.Done()
			defer r.release()
			r.processTask(execCtx, p)
		}(p)
	}
	return nil
}

// Run loops RunOnce until ctx is cancelled, then waits for all in-flight
// executions to finish. In-flight tasks are not abandoned on shutdown;
// their handlers run to completion and their results are still reported.
func (r *BatchRunner) Run(ctx context.Context) error {
	r.logger.Info("batch runner started", "concurrency", r.w.Concurrency)
	for ctx.Err() == nil {
		if err := r.RunOnce(ctx); err != nil {
			break
		}
	}
	r.logger.Info("batch runner draining")
	r.wg.Wait()
	r.logger.Info("batch runner stopped")
	return ctx.Err()
}

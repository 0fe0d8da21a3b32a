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
	"sync"
	"time"
)

// PoolRunner runs a fixed pool of goroutines, one per concurrency slot.
// Each pool member loops poll-execute-update independently, so a slot
// blocked on a slow task never prevents the others from polling. Polls
// are single-task polls; the batch split logic still spreads them across
// targets round-robin via the shared availability check.
type PoolRunner struct {
	*core

	// rr rotates poll attempts across targets so every pool member does
	// not hammer the first healthy server.
	rrMu sync.Mutex
	rr   int
}

// NewPoolRunner builds a goroutine-pool runner from cfg.
func NewPoolRunner(cfg Config) (*PoolRunner, error) {
	c, err := newCore(cfg)
	if err != nil {
		return nil, err
	}
	return &PoolRunner{core: c}, nil
}

// nextTarget returns the next available target in rotation, or nil when
// every target is backing off.
func (r *PoolRunner) nextTarget() *ServerTarget {
	r.rrMu.Lock()
	defer r.rrMu.Unlock()
	for range r.cfg.Targets {
		t := r.cfg.Targets[r.rr%len(r.cfg.Targets)]
		r.rr++
		if t.Allow() {
			return t
		}
	}
	return nil
}

// RunOnce performs one poll-execute-update cycle on the calling goroutine.
// It polls for a single task and, if one arrives, executes it and reports
// the result before returning.
func (r *PoolRunner) RunOnce(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.w.Paused() {
		sleep(ctx, r.w.PollInterval)
		return nil
	}

	sleep(ctx, r.pollDelay())
	if err := ctx.Err(); err != nil {
		return err
	}

	target := r.nextTarget()
	if target == nil {
		r.lastPollNano.Store(time.Now().UnixNano())
		r.emptyPolls.Add(1)
		return nil
	}

	for _, p := range r.pollFrom(ctx, target, 1) {
		// Detached from ctx so a shutdown mid-execution still lets the
		// handler finish and its result reach the server.
		r.processTask(context.WithoutCancel(ctx), p)
	}
	return nil
}

// Run starts Concurrency pool members, each looping RunOnce until ctx is
// cancelled, and waits for them all to finish. A member's in-flight task
// completes and reports before the member exits.
func (r *PoolRunner) Run(ctx context.Context) error {
	r.logger.Info("pool runner started", "pool_size", r.w.Concurrency)
	var wg sync.WaitGroup
	for i := 0; i < r.w.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				if err := r.RunOnce(ctx); err != nil {
					return
				}
			}
		}()
	}
	wg.Wait()
	r.logger.Info("pool runner stopped")
	return ctx.Err()
}

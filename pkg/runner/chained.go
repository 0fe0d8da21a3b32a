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
)

// ChainedRunner is the batch strategy with a chained-task fast path: it
// reports results through the update call that can return the next
// schedulable task of the same type, and executes that task without a
// poll round trip. Next tasks that arrive while all permits are busy are
// queued FIFO and drained ahead of the next poll.
type ChainedRunner struct {
	*core

	qmu   sync.Mutex
	queue []polled
}

// NewChainedRunner builds a chained-execution runner from cfg.
func NewChainedRunner(cfg Config) (*ChainedRunner, error) {
	c, err := newCore(cfg)
	if err != nil {
		return nil, err
	}
	c.useUpdateV2 = true
	return &ChainedRunner{core: c}, nil
}

func (r *ChainedRunner) enqueue(p polled) {
	r.qmu.Lock()
	r.queue = append(r.queue, p)
	r.qmu.Unlock()
}

func (r *ChainedRunner) dequeue() (polled, bool) {
	r.qmu.Lock()
	defer r.qmu.Unlock()
	if len(r.queue) == 0 {
		return polled{}, false
	}
	p := r.queue[0]
	r.queue = r.queue[1:]
	return p, true
}

// QueuedTasks reports how many chained tasks are waiting for a permit.
func (r *ChainedRunner) QueuedTasks() int {
	r.qmu.Lock()
	defer r.qmu.Unlock()
	return len(r.queue)
}

// dispatch runs p on a background goroutine under a permit the caller has
// already acquired, chaining into any next task the update returns.
func (r *ChainedRunner) dispatch(ctx context.Context, p polled) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			next := r.processTask(ctx, p)
			if next == nil {
				break
			}
			// The permit stays held across the chain: a chained task
			// is a continuation of the same execution slot.
			p = polled{task: *next, target: p.target}
		}
		r.release()
	}()
}

// RunOnce drains queued chained tasks into free permits, then polls for
// whatever capacity remains. Queued tasks always win over fresh polls so
// chains finish before new work is taken on.
func (r *ChainedRunner) RunOnce(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.w.Paused() {
		sleep(ctx, r.w.PollInterval)
		return nil
	}

	execCtx := context.WithoutCancel(ctx)
	for r.tryAcquire() {
		p, ok := r.dequeue()
		if !ok {
			r.release()
			break
		}
		r.dispatch(execCtx, p)
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
			r.enqueue(p)
			continue
		}
		r.dispatch(execCtx, p)
	}
	return nil
}

// Run loops RunOnce until ctx is cancelled, then waits for in-flight
// chains to complete. Tasks still queued at shutdown are abandoned to the
// server's reschedule timeout; they were never started and carry no
// result to lose.
func (r *ChainedRunner) Run(ctx context.Context) error {
	r.logger.Info("chained runner started", "concurrency", r.w.Concurrency)
	for ctx.Err() == nil {
		if err := r.RunOnce(ctx); err != nil {
			break
		}
	}
	r.logger.Info("chained runner draining", "queued", r.QueuedTasks())
	r.wg.Wait()
	r.logger.Info("chained runner stopped")
	return ctx.Err()
}

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
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tombee/foreman/pkg/events"
	"github.com/tombee/foreman/pkg/task"
	"github.com/tombee/foreman/pkg/worker"
)

// Default tuning values shared by all strategies.
const (
	DefaultBatchPollTimeout    = 5 * time.Second
	DefaultPollTimeout         = 100 * time.Millisecond
	DefaultUpdateRetryAttempts = 4
	DefaultUpdateRetryBackoff  = 10 * time.Second
	DefaultIdleSleep           = time.Millisecond
)

// Runner drives one worker's poll/execute/update lifecycle. The three
// strategies (PoolRunner, BatchRunner, ChainedRunner) share this contract:
// RunOnce performs at most one scheduling decision and returns without
// blocking indefinitely; Run loops RunOnce until the context is cancelled,
// then drains in-flight executions.
type Runner interface {
	RunOnce(ctx context.Context) error
	Run(ctx context.Context) error
}

// Config configures a runner for one task definition name.
type Config struct {
	// Worker supplies the handler and concurrency/poll configuration.
	Worker *worker.Worker

	// TaskType is the task definition name to poll. Defaults to the
	// worker's primary name; aliases get their own runner.
	TaskType string

	// Targets are the server endpoints to poll, in configuration order.
	// At least one is required.
	Targets []*ServerTarget

	// Events receives lifecycle events. Optional.
	Events *events.Dispatcher

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// BatchPollTimeout is the hard ceiling on one poll round across all
	// targets, so one slow server cannot stall the others.
	BatchPollTimeout time.Duration

	// PollTimeout is the server-side long-poll duration passed with each
	// batch poll request.
	PollTimeout time.Duration

	// UpdateRetryAttempts is the total number of result update attempts
	// before the result is declared lost.
	UpdateRetryAttempts int

	// UpdateRetryBackoff is the base delay between update attempts;
	// attempt n waits n times this value.
	UpdateRetryBackoff time.Duration

	// IdleSleep is the pause when no permits are available, a deliberate
	// backpressure point rather than a busy wait.
	IdleSleep time.Duration
}

func (c Config) withDefaults() (Config, error) {
	if c.Worker == nil {
		return c, errors.New("runner: worker is required")
	}
	if len(c.Targets) == 0 {
		return c, fmt.Errorf("runner %s: at least one server target is required", c.Worker.TaskDefName)
	}
	if c.TaskType == "" {
		c.TaskType = c.Worker.TaskDefName
	}
	if c.Events == nil {
		c.Events = events.NewDispatcher(c.Logger)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.BatchPollTimeout <= 0 {
		c.BatchPollTimeout = DefaultBatchPollTimeout
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}
	if c.UpdateRetryAttempts <= 0 {
		c.UpdateRetryAttempts = DefaultUpdateRetryAttempts
	}
	if c.UpdateRetryBackoff <= 0 {
		c.UpdateRetryBackoff = DefaultUpdateRetryBackoff
	}
	if c.IdleSleep <= 0 {
		c.IdleSleep = DefaultIdleSleep
	}
	return c, nil
}

// polled pairs a task with the target it came from: the result must be
// reported to the same server.
type polled struct {
	task   task.Task
	target *ServerTarget
}

// core holds the state shared by all runner strategies: the permit pool,
// empty-poll bookkeeping, and the execute and update steps.
type core struct {
	cfg    Config
	w      *worker.Worker
	logger *slog.Logger

	// permits is a counting semaphore bounding in-flight executions.
	// A permit is held for a task's full execute+update lifecycle.
	permits chan struct{}

	wg sync.WaitGroup

	emptyPolls   atomic.Int32
	lastPollNano atomic.Int64

	// useUpdateV2 selects the update call that can hand back a chained
	// next task (Strategy C).
	useUpdateV2 bool
}

func newCore(cfg Config) (*core, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	return &core{
		cfg:     cfg,
		w:       cfg.Worker,
		logger:  cfg.Logger.With("task_type", cfg.TaskType, "worker_id", cfg.Worker.WorkerID),
		permits: make(chan struct{}, cfg.Worker.Concurrency),
	}, nil
}

// availableSlots returns how many more executions may start right now.
func (c *core) availableSlots() int {
	return cap(c.permits) - len(c.permits)
}

// tryAcquire takes a permit if one is immediately available.
func (c *core) tryAcquire() bool {
	select {
	case c.permits <- struct{}{}:
		return true
	default:
		return false
	}
}

func (c *core) release() {
	<-c.permits
}

// pollDelay returns how long to wait before the next poll, honoring the
// adaptive empty-poll backoff measured from the last poll time.
func (c *core) pollDelay() time.Duration {
	backoff := emptyPollBackoff(int(c.emptyPolls.Load()), c.w.PollInterval)
	if backoff == 0 {
		return 0
	}
	last := c.lastPollNano.Load()
	if last == 0 {
		return 0
	}
	elapsed := time.Since(time.Unix(0, last))
	if elapsed >= backoff {
		return 0
	}
	return backoff - elapsed
}

// sleep waits for d or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// pollRound issues one batch poll for up to slots tasks, split as evenly
// as possible across the currently available targets and polled
// concurrently under a shared deadline.
func (c *core) pollRound(ctx context.Context, slots int) []polled {
	var targets []*ServerTarget
	for _, t := range c.cfg.Targets {
		if t.Allow() {
			targets = append(targets, t)
		}
	}

	c.lastPollNano.Store(time.Now().UnixNano())

	if len(targets) == 0 {
		c.emptyPolls.Add(1)
		return nil
	}

	c.cfg.Events.Emit(events.Event{
		Type:     events.TypePollStarted,
		TaskType: c.cfg.TaskType,
		WorkerID: c.w.WorkerID,
	})

	pollCtx, cancel := context.WithTimeout(ctx, c.cfg.BatchPollTimeout)
	defer cancel()

	counts := splitSlots(slots, len(targets))

	var mu sync.Mutex
	var out []polled
	var wg sync.WaitGroup

	for i, target := range targets {
		if counts[i] == 0 {
			continue
		}
		wg.Add(1)
		go func(target *ServerTarget, count int) {
			defer wg.Done()
			got := c.pollTarget(pollCtx, target, count)
			if len(got) == 0 {
				return
			}
			mu.Lock()
			out = append(out, got...)
			mu.Unlock()
		}(target, counts[i])
	}
	wg.Wait()

	if len(out) == 0 {
		c.emptyPolls.Add(1)
	} else {
		c.emptyPolls.Store(0)
	}
	return out
}

// pollTarget issues one batch poll against a single target, recording the
// outcome on its circuit breaker and emitting the per-target poll event.
func (c *core) pollTarget(ctx context.Context, target *ServerTarget, count int) []polled {
	start := time.Now()
	tasks, err := target.poll.BatchPoll(ctx, c.cfg.TaskType, c.w.WorkerID, count, c.cfg.PollTimeout, c.w.Domain)
	duration := time.Since(start)
	if err != nil {
		opened := target.RecordFailure(err)
		c.cfg.Events.Emit(events.Event{
			Type:     events.TypePollFailure,
			TaskType: c.cfg.TaskType,
			WorkerID: c.w.WorkerID,
			Server:   target.Name(),
			Duration: duration,
			Err:      err,
		})
		if opened {
			c.cfg.Events.Emit(events.Event{
				Type:     events.TypeCircuitOpened,
				TaskType: c.cfg.TaskType,
				WorkerID: c.w.WorkerID,
				Server:   target.Name(),
				Err:      err,
			})
			c.logger.Warn("circuit opened", "server", target.Name(), "error", err)
		} else {
			c.logger.Warn("batch poll failed", "server", target.Name(), "error", err)
		}
		return nil
	}
	target.RecordSuccess()
	c.cfg.Events.Emit(events.Event{
		Type:      events.TypePollCompleted,
		TaskType:  c.cfg.TaskType,
		WorkerID:  c.w.WorkerID,
		Server:    target.Name(),
		TaskCount: len(tasks),
		Duration:  duration,
	})
	out := make([]polled, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, polled{task: t, target: target})
	}
	return out
}

// pollFrom is the single-target variant of pollRound used by the pool
// strategy: same deadline, events, and empty-poll bookkeeping, one target.
func (c *core) pollFrom(ctx context.Context, target *ServerTarget, count int) []polled {
	c.lastPollNano.Store(time.Now().UnixNano())
	c.cfg.Events.Emit(events.Event{
		Type:     events.TypePollStarted,
		TaskType: c.cfg.TaskType,
		WorkerID: c.w.WorkerID,
	})

	pollCtx, cancel := context.WithTimeout(ctx, c.cfg.BatchPollTimeout)
	defer cancel()

	out := c.pollTarget(pollCtx, target, count)
	if len(out) == 0 {
		c.emptyPolls.Add(1)
	} else {
		c.emptyPolls.Store(0)
	}
	return out
}

// processTask runs the full lifecycle for one polled task: execute the
// handler, then report the result to the task's origin server. The
// returned task is a chained next task from a V2 update, if any.
// The caller must hold a permit for the duration.
func (c *core) processTask(ctx context.Context, p polled) *task.Task {
	result := c.executeTask(ctx, &p.task, p.target)
	return c.updateResult(ctx, p.target, result)
}

// executeTask invokes the worker's handler for one task and maps the
// outcome to a task.Result. The handler runs in its own goroutine so a
// response timeout can be enforced without forcibly cancelling it; an
// overrunning handler's eventual return value is discarded.
func (c *core) executeTask(ctx context.Context, t *task.Task, target *ServerTarget) *task.Result {
	start := time.Now()
	c.cfg.Events.Emit(events.Event{
		Type:       events.TypeExecutionStarted,
		TaskType:   c.cfg.TaskType,
		WorkerID:   c.w.WorkerID,
		TaskID:     t.TaskID,
		WorkflowID: t.WorkflowInstanceID,
	})

	execCtx := ctx
	timeout := t.ResponseTimeout()
	if timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	tc := task.NewContext(execCtx)

	stopLease := make(chan struct{})
	if c.w.LeaseExtend && timeout > 0 && target != nil {
		go c.extendLease(ctx, t, target, timeout, stopLease)
	}

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				tc.AddLog("panic: %v", rec)
				tc.AddLog("%s", debug.Stack())
				done <- outcome{err: fmt.Errorf("handler panicked: %v", rec)}
			}
		}()
		value, err := c.w.Handler(tc, t)
		done <- outcome{value: value, err: err}
	}()

	var execErr error
	var result *task.Result
	select {
	case out := <-done:
		execErr = out.err
		result = task.ResultFor(t, c.w.WorkerID, out.value, out.err)
	case <-execCtx.Done():
		if timeout > 0 && errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			execErr = fmt.Errorf("execution exceeded response timeout of %v", timeout)
		} else {
			execErr = execCtx.Err()
		}
		result = task.ResultFor(t, c.w.WorkerID, nil, execErr)
	}
	close(stopLease)
	tc.MergeInto(result)

	duration := time.Since(start)
	if result.Status == task.StatusFailed || result.Status == task.StatusFailedWithTerminalError {
		c.cfg.Events.Emit(events.Event{
			Type:       events.TypeExecutionFailure,
			TaskType:   c.cfg.TaskType,
			WorkerID:   c.w.WorkerID,
			TaskID:     t.TaskID,
			WorkflowID: t.WorkflowInstanceID,
			Duration:   duration,
			Err:        execErr,
		})
		c.logger.Warn("task execution failed",
			"task_id", t.TaskID,
			"status", string(result.Status),
			"reason", result.ReasonForIncompletion,
			"duration_ms", duration.Milliseconds(),
		)
	} else {
		c.cfg.Events.Emit(events.Event{
			Type:       events.TypeExecutionCompleted,
			TaskType:   c.cfg.TaskType,
			WorkerID:   c.w.WorkerID,
			TaskID:     t.TaskID,
			WorkflowID: t.WorkflowInstanceID,
			Duration:   duration,
		})
		c.logger.Debug("task executed",
			"task_id", t.TaskID,
			"status", string(result.Status),
			"duration_ms", duration.Milliseconds(),
		)
	}
	return result
}

// extendLease sends periodic in-progress heartbeats while a long execution
// approaches the task's response timeout, so the server does not reassign
// the task. Heartbeat failures are logged and otherwise ignored.
func (c *core) extendLease(ctx context.Context, t *task.Task, target *ServerTarget, timeout time.Duration, stop <-chan struct{}) {
	interval := timeout * 8 / 10
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			hb := task.NewResult(t, c.w.WorkerID)
			hb.Status = task.StatusInProgress
			hb.CallbackAfterSeconds = int64(timeout.Seconds())
			if err := target.update.UpdateTaskV1(ctx, hb); err != nil {
				c.logger.Debug("lease extension failed", "task_id", t.TaskID, "error", err)
			}
		}
	}
}

// updateResult reports a result to the task's origin server, retrying
// transient failures a fixed number of times with increasing delay.
// Exhausting the retries emits an UpdateFailure event carrying the lost
// result and returns nil: a lost result must never crash the cycle.
func (c *core) updateResult(ctx context.Context, target *ServerTarget, r *task.Result) *task.Task {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.UpdateRetryAttempts; attempt++ {
		if attempt > 1 {
			delay := c.cfg.UpdateRetryBackoff * time.Duration(attempt-1)
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				lastErr = ctx.Err()
				c.emitUpdateFailure(target, r, lastErr)
				return nil
			}
		}

		var next *task.Task
		var err error
		if c.useUpdateV2 {
			next, err = target.update.UpdateTask(ctx, r)
		} else {
			err = target.update.UpdateTaskV1(ctx, r)
		}
		target.RecordAuthResult(err)
		if err == nil {
			return next
		}
		lastErr = err
		c.logger.Warn("task result update failed",
			"task_id", r.TaskID,
			"server", target.Name(),
			"attempt", attempt,
			"error", err,
		)
	}

	c.emitUpdateFailure(target, r, lastErr)
	return nil
}

func (c *core) emitUpdateFailure(target *ServerTarget, r *task.Result, err error) {
	c.logger.Error("task result lost: update retries exhausted",
		"task_id", r.TaskID,
		"workflow_id", r.WorkflowInstanceID,
		"server", target.Name(),
		"error", err,
	)
	c.cfg.Events.Emit(events.Event{
		Type:       events.TypeUpdateFailure,
		TaskType:   c.cfg.TaskType,
		WorkerID:   c.w.WorkerID,
		Server:     target.Name(),
		TaskID:     r.TaskID,
		WorkflowID: r.WorkflowInstanceID,
		Err:        err,
		Result:     r,
	})
}

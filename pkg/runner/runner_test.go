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
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/foreman/pkg/events"
	"github.com/tombee/foreman/pkg/task"
	"github.com/tombee/foreman/pkg/worker"
)

// fakeServer is an in-memory poll/update client pair.
type fakeServer struct {
	mu        sync.Mutex
	pending   []task.Task
	polls     int
	pollErr   error
	updates   []*task.Result
	updateErr error
	nextTasks []*task.Task
	lastCount int

	// overpoll makes BatchPoll return every pending task regardless of
	// the requested count, as a misbehaving server might.
	overpoll bool
}

func (s *fakeServer) BatchPoll(_ context.Context, _, _ string, count int, _ time.Duration, _ *string) ([]task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	s.lastCount = count
	if s.pollErr != nil {
		return nil, s.pollErr
	}
	n := count
	if s.overpoll || n > len(s.pending) {
		n = len(s.pending)
	}
	out := s.pending[:n]
	s.pending = s.pending[n:]
	return out, nil
}

func (s *fakeServer) UpdateTask(_ context.Context, r *task.Result) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		s.updates = append(s.updates, r)
		return nil, s.updateErr
	}
	s.updates = append(s.updates, r)
	if len(s.nextTasks) > 0 {
		next := s.nextTasks[0]
		s.nextTasks = s.nextTasks[1:]
		return next, nil
	}
	return nil, nil
}

func (s *fakeServer) UpdateTaskV1(ctx context.Context, r *task.Result) error {
	_, err := s.UpdateTask(ctx, r)
	return err
}

func (s *fakeServer) enqueue(tasks ...task.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, tasks...)
}

func (s *fakeServer) updateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates)
}

func (s *fakeServer) pollCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

func (s *fakeServer) results() []*task.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*task.Result(nil), s.updates...)
}

func makeTasks(n int) []task.Task {
	out := make([]task.Task, n)
	for i := range out {
		out[i] = task.Task{
			TaskID:             fmt.Sprintf("task-%d", i),
			WorkflowInstanceID: "wf-1",
			TaskDefName:        "resize_image",
		}
	}
	return out
}

func testConfig(t *testing.T, w *worker.Worker, srv *fakeServer) Config {
	t.Helper()
	return Config{
		Worker:              w,
		Targets:             []*ServerTarget{NewServerTarget("primary", srv, srv, TargetConfig{})},
		Events:              events.NewDispatcher(nil),
		BatchPollTimeout:    time.Second,
		PollTimeout:         time.Millisecond,
		UpdateRetryAttempts: 1,
		UpdateRetryBackoff:  time.Millisecond,
		IdleSleep:           time.Millisecond,
	}
}

func TestBatchRunner_PermitsBoundConcurrency(t *testing.T) {
	var mu sync.Mutex
	inFlight, peak := 0, 0
	release := make(chan struct{})

	w, err := worker.New("resize_image", func(_ *task.Context, _ *task.Task) (any, error) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		<-release
		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil, nil
	}, worker.WithConcurrency(2), worker.WithPollInterval(time.Millisecond))
	require.NoError(t, err)

	srv := &fakeServer{}
	srv.enqueue(makeTasks(5)...)

	r, err := NewBatchRunner(testConfig(t, w, srv))
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.NoError(t, r.RunOnce(ctx))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return inFlight == 2
	}, time.Second, time.Millisecond)

	assert.Equal(t, 0, r.availableSlots(), "both permits held")
	assert.Equal(t, 2, srv.lastCount, "poll size tracks free permits")

	close(release)
	r.wg.Wait()

	mu.Lock()
	assert.Equal(t, 2, peak, "in-flight executions never exceed the concurrency limit")
	mu.Unlock()
	assert.Equal(t, 2, r.availableSlots(), "permits returned after the lifecycle completes")
}

func TestBatchRunner_EmptyPollBackoff(t *testing.T) {
	w, err := worker.New("resize_image", func(_ *task.Context, _ *task.Task) (any, error) {
		return nil, nil
	}, worker.WithPollInterval(50*time.Millisecond))
	require.NoError(t, err)

	srv := &fakeServer{}
	r, err := NewBatchRunner(testConfig(t, w, srv))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, r.RunOnce(ctx))
	require.NoError(t, r.RunOnce(ctx))
	require.NoError(t, r.RunOnce(ctx))
	assert.Equal(t, int32(3), r.emptyPolls.Load())
	assert.Greater(t, r.pollDelay(), time.Duration(0), "consecutive empty polls build up a delay")

	srv.enqueue(makeTasks(1)...)
	require.NoError(t, r.RunOnce(ctx))
	r.wg.Wait()
	assert.Equal(t, int32(0), r.emptyPolls.Load(), "a non-empty poll resets the backoff")
}

func TestUpdateRetryExhaustionEmitsFailure(t *testing.T) {
	w, err := worker.New("resize_image", func(_ *task.Context, _ *task.Task) (any, error) {
		return map[string]any{"ok": true}, nil
	})
	require.NoError(t, err)

	srv := &fakeServer{updateErr: fmt.Errorf("boom")}
	srv.enqueue(makeTasks(1)...)

	cfg := testConfig(t, w, srv)
	cfg.UpdateRetryAttempts = 3

	var lostMu sync.Mutex
	var lost []events.Event
	cfg.Events.Subscribe(func(e events.Event) {
		if e.Type == events.TypeUpdateFailure {
			lostMu.Lock()
			lost = append(lost, e)
			lostMu.Unlock()
		}
	})

	r, err := NewBatchRunner(cfg)
	require.NoError(t, err)

	require.NoError(t, r.RunOnce(context.Background()))
	r.wg.Wait()

	assert.Equal(t, 3, srv.updateCount(), "update is attempted exactly the configured number of times")

	lostMu.Lock()
	defer lostMu.Unlock()
	require.Len(t, lost, 1, "exactly one failure event per lost result")
	assert.Equal(t, "task-0", lost[0].TaskID)
	require.NotNil(t, lost[0].Result, "the event carries the result that was lost")
	assert.Equal(t, task.StatusCompleted, lost[0].Result.Status)
}

func TestPoolRunner_ExecutesAndReports(t *testing.T) {
	var mu sync.Mutex
	executed := make(map[string]bool)

	w, err := worker.New("resize_image", func(_ *task.Context, tk *task.Task) (any, error) {
		mu.Lock()
		executed[tk.TaskID] = true
		mu.Unlock()
		return map[string]any{"done": true}, nil
	}, worker.WithConcurrency(3), worker.WithPollInterval(time.Millisecond))
	require.NoError(t, err)

	srv := &fakeServer{}
	srv.enqueue(makeTasks(3)...)

	r, err := NewPoolRunner(testConfig(t, w, srv))
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, r.RunOnce(ctx))
	}

	mu.Lock()
	assert.Len(t, executed, 3)
	mu.Unlock()
	assert.Equal(t, 3, srv.updateCount())
	for _, res := range srv.results() {
		assert.Equal(t, task.StatusCompleted, res.Status)
	}
}

func TestPoolRunner_SkipsOpenTargets(t *testing.T) {
	w, err := worker.New("resize_image", func(_ *task.Context, _ *task.Task) (any, error) {
		return nil, nil
	}, worker.WithPollInterval(time.Millisecond))
	require.NoError(t, err)

	broken := &fakeServer{pollErr: fmt.Errorf("connection refused")}
	healthy := &fakeServer{}
	healthy.enqueue(makeTasks(2)...)

	cfg := testConfig(t, w, broken)
	cfg.Targets = []*ServerTarget{
		NewServerTarget("broken", broken, broken, TargetConfig{FailureThreshold: 1}),
		NewServerTarget("healthy", healthy, healthy, TargetConfig{}),
	}

	r, err := NewPoolRunner(cfg)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.NoError(t, r.RunOnce(ctx))
	}

	assert.Equal(t, 1, broken.pollCount(), "a tripped target is not polled again inside the window")
	assert.GreaterOrEqual(t, healthy.pollCount(), 3, "the healthy target keeps serving")
	assert.Equal(t, 2, healthy.updateCount())
}

func TestPoolRunner_FinishesInFlightTaskOnCancel(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	w, err := worker.New("resize_image", func(_ *task.Context, _ *task.Task) (any, error) {
		close(started)
		<-release
		return map[string]any{"ok": true}, nil
	}, worker.WithPollInterval(time.Millisecond))
	require.NoError(t, err)

	srv := &fakeServer{}
	srv.enqueue(makeTasks(1)...)

	r, err := NewPoolRunner(testConfig(t, w, srv))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.RunOnce(ctx) }()

	<-started
	cancel()
	close(release)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("RunOnce did not return after the handler finished")
	}

	results := srv.results()
	require.Len(t, results, 1, "the result still reaches the server after shutdown")
	assert.Equal(t, task.StatusCompleted, results[0].Status,
		"a cancellation mid-execution does not turn the result into a failure")
	assert.Equal(t, map[string]any{"ok": true}, results[0].OutputData)
}

func TestExecuteTask_HandlerTimeout(t *testing.T) {
	w, err := worker.New("resize_image", func(tc *task.Context, _ *task.Task) (any, error) {
		<-tc.Done()
		return nil, tc.Err()
	})
	require.NoError(t, err)

	srv := &fakeServer{}
	r, err := NewBatchRunner(testConfig(t, w, srv))
	require.NoError(t, err)

	tk := &task.Task{TaskID: "slow-1", TaskDefName: "resize_image"}
	res := r.executeTask(contextWithShortDeadline(t), tk, r.cfg.Targets[0])
	assert.Equal(t, task.StatusFailed, res.Status)
}

func contextWithShortDeadline(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	t.Cleanup(cancel)
	return ctx
}

func TestExecuteTask_PanicBecomesFailure(t *testing.T) {
	w, err := worker.New("resize_image", func(_ *task.Context, _ *task.Task) (any, error) {
		panic("corrupt input")
	})
	require.NoError(t, err)

	srv := &fakeServer{}
	r, err := NewBatchRunner(testConfig(t, w, srv))
	require.NoError(t, err)

	tk := &task.Task{TaskID: "p-1", TaskDefName: "resize_image"}
	res := r.executeTask(context.Background(), tk, r.cfg.Targets[0])

	assert.Equal(t, task.StatusFailed, res.Status)
	assert.Contains(t, res.ReasonForIncompletion, "panic")
	require.NotEmpty(t, res.Logs, "the stack trace is captured in the task logs")
}

func TestExecuteTask_InProgressRoundTrip(t *testing.T) {
	attempt := 0
	w, err := worker.New("resize_image", func(_ *task.Context, _ *task.Task) (any, error) {
		attempt++
		if attempt < 3 {
			return &task.InProgress{CallbackAfterSeconds: 60}, nil
		}
		return map[string]any{"url": "s3://out"}, nil
	})
	require.NoError(t, err)

	srv := &fakeServer{}
	r, err := NewBatchRunner(testConfig(t, w, srv))
	require.NoError(t, err)

	ctx := context.Background()
	tk := task.Task{TaskID: "long-1", TaskDefName: "resize_image"}
	for i := 0; i < 3; i++ {
		res := r.executeTask(ctx, &tk, r.cfg.Targets[0])
		if i < 2 {
			assert.Equal(t, task.StatusInProgress, res.Status)
			assert.Equal(t, int64(60), res.CallbackAfterSeconds)
		} else {
			assert.Equal(t, task.StatusCompleted, res.Status)
		}
	}
}

func TestRunnerValidation(t *testing.T) {
	w, err := worker.New("resize_image", func(_ *task.Context, _ *task.Task) (any, error) {
		return nil, nil
	})
	require.NoError(t, err)

	_, err = NewBatchRunner(Config{Worker: w})
	assert.ErrorContains(t, err, "server target")

	_, err = NewBatchRunner(Config{Targets: []*ServerTarget{NewServerTarget("x", nil, nil, TargetConfig{})}})
	assert.ErrorContains(t, err, "worker")

	_, err = NewRunner("bogus", Config{})
	assert.ErrorContains(t, err, "unknown strategy")
}

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

// Package supervisor runs each worker in its own OS process and restarts
// crashed processes with capped exponential backoff. A handler that
// corrupts its process (runaway memory, a cgo crash, a deadlock) takes
// down only its own worker, and the supervisor brings it back.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/tombee/foreman/internal/lifecycle"
	foremanerrors "github.com/tombee/foreman/pkg/errors"
)

// State describes one supervised process's position in its lifecycle.
type State string

const (
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateCrashed    State = "crashed"
	StateRestarting State = "restarting"
	StateStopping   State = "stopping"
	StateStopped    State = "stopped"
)

// backoffResetAfter is how long a child must stay up for its restart
// backoff to reset to the minimum.
const backoffResetAfter = time.Minute

// Config configures the supervisor.
type Config struct {
	// TaskTypes are the workers to supervise, one process each.
	TaskTypes []string

	// Binary is the executable to spawn. Defaults to the current binary,
	// which re-enters as a single-worker child process.
	Binary string

	// Args builds the argument list for one worker's process.
	// Defaults to the hidden worker subcommand of the foreman binary.
	Args func(taskType string) []string

	// Env is the child environment. Defaults to the current environment.
	Env []string

	// RestartBackoffMin is the delay before the first restart. Default: 1s.
	RestartBackoffMin time.Duration

	// RestartBackoffMax caps the doubling restart backoff. Default: 60s.
	RestartBackoffMax time.Duration

	// ShutdownGrace is how long a child gets to exit after SIGTERM
	// before SIGKILL. Default: 10s.
	ShutdownGrace time.Duration

	// PIDFile, if set, is written with the supervisor's PID for status
	// queries and duplicate-start detection.
	PIDFile string

	// ListenAddr, if set, serves /healthz, /status, and /metrics.
	ListenAddr string

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

func (c Config) withDefaults() (Config, error) {
	if len(c.TaskTypes) == 0 {
		return c, fmt.Errorf("supervisor: at least one task type is required")
	}
	if c.Binary == "" {
		bin, err := os.Executable()
		if err != nil {
			return c, fmt.Errorf("supervisor: cannot resolve own binary: %w", err)
		}
		c.Binary = bin
	}
	if c.Args == nil {
		c.Args = func(taskType string) []string {
			return []string{"__worker", "--task", taskType}
		}
	}
	if c.Env == nil {
		c.Env = os.Environ()
	}
	if c.RestartBackoffMin <= 0 {
		c.RestartBackoffMin = time.Second
	}
	if c.RestartBackoffMax <= 0 {
		c.RestartBackoffMax = 60 * time.Second
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c, nil
}

// WorkerStatus is a point-in-time snapshot of one supervised process.
type WorkerStatus struct {
	TaskType     string `json:"task_type"`
	State        State  `json:"state"`
	PID          int    `json:"pid"`
	Alive        bool   `json:"alive"`
	RestartCount int    `json:"restart_count"`
}

type proc struct {
	taskType     string
	state        State
	pid          int
	restartCount int
	child        *lifecycle.Child
}

// Supervisor owns one process per worker and keeps them alive.
type Supervisor struct {
	cfg     Config
	logger  *slog.Logger
	spawner *lifecycle.Spawner

	mu    sync.Mutex
	procs map[string]*proc

	pidfile *lifecycle.PIDFileManager
	wg      sync.WaitGroup
}

// New builds a supervisor from cfg.
func New(cfg Config) (*Supervisor, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	s := &Supervisor{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "supervisor"),
		spawner: lifecycle.NewSpawner().WithEnv(cfg.Env),
		procs:   make(map[string]*proc, len(cfg.TaskTypes)),
	}
	for _, taskType := range cfg.TaskTypes {
		if _, dup := s.procs[taskType]; dup {
			return nil, fmt.Errorf("supervisor: duplicate task type %q", taskType)
		}
		s.procs[taskType] = &proc{taskType: taskType, state: StateStarting}
	}
	return s, nil
}

// Run supervises until ctx is cancelled, then shuts every child down
// gracefully and returns.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.cfg.PIDFile != "" {
		s.pidfile = lifecycle.NewPIDFileManager(s.cfg.PIDFile)
		if err := s.pidfile.Create(os.Getpid()); err != nil {
			return fmt.Errorf("supervisor: %w", err)
		}
		defer s.pidfile.Remove()
	}

	var statusSrv *statusServer
	if s.cfg.ListenAddr != "" {
		var err error
		statusSrv, err = newStatusServer(s, s.cfg.ListenAddr, s.logger)
		if err != nil {
			return err
		}
		defer statusSrv.Close()
	}

	s.logger.Info("supervisor started", "workers", len(s.cfg.TaskTypes))
	for _, taskType := range s.cfg.TaskTypes {
		s.wg.Add(1)
		go func(taskType string) {
			defer s.wg.Done()
			s.supervise(ctx, taskType)
		}(taskType)
	}

	<-ctx.Done()
	s.logger.Info("supervisor stopping")
	s.wg.Wait()
	s.logger.Info("supervisor stopped")
	return nil
}

// supervise runs one worker's spawn-wait-restart loop.
func (s *Supervisor) supervise(ctx context.Context, taskType string) {
	logger := s.logger.With("task_type", taskType)
	backoff := s.cfg.RestartBackoffMin

	for ctx.Err() == nil {
		child, err := s.spawner.Spawn(s.cfg.Binary, s.cfg.Args(taskType))
		if err != nil {
			perr := &foremanerrors.ProcessError{Op: "spawn", TaskType: taskType, Cause: err}
			logger.Error("failed to spawn worker process", "error", perr)
			s.setState(taskType, StateCrashed, 0, nil)
			if !s.sleepOrDone(ctx, backoff) {
				break
			}
			backoff = s.nextBackoff(taskType, backoff)
			continue
		}

		pid := child.PID()
		s.setState(taskType, StateRunning, pid, child)
		logger.Info("worker process started", "pid", pid)

		forwarded := make(chan struct{})
		go func() {
			lifecycle.ForwardOutput(child, logger.With("pid", pid))
			close(forwarded)
		}()

		started := time.Now()
		waitErr := s.waitChild(ctx, taskType, child, forwarded)

		if ctx.Err() != nil {
			s.setState(taskType, StateStopped, 0, nil)
			logger.Info("worker process stopped", "pid", pid)
			return
		}

		s.setState(taskType, StateCrashed, 0, nil)
		logger.Warn("worker process exited unexpectedly", "pid", pid, "error", waitErr)

		if time.Since(started) >= backoffResetAfter {
			backoff = s.cfg.RestartBackoffMin
		}
		if !s.sleepOrDone(ctx, backoff) {
			break
		}
		backoff = s.nextBackoff(taskType, backoff)
	}

	s.setState(taskType, StateStopped, 0, nil)
}

// waitChild waits for the child to exit, shutting it down gracefully if
// the supervisor's context is cancelled first. The child is only reaped
// once its output is fully drained: Cmd.Wait
// closes the stdout/stderr pipes, so calling it while the forwarders are
// still reading would drop the tail of the child's output, which is
// exactly the crash trace worth keeping.
func (s *Supervisor) waitChild(ctx context.Context, taskType string, child *lifecycle.Child, forwarded <-chan struct{}) error {
	done := make(chan error, 1)
	go func() {
		<-forwarded
		done <- child.Cmd.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		s.setState(taskType, StateStopping, child.PID(), child)
		if err := lifecycle.GracefulShutdown(child.PID(), s.cfg.ShutdownGrace, true); err != nil &&
			err != lifecycle.ErrProcessNotRunning {
			s.logger.Warn("graceful shutdown failed", "task_type", taskType, "error", err)
		}
		return <-done
	}
}

// nextBackoff transitions a crashed worker to restarting and returns the
// doubled, capped delay for the restart after this one.
func (s *Supervisor) nextBackoff(taskType string, current time.Duration) time.Duration {
	s.mu.Lock()
	if p := s.procs[taskType]; p != nil {
		p.state = StateRestarting
		p.restartCount++
	}
	s.mu.Unlock()

	next := current * 2
	if next > s.cfg.RestartBackoffMax {
		next = s.cfg.RestartBackoffMax
	}
	return next
}

func (s *Supervisor) sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Supervisor) setState(taskType string, state State, pid int, child *lifecycle.Child) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.procs[taskType]
	if p == nil {
		return
	}
	p.state = state
	p.pid = pid
	p.child = child
}

// Status returns a snapshot of every supervised worker, sorted by task
// type. Alive is probed against the OS, not inferred from state, so a
// stale state never reports a dead process as healthy.
func (s *Supervisor) Status() []WorkerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]WorkerStatus, 0, len(s.procs))
	for _, p := range s.procs {
		st := WorkerStatus{
			TaskType:     p.taskType,
			State:        p.state,
			PID:          p.pid,
			RestartCount: p.restartCount,
		}
		if p.pid > 0 {
			st.Alive = lifecycle.IsProcessRunning(p.pid)
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskType < out[j].TaskType })
	return out
}

// IsHealthy reports whether every supervised worker is currently running.
func (s *Supervisor) IsHealthy() bool {
	for _, st := range s.Status() {
		if st.State != StateRunning || !st.Alive {
			return false
		}
	}
	return true
}

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

// Package app wires configuration, server clients, runners, and event
// listeners into a running worker engine. It is the shared core behind
// foreman start (in-process mode) and the hidden __worker child command
// (one worker per supervised OS process).
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tombee/foreman/internal/config"
	"github.com/tombee/foreman/internal/journal"
	"github.com/tombee/foreman/internal/log"
	"github.com/tombee/foreman/internal/metrics"
	"github.com/tombee/foreman/pkg/client"
	"github.com/tombee/foreman/pkg/events"
	"github.com/tombee/foreman/pkg/httpclient"
	"github.com/tombee/foreman/pkg/runner"
	"github.com/tombee/foreman/pkg/worker"
)

// Options selects which workers run and how.
type Options struct {
	// Strategy overrides the configured runner strategy when non-empty.
	Strategy string

	// TaskTypes restricts execution to these task definition names.
	// Empty means every registered worker.
	TaskTypes []string

	// Watch reloads the config file on change, applying worker pause
	// toggles at runtime.
	Watch bool

	// ConfigPath is the file the watcher observes. Required when Watch
	// is set.
	ConfigPath string
}

// App holds the assembled engine for one process.
type App struct {
	cfg      *config.Config
	opts     Options
	logger   *slog.Logger
	registry *worker.Registry
	targets  []*runner.ServerTarget
	metadata map[string]client.MetadataClient
	events   *events.Dispatcher
	journal  *journal.Journal
	runners  []runner.Runner
	workers  []*worker.Worker
}

// New assembles targets, event listeners, and one runner per registered
// worker name from the given configuration.
func New(cfg *config.Config, reg *worker.Registry, logger *slog.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{
		cfg:      cfg,
		opts:     opts,
		logger:   logger,
		registry: reg,
		events:   events.NewDispatcher(logger),
	}
	a.events.Subscribe(metrics.Listener())

	if cfg.Journal.Enabled {
		j, err := journal.Open(journal.Config{Path: cfg.Journal.Path, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		a.journal = j
		a.events.Subscribe(j.Listener())
	}

	targets, metadata, err := BuildTargets(cfg)
	if err != nil {
		a.close()
		return nil, err
	}
	a.targets = targets
	a.metadata = metadata

	workers, err := selectWorkers(reg, opts.TaskTypes)
	if err != nil {
		a.close()
		return nil, err
	}

	strategy := opts.Strategy
	if strategy == "" {
		strategy = cfg.Runner.Strategy
	}

	requested := make(map[string]bool, len(opts.TaskTypes))
	for _, name := range opts.TaskTypes {
		requested[name] = true
	}

	for _, w := range workers {
		applyOverride(w, cfg)
		a.workers = append(a.workers, w)
		for _, name := range w.Names() {
			// With an explicit task type filter, aliases that were not
			// asked for do not get a poll loop.
			if len(requested) > 0 && !requested[name] {
				continue
			}
			r, err := runner.NewRunner(strategy, runner.Config{
				Worker:              w,
				TaskType:            name,
				Targets:             targets,
				Events:              a.events,
				Logger:              logger,
				BatchPollTimeout:    cfg.Runner.BatchPollTimeout,
				PollTimeout:         cfg.Runner.PollTimeout,
				UpdateRetryAttempts: cfg.Runner.UpdateRetryAttempts,
				UpdateRetryBackoff:  cfg.Runner.UpdateRetryBackoff,
			})
			if err != nil {
				a.close()
				return nil, fmt.Errorf("worker %s: %w", name, err)
			}
			a.runners = append(a.runners, r)
		}
	}

	return a, nil
}

// Run executes every runner until ctx is cancelled, then drains in-flight
// work. Best-effort task definition registration happens first.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	a.registerTaskDefs(ctx)

	var watcher *config.Watcher
	if a.opts.Watch && a.opts.ConfigPath != "" {
		w, err := config.NewWatcher(config.WatcherConfig{
			Path:   a.opts.ConfigPath,
			Logger: a.logger,
			OnLoad: a.applyReload,
		})
		if err != nil {
			a.logger.Warn("config watch disabled", log.Error(err))
		} else {
			watcher = w
			defer watcher.Close()
		}
	}

	a.logger.Info("engine started",
		slog.Int("runners", len(a.runners)),
		slog.Int("servers", len(a.targets)))

	var wg sync.WaitGroup
	for _, r := range a.runners {
		wg.Add(1)
		go func(r runner.Runner) {
			defer wg.Done()
			if err := r.Run(ctx); err != nil && ctx.Err() == nil {
				a.logger.Error("runner stopped", log.Error(err))
			}
		}(r)
	}
	wg.Wait()

	a.logger.Info("engine stopped")
	return nil
}

// Events exposes the dispatcher so callers can subscribe before Run.
func (a *App) Events() *events.Dispatcher {
	return a.events
}

func (a *App) close() {
	if a.journal != nil {
		_ = a.journal.Close()
		a.journal = nil
	}
}

// applyReload propagates pause toggles from a reloaded config. Other
// settings need a restart; mutating concurrency or servers under running
// runners is not supported.
func (a *App) applyReload(cfg *config.Config) {
	for _, w := range a.workers {
		override, ok := cfg.WorkerOverride(w.TaskDefName)
		if !ok {
			continue
		}
		if w.Paused() != override.Paused {
			w.SetPaused(override.Paused)
			a.logger.Info("worker pause toggled",
				slog.String(log.TaskTypeKey, w.TaskDefName),
				slog.Bool("paused", override.Paused))
		}
	}
}

func (a *App) registerTaskDefs(ctx context.Context) {
	var defs []client.TaskDef
	for _, w := range a.workers {
		if !w.RegisterTaskDef {
			continue
		}
		for _, name := range w.Names() {
			defs = append(defs, client.TaskDef{Name: name})
		}
	}
	if len(defs) == 0 {
		return
	}
	for name, mc := range a.metadata {
		regCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := mc.RegisterTaskDef(regCtx, defs...); err != nil {
			a.logger.Warn("task definition registration failed",
				slog.String(log.ServerKey, name), log.Error(err))
		}
		cancel()
	}
}

// BuildTargets creates one ServerTarget per configured server, plus the
// metadata client for each, keyed by server name.
func BuildTargets(cfg *config.Config) ([]*runner.ServerTarget, map[string]client.MetadataClient, error) {
	targets := make([]*runner.ServerTarget, 0, len(cfg.Servers))
	metadata := make(map[string]client.MetadataClient, len(cfg.Servers))
	for _, sc := range cfg.Servers {
		httpCfg := httpclient.DefaultConfig()
		if sc.Timeout > 0 {
			httpCfg.Timeout = sc.Timeout
		}
		c, err := client.NewConductor(client.Config{
			BaseURL:   sc.BaseURL,
			KeyID:     sc.KeyID,
			KeySecret: sc.KeySecret,
			HTTP:      httpCfg,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("server %s: %w", sc.Name, err)
		}
		t := runner.NewServerTarget(sc.Name, c, c, runner.TargetConfig{
			FailureThreshold: sc.FailureThreshold,
			ResetWindow:      sc.ResetWindow,
			AuthBackoffCap:   sc.AuthBackoffCap,
			PollRate:         rate.Limit(sc.PollRate),
			PollBurst:        sc.PollBurst,
		})
		targets = append(targets, t)
		metadata[sc.Name] = c
	}
	if len(targets) == 0 {
		return nil, nil, fmt.Errorf("no servers configured")
	}
	return targets, metadata, nil
}

func selectWorkers(reg *worker.Registry, names []string) ([]*worker.Worker, error) {
	if reg == nil {
		return nil, fmt.Errorf("no worker registry")
	}
	if len(names) == 0 {
		all := reg.Workers()
		if len(all) == 0 {
			return nil, fmt.Errorf("no workers registered")
		}
		return all, nil
	}
	var selected []*worker.Worker
	seen := make(map[*worker.Worker]bool)
	for _, name := range names {
		w, ok := reg.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("no worker registered for task type %q", name)
		}
		if !seen[w] {
			seen[w] = true
			selected = append(selected, w)
		}
	}
	return selected, nil
}

// applyOverride layers config-file worker settings over the registered
// worker. The file wins over registration options and env variables; it
// is the operator's word.
func applyOverride(w *worker.Worker, cfg *config.Config) {
	override, ok := cfg.WorkerOverride(w.TaskDefName)
	if !ok {
		return
	}
	if override.Concurrency > 0 {
		w.Concurrency = override.Concurrency
	}
	if override.PollInterval > 0 {
		w.PollInterval = override.PollInterval
	}
	if override.Domain != nil {
		w.Domain = override.Domain
	}
	if override.Paused {
		w.SetPaused(true)
	}
}

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

package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/foreman/internal/app"
	"github.com/tombee/foreman/internal/config"
	"github.com/tombee/foreman/internal/lifecycle"
	"github.com/tombee/foreman/internal/log"
	"github.com/tombee/foreman/internal/supervisor"
	"github.com/tombee/foreman/pkg/worker"
)

func newStartCommand(reg *worker.Registry) *cobra.Command {
	var (
		strategy   string
		taskTypes  []string
		watch      bool
		supervised bool
		detach     bool
		logFile    string
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start polling and executing tasks",
		Long: `Start the worker engine with every registered worker.

In the default in-process mode all workers share this process. With
supervisor mode (--supervised or supervisor.enabled in the config file)
each worker runs in its own child process that is restarted on crash,
and a status server exposes /healthz, /status, and /metrics.`,
		Example: `  # Run all registered workers in this process
  foreman start

  # One supervised OS process per worker
  foreman start --supervised

  # Only specific task types, chained strategy
  foreman start --task process_order --strategy chained

  # Reload worker pause toggles when the config file changes
  foreman start --watch

  # Leave a supervised engine running in the background
  foreman start --supervised --detach`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := startOptions{
				strategy:   strategy,
				taskTypes:  taskTypes,
				watch:      watch,
				supervised: supervised,
				logFile:    logFile,
			}
			if detach {
				return runDetached(cmd, opts)
			}
			return runStart(cmd.Context(), reg, opts)
		},
	}

	cmd.Flags().StringVar(&strategy, "strategy", "", "Runner strategy: pool, batch, or chained (default from config)")
	cmd.Flags().StringSliceVar(&taskTypes, "task", nil, "Task types to run (default: all registered)")
	cmd.Flags().BoolVar(&watch, "watch", false, "Reload worker pause toggles on config file change")
	cmd.Flags().BoolVar(&supervised, "supervised", false, "Run each worker in its own supervised process")
	cmd.Flags().BoolVar(&detach, "detach", false, "Run in the background and return once the engine is up")
	cmd.Flags().StringVar(&logFile, "log-file", "", "Log destination for --detach (default ~/.foreman/foreman.log)")

	return cmd
}

type startOptions struct {
	strategy   string
	taskTypes  []string
	watch      bool
	supervised bool
	logFile    string
}

// detachArgs rebuilds the start invocation for the background process,
// minus the --detach flag itself.
func detachArgs(opts startOptions) []string {
	args := []string{"start"}
	if flagConfig != "" {
		args = append(args, "--config", flagConfig)
	}
	if opts.strategy != "" {
		args = append(args, "--strategy", opts.strategy)
	}
	for _, tt := range opts.taskTypes {
		args = append(args, "--task", tt)
	}
	if opts.watch {
		args = append(args, "--watch")
	}
	if opts.supervised {
		args = append(args, "--supervised")
	}
	return args
}

// runDetached re-execs this binary in the background, detached from the
// terminal, with output going to a log file. When the supervisor status
// server is configured the command waits for it to come up before
// returning, so a non-zero exit means the engine never started.
func runDetached(cmd *cobra.Command, opts startOptions) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	logPath := opts.logFile
	if logPath == "" {
		logPath, err = config.ExpandHome("~/.foreman/foreman.log")
		if err != nil {
			return err
		}
	}

	binary, err := os.Executable()
	if err != nil {
		return fmt.Errorf("cannot locate own binary: %w", err)
	}

	pid, err := lifecycle.NewSpawner().SpawnDetached(binary, detachArgs(opts), logPath)
	if err != nil {
		return err
	}
	cmd.Printf("started pid=%d log=%s\n", pid, logPath)

	if (opts.supervised || cfg.Supervisor.Enabled) && cfg.Supervisor.ListenAddr != "" {
		hc := lifecycle.NewHealthChecker("http://" + cfg.Supervisor.ListenAddr + "/healthz")
		if err := hc.WaitUntilHealthy(10 * time.Second); err != nil {
			return fmt.Errorf("engine did not become healthy: %w (see %s)", err, logPath)
		}
		cmd.Println("supervisor: healthy")
	}
	return nil
}

func runStart(ctx context.Context, reg *worker.Registry, opts startOptions) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, cancel := signalContext(ctx, logger)
	defer cancel()

	if opts.supervised || cfg.Supervisor.Enabled {
		return runSupervised(ctx, cfg, reg, logger, opts)
	}

	a, err := app.New(cfg, reg, logger, app.Options{
		Strategy:   opts.strategy,
		TaskTypes:  opts.taskTypes,
		Watch:      opts.watch,
		ConfigPath: path,
	})
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

// runSupervised re-execs this binary once per task type with the hidden
// __worker subcommand. The children inherit the environment, so config
// supplied via FOREMAN_* variables reaches them unchanged.
func runSupervised(ctx context.Context, cfg *config.Config, reg *worker.Registry, logger *slog.Logger, opts startOptions) error {
	taskTypes := opts.taskTypes
	if len(taskTypes) == 0 {
		taskTypes = reg.Names()
	}
	if len(taskTypes) == 0 {
		return fmt.Errorf("no workers registered")
	}

	configFlag := configPath()

	sup, err := supervisor.New(supervisor.Config{
		TaskTypes: taskTypes,
		Args: func(taskType string) []string {
			args := []string{"__worker", "--task", taskType, "--config", configFlag}
			if opts.strategy != "" {
				args = append(args, "--strategy", opts.strategy)
			}
			return args
		},
		RestartBackoffMin: cfg.Supervisor.RestartBackoffMin,
		RestartBackoffMax: cfg.Supervisor.RestartBackoffMax,
		ShutdownGrace:     cfg.Supervisor.ShutdownGrace,
		PIDFile:           cfg.Supervisor.PIDFile,
		ListenAddr:        cfg.Supervisor.ListenAddr,
		Logger:            logger,
	})
	if err != nil {
		return err
	}
	return sup.Run(ctx)
}

// loadConfig loads the effective configuration. A missing file at the
// default path is not an error; an explicitly requested file must exist.
func loadConfig() (*config.Config, string, error) {
	path := configPath()
	explicit := flagConfig != "" || os.Getenv("FOREMAN_CONFIG") != ""

	if !explicit {
		expanded, err := config.ExpandHome(path)
		if err != nil {
			return nil, "", err
		}
		if _, err := os.Stat(expanded); err != nil {
			path = ""
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	lc := log.FromEnv()
	if cfg.Log.Level != "" && os.Getenv("FOREMAN_LOG_LEVEL") == "" && os.Getenv("LOG_LEVEL") == "" && os.Getenv("FOREMAN_DEBUG") == "" {
		lc.Level = cfg.Log.Level
	}
	if cfg.Log.Format != "" && os.Getenv("LOG_FORMAT") == "" {
		lc.Format = log.Format(cfg.Log.Format)
	}
	if cfg.Log.Source {
		lc.AddSource = true
	}
	if flagVerbose {
		lc.Level = "debug"
	}
	if flagQuiet {
		lc.Level = "error"
	}
	return log.New(lc)
}

func signalContext(parent context.Context, logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("shutting down", slog.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

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
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tombee/foreman/internal/app"
	"github.com/tombee/foreman/internal/log"
	"github.com/tombee/foreman/pkg/worker"
)

// newWorkerChildCommand is the hidden entry point used by the supervisor.
// It runs exactly one task type in this process with the pool strategy,
// logging as JSON so the parent can forward lines into its own stream.
func newWorkerChildCommand(reg *worker.Registry) *cobra.Command {
	var (
		taskType string
		strategy string
	)

	cmd := &cobra.Command{
		Use:    "__worker",
		Hidden: true,
		Short:  "Run a single worker (supervisor child)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if taskType == "" {
				return fmt.Errorf("--task is required")
			}
			return runWorkerChild(cmd, reg, taskType, strategy)
		},
	}

	cmd.Flags().StringVar(&taskType, "task", "", "Task type to run")
	cmd.Flags().StringVar(&strategy, "strategy", "", "Runner strategy override")

	return cmd
}

func runWorkerChild(cmd *cobra.Command, reg *worker.Registry, taskType, strategy string) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}

	logger := newLogger(cfg).With(slog.String(log.TaskTypeKey, taskType))
	slog.SetDefault(logger)

	ctx, cancel := signalContext(cmd.Context(), logger)
	defer cancel()

	if strategy == "" {
		// Supervised children default to the pool strategy: a fixed
		// goroutine pool per process keeps each child's footprint flat
		// and its failure domain to one task type.
		strategy = "pool"
	}

	a, err := app.New(cfg, reg, logger, app.Options{
		Strategy:   strategy,
		TaskTypes:  []string{taskType},
		Watch:      true,
		ConfigPath: path,
	})
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

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

// Package cli assembles the foreman command tree. Programs that embed
// foreman register their workers and hand the registry to Execute; the
// stock foreman binary does the same with an empty registry.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tombee/foreman/internal/config"
	"github.com/tombee/foreman/pkg/worker"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	version, commit, buildDate = v, c, b
}

// GetVersion returns version information
func GetVersion() (string, string, string) {
	return version, commit, buildDate
}

// Global flag values shared across commands.
var (
	flagConfig  string
	flagVerbose bool
	flagQuiet   bool
	flagJSON    bool
)

// NewRootCommand creates the root Cobra command for foreman
func NewRootCommand(reg *worker.Registry) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "foreman",
		Short: "Foreman - task worker engine for Conductor-compatible servers",
		Long: `Foreman polls task queues on one or more orchestration servers,
executes registered handlers, and reports results back. It handles
batching, concurrency limits, per-server circuit breaking, and
supervised worker processes.

Run 'foreman start' to begin polling with the registered workers.
Run 'foreman status' to inspect a running supervisor.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
	}

	cmd.PersistentFlags().StringVar(&flagConfig, "config", "", fmt.Sprintf("Path to config file (default: %s)", config.DefaultPath))
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable verbose output")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Suppress non-error output")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Output in JSON format")

	cmd.AddCommand(newStartCommand(reg))
	cmd.AddCommand(newWorkerChildCommand(reg))
	cmd.AddCommand(newStatusCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// Execute runs the CLI and exits the process on error.
func Execute(reg *worker.Registry) {
	if err := NewRootCommand(reg).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func configPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	if env := os.Getenv("FOREMAN_CONFIG"); env != "" {
		return env
	}
	return config.DefaultPath
}

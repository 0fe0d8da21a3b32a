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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/foreman/internal/lifecycle"
	"github.com/tombee/foreman/internal/supervisor"
)

func newStatusCommand() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show supervisor and worker process status",
		Long: `Query a running foreman supervisor for its worker processes.

The supervisor is located via the PID file and status server address in
the config file. Exit code is 0 when all workers are healthy, 1 when the
supervisor is not running or any worker is degraded.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, timeout)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Status query timeout")

	return cmd
}

// statusReport mirrors the supervisor status server's JSON body.
type statusReport struct {
	Healthy bool                      `json:"healthy"`
	Workers []supervisor.WorkerStatus `json:"workers"`
}

func runStatus(cmd *cobra.Command, timeout time.Duration) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.Supervisor.PIDFile != "" {
		pidMgr := lifecycle.NewPIDFileManager(cfg.Supervisor.PIDFile)
		pid, err := pidMgr.Read()
		if err != nil {
			return fmt.Errorf("supervisor is not running: %w", err)
		}
		if !lifecycle.IsProcessRunning(pid) {
			return fmt.Errorf("supervisor is not running (stale PID file, pid %d)", pid)
		}
	}

	if cfg.Supervisor.ListenAddr == "" {
		return fmt.Errorf("no supervisor status server configured (supervisor.listen_addr)")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	base := "http://" + cfg.Supervisor.ListenAddr
	if probe := lifecycle.NewHealthChecker(base + "/healthz").Check(ctx); !probe.Success {
		if probe.Error != nil {
			return fmt.Errorf("supervisor is not reachable: %w", probe.Error)
		}
		return fmt.Errorf("supervisor is not reachable: liveness probe returned %d", probe.StatusCode)
	}

	report, err := fetchStatus(ctx, base+"/status")
	if err != nil {
		return fmt.Errorf("supervisor is not reachable: %w", err)
	}

	if flagJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(data))
	} else {
		printStatus(cmd, report)
	}

	if !report.Healthy {
		return fmt.Errorf("one or more workers are degraded")
	}
	return nil
}

func fetchStatus(ctx context.Context, url string) (*statusReport, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status server returned %d", resp.StatusCode)
	}

	var report statusReport
	if err := json.Unmarshal(body, &report); err != nil {
		return nil, fmt.Errorf("invalid status response: %w", err)
	}
	return &report, nil
}

func printStatus(cmd *cobra.Command, report *statusReport) {
	if report.Healthy {
		cmd.Println("supervisor: healthy")
	} else {
		cmd.Println("supervisor: degraded")
	}
	for _, w := range report.Workers {
		alive := "down"
		if w.Alive {
			alive = "up"
		}
		cmd.Printf("  %-24s %-10s pid=%-7d %s  restarts=%d\n",
			w.TaskType, w.State, w.PID, alive, w.RestartCount)
	}
}

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

// Package config loads and validates the foreman configuration file.
//
// Configuration comes from a YAML file with environment variable
// references expanded, then environment variable overrides on top.
// Environment variables always win over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	foremanerrors "github.com/tombee/foreman/pkg/errors"
)

// DefaultPath is the config file location used when none is given.
const DefaultPath = "~/.foreman/foreman.yaml"

// Config represents the complete foreman configuration.
type Config struct {
	Servers    []ServerConfig          `yaml:"servers"`
	Workers    map[string]WorkerConfig `yaml:"workers,omitempty"`
	Runner     RunnerConfig            `yaml:"runner,omitempty"`
	Supervisor SupervisorConfig        `yaml:"supervisor,omitempty"`
	Log        LogConfig               `yaml:"log,omitempty"`
	Journal    JournalConfig           `yaml:"journal,omitempty"`
}

// ServerConfig describes one task server endpoint and its resilience
// tuning. Credentials may reference environment variables with ${VAR}
// syntax; references are expanded at load time.
type ServerConfig struct {
	// Name identifies the server in logs, events, and status output.
	// Defaults to the base URL host.
	Name string `yaml:"name,omitempty"`

	// BaseURL is the server's API root, e.g. https://conductor.example.com/api.
	BaseURL string `yaml:"base_url"`

	// KeyID and KeySecret authenticate against the server's token
	// endpoint. Both empty means unauthenticated access.
	KeyID     string `yaml:"key_id,omitempty"`
	KeySecret string `yaml:"key_secret,omitempty"`

	// Timeout bounds each HTTP request to this server. Default: 30s.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// FailureThreshold is the consecutive poll failures before this
	// server's circuit opens. Default: 3.
	FailureThreshold int `yaml:"failure_threshold,omitempty"`

	// ResetWindow is how long an open circuit suppresses polls.
	// Default: 30s.
	ResetWindow time.Duration `yaml:"reset_window,omitempty"`

	// AuthBackoffCap bounds the exponential backoff after repeated
	// authorization rejections. Default: 60s.
	AuthBackoffCap time.Duration `yaml:"auth_backoff_cap,omitempty"`

	// PollRate optionally caps polls per second to this server.
	// Zero means unlimited.
	PollRate float64 `yaml:"poll_rate,omitempty"`

	// PollBurst is the burst size for PollRate.
	PollBurst int `yaml:"poll_burst,omitempty"`
}

// WorkerConfig holds per-task-type overrides, keyed by task definition
// name in the Workers map. The special key "all" applies to every worker
// that has no specific entry.
type WorkerConfig struct {
	Concurrency  int           `yaml:"concurrency,omitempty"`
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`
	Domain       *string       `yaml:"domain,omitempty"`
	Paused       bool          `yaml:"paused,omitempty"`
}

// RunnerConfig selects and tunes the execution strategy.
type RunnerConfig struct {
	// Strategy is one of "pool", "batch", or "chained". Default: batch.
	Strategy string `yaml:"strategy,omitempty"`

	// BatchPollTimeout bounds one poll round across all servers.
	BatchPollTimeout time.Duration `yaml:"batch_poll_timeout,omitempty"`

	// PollTimeout is the server-side long-poll duration.
	PollTimeout time.Duration `yaml:"poll_timeout,omitempty"`

	// UpdateRetryAttempts is the total result update attempts before a
	// result is declared lost.
	UpdateRetryAttempts int `yaml:"update_retry_attempts,omitempty"`

	// UpdateRetryBackoff is the base delay between update attempts.
	UpdateRetryBackoff time.Duration `yaml:"update_retry_backoff,omitempty"`
}

// SupervisorConfig tunes worker process supervision.
type SupervisorConfig struct {
	// Enabled runs each worker in its own supervised OS process.
	Enabled bool `yaml:"enabled"`

	// RestartBackoffMin is the delay before the first restart of a
	// crashed worker process. Default: 1s.
	RestartBackoffMin time.Duration `yaml:"restart_backoff_min,omitempty"`

	// RestartBackoffMax caps the doubling restart backoff. Default: 60s.
	RestartBackoffMax time.Duration `yaml:"restart_backoff_max,omitempty"`

	// ShutdownGrace is how long a worker process gets to exit after
	// SIGTERM before it is killed. Default: 10s.
	ShutdownGrace time.Duration `yaml:"shutdown_grace,omitempty"`

	// ListenAddr serves /healthz, /status, and /metrics.
	// Empty disables the status server.
	ListenAddr string `yaml:"listen_addr,omitempty"`

	// PIDFile is written by the supervisor for status queries.
	// Empty means no PID file.
	PIDFile string `yaml:"pid_file,omitempty"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is one of trace, debug, info, warn, error. Default: info.
	Level string `yaml:"level,omitempty"`

	// Format is json or text. Default: json.
	Format string `yaml:"format,omitempty"`

	// Source adds file and line information to log entries.
	Source bool `yaml:"source,omitempty"`
}

// JournalConfig configures the lost-result journal.
type JournalConfig struct {
	// Enabled persists results whose updates exhausted their retries.
	Enabled bool `yaml:"enabled"`

	// Path is the journal database file. Default: ~/.foreman/journal.db.
	Path string `yaml:"path,omitempty"`
}

// Default returns a Config with all defaults applied and no servers.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	for i := range c.Servers {
		s := &c.Servers[i]
		if s.Name == "" {
			s.Name = hostOf(s.BaseURL)
		}
		if s.Timeout <= 0 {
			s.Timeout = 30 * time.Second
		}
	}
	if c.Runner.Strategy == "" {
		c.Runner.Strategy = "batch"
	}
	if c.Supervisor.RestartBackoffMin <= 0 {
		c.Supervisor.RestartBackoffMin = time.Second
	}
	if c.Supervisor.RestartBackoffMax <= 0 {
		c.Supervisor.RestartBackoffMax = 60 * time.Second
	}
	if c.Supervisor.ShutdownGrace <= 0 {
		c.Supervisor.ShutdownGrace = 10 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		c.Journal.Path = "~/.foreman/journal.db"
	}
}

// Load loads configuration from a YAML file and applies environment
// variable overrides. An empty path loads defaults plus environment
// variables only.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &foremanerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.loadFromEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, &foremanerrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

// loadFromFile loads configuration from a YAML file. ${VAR} references
// in the file are expanded from the environment before parsing, so
// credentials can stay out of the file itself.
func (c *Config) loadFromFile(path string) error {
	path, err := ExpandHome(path)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.Expand(string(data), func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		// Leave unknown references intact so validation can name them.
		return "${" + key + "}"
	})

	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// loadFromEnv applies environment variable overrides. A FOREMAN_SERVER_URL
// with no configured servers defines a single server from the environment
// alone, so simple deployments need no file at all.
func (c *Config) loadFromEnv() {
	if url := os.Getenv("FOREMAN_SERVER_URL"); url != "" {
		if len(c.Servers) == 0 {
			c.Servers = append(c.Servers, ServerConfig{BaseURL: url})
		} else {
			c.Servers[0].BaseURL = url
		}
	}
	if len(c.Servers) > 0 {
		if keyID := os.Getenv("FOREMAN_AUTH_KEY"); keyID != "" {
			c.Servers[0].KeyID = keyID
		}
		if secret := os.Getenv("FOREMAN_AUTH_SECRET"); secret != "" {
			c.Servers[0].KeySecret = secret
		}
	}

	if strategy := os.Getenv("FOREMAN_STRATEGY"); strategy != "" {
		c.Runner.Strategy = strings.ToLower(strategy)
	}
	if val := os.Getenv("FOREMAN_UPDATE_RETRY_ATTEMPTS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Runner.UpdateRetryAttempts = n
		}
	}
	if level := os.Getenv("FOREMAN_LOG_LEVEL"); level != "" {
		c.Log.Level = strings.ToLower(level)
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		c.Log.Format = strings.ToLower(format)
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if len(c.Servers) == 0 {
		return &foremanerrors.ValidationError{
			Field:      "servers",
			Message:    "at least one server is required",
			Suggestion: "add a servers entry or set FOREMAN_SERVER_URL",
		}
	}

	seen := make(map[string]bool, len(c.Servers))
	for i, s := range c.Servers {
		if s.BaseURL == "" {
			return &foremanerrors.ValidationError{
				Field:   fmt.Sprintf("servers[%d].base_url", i),
				Message: "base_url is required",
			}
		}
		if !strings.HasPrefix(s.BaseURL, "http://") && !strings.HasPrefix(s.BaseURL, "https://") {
			return &foremanerrors.ValidationError{
				Field:      fmt.Sprintf("servers[%d].base_url", i),
				Message:    fmt.Sprintf("invalid URL %q", s.BaseURL),
				Suggestion: "base_url must start with http:// or https://",
			}
		}
		if strings.Contains(s.KeySecret, "${") {
			return &foremanerrors.ValidationError{
				Field:      fmt.Sprintf("servers[%d].key_secret", i),
				Message:    "unresolved environment reference " + s.KeySecret,
				Suggestion: "export the referenced variable before starting",
			}
		}
		if (s.KeyID == "") != (s.KeySecret == "") {
			return &foremanerrors.ValidationError{
				Field:   fmt.Sprintf("servers[%d]", i),
				Message: "key_id and key_secret must be set together",
			}
		}
		if seen[s.Name] {
			return &foremanerrors.ValidationError{
				Field:   fmt.Sprintf("servers[%d].name", i),
				Message: fmt.Sprintf("duplicate server name %q", s.Name),
			}
		}
		seen[s.Name] = true
	}

	switch c.Runner.Strategy {
	case "pool", "batch", "chained":
	default:
		return &foremanerrors.ValidationError{
			Field:      "runner.strategy",
			Message:    fmt.Sprintf("unknown strategy %q", c.Runner.Strategy),
			Suggestion: "use pool, batch, or chained",
		}
	}

	for name, w := range c.Workers {
		if w.Concurrency < 0 {
			return &foremanerrors.ValidationError{
				Field:   fmt.Sprintf("workers.%s.concurrency", name),
				Message: "concurrency must not be negative",
			}
		}
		if w.PollInterval < 0 {
			return &foremanerrors.ValidationError{
				Field:   fmt.Sprintf("workers.%s.poll_interval", name),
				Message: "poll_interval must not be negative",
			}
		}
	}

	return nil
}

// WorkerOverride returns the override block for a task type, falling back
// to the "all" entry.
func (c *Config) WorkerOverride(taskType string) (WorkerConfig, bool) {
	if w, ok := c.Workers[taskType]; ok {
		return w, true
	}
	w, ok := c.Workers["all"]
	return w, ok
}

// ExpandHome resolves a leading ~/ against the user's home directory.
func ExpandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, path[2:]), nil
}

func hostOf(baseURL string) string {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(baseURL, "https://"), "http://")
	if i := strings.IndexAny(trimmed, "/:"); i >= 0 {
		trimmed = trimmed[:i]
	}
	if trimmed == "" {
		return baseURL
	}
	return trimmed
}

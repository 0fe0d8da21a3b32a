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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "foreman.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_FullFile(t *testing.T) {
	t.Setenv("TEST_CONDUCTOR_SECRET", "s3cr3t")
	path := writeConfig(t, `
servers:
  - name: primary
    base_url: https://conductor.example.com/api
    key_id: app-key
    key_secret: ${TEST_CONDUCTOR_SECRET}
    failure_threshold: 5
  - base_url: https://backup.example.com/api
workers:
  resize_image:
    concurrency: 8
    poll_interval: 250ms
  all:
    concurrency: 2
runner:
  strategy: chained
  update_retry_attempts: 6
journal:
  enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Servers, 2)
	assert.Equal(t, "primary", cfg.Servers[0].Name)
	assert.Equal(t, "s3cr3t", cfg.Servers[0].KeySecret, "env references are expanded")
	assert.Equal(t, 5, cfg.Servers[0].FailureThreshold)
	assert.Equal(t, "backup.example.com", cfg.Servers[1].Name, "name defaults to the host")
	assert.Equal(t, 30*time.Second, cfg.Servers[1].Timeout)

	w, ok := cfg.WorkerOverride("resize_image")
	require.True(t, ok)
	assert.Equal(t, 8, w.Concurrency)
	assert.Equal(t, 250*time.Millisecond, w.PollInterval)

	w, ok = cfg.WorkerOverride("other_task")
	require.True(t, ok, "unknown task types fall back to the all entry")
	assert.Equal(t, 2, w.Concurrency)

	assert.Equal(t, "chained", cfg.Runner.Strategy)
	assert.Equal(t, 6, cfg.Runner.UpdateRetryAttempts)
	assert.Equal(t, "~/.foreman/journal.db", cfg.Journal.Path)
}

func TestLoad_EnvOnly(t *testing.T) {
	t.Setenv("FOREMAN_SERVER_URL", "http://localhost:8080/api")
	t.Setenv("FOREMAN_AUTH_KEY", "k")
	t.Setenv("FOREMAN_AUTH_SECRET", "s")
	t.Setenv("FOREMAN_STRATEGY", "pool")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Len(t, cfg.Servers, 1)
	assert.Equal(t, "http://localhost:8080/api", cfg.Servers[0].BaseURL)
	assert.Equal(t, "localhost", cfg.Servers[0].Name)
	assert.Equal(t, "k", cfg.Servers[0].KeyID)
	assert.Equal(t, "pool", cfg.Runner.Strategy)
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "no servers",
			content: "workers: {}\n",
			wantErr: "at least one server",
		},
		{
			name: "bad url",
			content: `
servers:
  - base_url: conductor.example.com
`,
			wantErr: "http://",
		},
		{
			name: "half credentials",
			content: `
servers:
  - base_url: https://x.example.com
    key_id: only-key
`,
			wantErr: "set together",
		},
		{
			name: "unresolved secret",
			content: `
servers:
  - base_url: https://x.example.com
    key_id: k
    key_secret: ${NOT_A_REAL_VAR_12345}
`,
			wantErr: "unresolved environment reference",
		},
		{
			name: "duplicate names",
			content: `
servers:
  - name: dup
    base_url: https://a.example.com
  - name: dup
    base_url: https://b.example.com
`,
			wantErr: "duplicate server name",
		},
		{
			name: "bad strategy",
			content: `
servers:
  - base_url: https://x.example.com
runner:
  strategy: turbo
`,
			wantErr: "unknown strategy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "failed to load")
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	path := writeConfig(t, `
servers:
  - base_url: https://a.example.com
`)

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(WatcherConfig{
		Path:          path,
		OnLoad:        func(c *Config) { reloaded <- c },
		DebounceDelay: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte(`
servers:
  - base_url: https://a.example.com
workers:
  resize_image:
    paused: true
`), 0o600))

	select {
	case cfg := <-reloaded:
		wc, ok := cfg.WorkerOverride("resize_image")
		require.True(t, ok)
		assert.True(t, wc.Paused)
	case <-time.After(3 * time.Second):
		t.Fatal("reload callback was not invoked")
	}
}

func TestWatcher_KeepsPreviousConfigOnBrokenReload(t *testing.T) {
	path := writeConfig(t, `
servers:
  - base_url: https://a.example.com
`)

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(WatcherConfig{
		Path:          path,
		OnLoad:        func(c *Config) { reloaded <- c },
		DebounceDelay: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("servers: ["), 0o600))

	select {
	case <-reloaded:
		t.Fatal("a broken config must not reach the callback")
	case <-time.After(300 * time.Millisecond):
	}
}

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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/foreman/pkg/worker"
)

func TestRootCommandHasSubcommands(t *testing.T) {
	root := NewRootCommand(worker.NewRegistry())

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "start")
	assert.Contains(t, names, "status")
	assert.Contains(t, names, "version")
	assert.Contains(t, names, "__worker")

	child, _, err := root.Find([]string{"__worker"})
	require.NoError(t, err)
	assert.True(t, child.Hidden)
}

func TestVersionCommand(t *testing.T) {
	SetVersion("1.2.3", "abc123", "2026-01-02")
	t.Cleanup(func() { SetVersion("dev", "unknown", "unknown") })

	root := NewRootCommand(worker.NewRegistry())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "foreman version 1.2.3")
	assert.Contains(t, out.String(), "abc123")
}

func TestVersionCommandJSON(t *testing.T) {
	SetVersion("1.2.3", "abc123", "2026-01-02")
	t.Cleanup(func() { SetVersion("dev", "unknown", "unknown") })

	root := NewRootCommand(worker.NewRegistry())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version", "--json"})
	t.Cleanup(func() { flagJSON = false })

	require.NoError(t, root.Execute())

	var info versionInfo
	require.NoError(t, json.Unmarshal(out.Bytes(), &info))
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, "2026-01-02", info.BuildDate)
}

func TestFetchStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/status", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"healthy":false,"workers":[{"task_type":"encode","state":"crashed","pid":41,"alive":false,"restart_count":3}]}`))
	}))
	defer srv.Close()

	report, err := fetchStatus(context.Background(), srv.URL+"/status")
	require.NoError(t, err)

	assert.False(t, report.Healthy)
	require.Len(t, report.Workers, 1)
	assert.Equal(t, "encode", report.Workers[0].TaskType)
	assert.EqualValues(t, 3, report.Workers[0].RestartCount)
}

func TestFetchStatusServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := fetchStatus(context.Background(), srv.URL+"/status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestDetachArgsRebuildInvocation(t *testing.T) {
	flagConfig = "/etc/foreman.yaml"
	t.Cleanup(func() { flagConfig = "" })

	args := detachArgs(startOptions{
		strategy:   "chained",
		taskTypes:  []string{"encode", "resize"},
		watch:      true,
		supervised: true,
	})

	assert.Equal(t, []string{
		"start",
		"--config", "/etc/foreman.yaml",
		"--strategy", "chained",
		"--task", "encode",
		"--task", "resize",
		"--watch",
		"--supervised",
	}, args)
	assert.NotContains(t, args, "--detach", "the background process must not detach again")
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("FOREMAN_SERVER_URL", "http://conductor.test/api")

	cfg, path, err := loadConfig()
	require.NoError(t, err)
	assert.Empty(t, path)
	require.Len(t, cfg.Servers, 1)
	assert.Equal(t, "http://conductor.test/api", cfg.Servers[0].BaseURL)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	flagConfig = "/nonexistent/foreman.yaml"
	t.Cleanup(func() { flagConfig = "" })

	_, _, err := loadConfig()
	require.Error(t, err)
}

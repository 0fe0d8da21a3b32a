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

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tombee/foreman/pkg/httpclient"
	"github.com/tombee/foreman/pkg/task"
)

// Config configures one orchestration server connection.
type Config struct {
	// BaseURL is the server's API root, e.g. "https://play.orkes.io/api".
	BaseURL string

	// KeyID and KeySecret enable token authentication when both are set.
	KeyID     string
	KeySecret string

	// HTTP configures the underlying HTTP client. Zero value means
	// httpclient.DefaultConfig.
	HTTP httpclient.Config
}

// Conductor is the HTTP implementation of PollClient, UpdateClient, and
// MetadataClient against a Conductor-compatible orchestration server.
type Conductor struct {
	baseURL string
	http    *http.Client
	auth    *tokenManager
}

var (
	_ PollClient     = (*Conductor)(nil)
	_ UpdateClient   = (*Conductor)(nil)
	_ MetadataClient = (*Conductor)(nil)
)

// NewConductor creates a server client from the given configuration.
func NewConductor(cfg Config) (*Conductor, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("client: base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("client: invalid base URL %q: %w", cfg.BaseURL, err)
	}

	httpCfg := cfg.HTTP
	if httpCfg == (httpclient.Config{}) {
		httpCfg = httpclient.DefaultConfig()
	}
	hc, err := httpclient.New(httpCfg)
	if err != nil {
		return nil, err
	}

	c := &Conductor{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    hc,
	}
	if cfg.KeyID != "" && cfg.KeySecret != "" {
		c.auth = newTokenManager(c.baseURL+"/token", cfg.KeyID, cfg.KeySecret, hc)
	}
	return c, nil
}

// BaseURL returns the server's API root. Used as the server identity in
// events and logs.
func (c *Conductor) BaseURL() string {
	return c.baseURL
}

// BatchPoll implements PollClient.
func (c *Conductor) BatchPoll(ctx context.Context, taskType, workerID string, count int, timeout time.Duration, domain *string) ([]task.Task, error) {
	q := url.Values{}
	q.Set("workerid", workerID)
	q.Set("count", strconv.Itoa(count))
	q.Set("timeout", strconv.FormatInt(timeout.Milliseconds(), 10))
	if domain != nil {
		q.Set("domain", *domain)
	}

	endpoint := fmt.Sprintf("%s/tasks/poll/batch/%s?%s", c.baseURL, url.PathEscape(taskType), q.Encode())

	var tasks []task.Task
	if err := c.doJSON(ctx, "poll", http.MethodGet, endpoint, nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// UpdateTask implements UpdateClient. The update-v2 endpoint may answer
// with a chained next task of the same type for this worker.
func (c *Conductor) UpdateTask(ctx context.Context, r *task.Result) (*task.Task, error) {
	var next task.Task
	err := c.doJSON(ctx, "update", http.MethodPost, c.baseURL+"/tasks/update-v2", r, &next)
	if err != nil {
		return nil, err
	}
	if next.TaskID == "" {
		return nil, nil
	}
	return &next, nil
}

// UpdateTaskV1 implements UpdateClient.
func (c *Conductor) UpdateTaskV1(ctx context.Context, r *task.Result) error {
	return c.doJSON(ctx, "update", http.MethodPost, c.baseURL+"/tasks", r, nil)
}

// RegisterTaskDef implements MetadataClient.
func (c *Conductor) RegisterTaskDef(ctx context.Context, defs ...TaskDef) error {
	return c.doJSON(ctx, "metadata", http.MethodPost, c.baseURL+"/metadata/taskdefs", defs, nil)
}

// doJSON executes one JSON request/response round trip. A nil out pointer
// discards the response body; an empty or 204 response leaves out untouched.
func (c *Conductor) doJSON(ctx context.Context, op, method, endpoint string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.auth != nil {
		token, err := c.auth.Token(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("X-Authorization", token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Op: op, Server: c.baseURL, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		// A stale cached token and a revoked key look the same here; drop
		// the token so the next attempt after auth backoff re-exchanges.
		if c.auth != nil {
			c.auth.Invalidate()
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &Error{
			Op:         op,
			Server:     c.baseURL,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(msg)),
		}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Op: op, Server: c.baseURL, Cause: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Op: op, Server: c.baseURL, Message: "decode response", Cause: err}
	}
	return nil
}

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

package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tombee/foreman/pkg/task"
)

func noopHandler(ctx *task.Context, t *task.Task) (any, error) {
	return nil, nil
}

func TestNew_Defaults(t *testing.T) {
	w, err := New("resize_image", noopHandler)
	require.NoError(t, err)

	assert.Equal(t, DefaultConcurrency, w.Concurrency)
	assert.Equal(t, DefaultPollInterval, w.PollInterval)
	assert.Nil(t, w.Domain)
	assert.False(t, w.Paused())
	assert.NotEmpty(t, w.WorkerID)
}

func TestNew_Validation(t *testing.T) {
	_, err := New("", noopHandler)
	assert.Error(t, err)

	_, err = New("resize_image", nil)
	assert.Error(t, err)
}

func TestNew_Options(t *testing.T) {
	w, err := New("resize_image", noopHandler,
		WithConcurrency(8),
		WithPollInterval(2*time.Second),
		WithDomain("images"),
		WithWorkerID("w-1"),
		WithAliases("resize_image_v2"),
		WithLeaseExtension(),
	)
	require.NoError(t, err)

	assert.Equal(t, 8, w.Concurrency)
	assert.Equal(t, 2*time.Second, w.PollInterval)
	require.NotNil(t, w.Domain)
	assert.Equal(t, "images", *w.Domain)
	assert.Equal(t, "w-1", w.WorkerID)
	assert.Equal(t, []string{"resize_image", "resize_image_v2"}, w.Names())
	assert.True(t, w.LeaseExtend)
}

func TestNew_EnvOverrides(t *testing.T) {
	t.Setenv("FOREMAN_WORKER_RESIZE_IMAGE_POLL_INTERVAL", "750ms")
	t.Setenv("FOREMAN_WORKER_RESIZE_IMAGE_CONCURRENCY", "4")
	t.Setenv("FOREMAN_WORKER_ALL_DOMAIN", "batch")

	w, err := New("resize_image", noopHandler)
	require.NoError(t, err)

	assert.Equal(t, 750*time.Millisecond, w.PollInterval)
	assert.Equal(t, 4, w.Concurrency)
	require.NotNil(t, w.Domain)
	assert.Equal(t, "batch", *w.Domain)
}

func TestNew_EnvResolutionOrder(t *testing.T) {
	// Explicit option beats per-task env; per-task env beats generic env.
	t.Setenv("FOREMAN_WORKER_RESIZE_IMAGE_CONCURRENCY", "4")
	t.Setenv("FOREMAN_WORKER_ALL_CONCURRENCY", "16")

	explicit, err := New("resize_image", noopHandler, WithConcurrency(2))
	require.NoError(t, err)
	assert.Equal(t, 2, explicit.Concurrency)

	fromEnv, err := New("resize_image", noopHandler)
	require.NoError(t, err)
	assert.Equal(t, 4, fromEnv.Concurrency)

	generic, err := New("other_task", noopHandler)
	require.NoError(t, err)
	assert.Equal(t, 16, generic.Concurrency)
}

func TestNew_EnvPaused(t *testing.T) {
	t.Setenv("FOREMAN_WORKER_RESIZE_IMAGE_PAUSED", "true")

	w, err := New("resize_image", noopHandler)
	require.NoError(t, err)
	assert.True(t, w.Paused())

	w.SetPaused(false)
	assert.False(t, w.Paused())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	w1, err := New("resize_image", noopHandler, WithAliases("resize_image_v2"))
	require.NoError(t, err)
	require.NoError(t, r.Register(w1))

	w2, err := New("send_email", noopHandler)
	require.NoError(t, err)
	require.NoError(t, r.Register(w2))

	got, ok := r.Lookup("resize_image_v2")
	require.True(t, ok)
	assert.Same(t, w1, got)

	assert.Equal(t, []string{"resize_image", "resize_image_v2", "send_email"}, r.Names())
	assert.Len(t, r.Workers(), 2)
}

func TestRegistry_DuplicateName(t *testing.T) {
	r := NewRegistry()
	w1, err := New("resize_image", noopHandler)
	require.NoError(t, err)
	require.NoError(t, r.Register(w1))

	w2, err := New("resize_image", noopHandler)
	require.NoError(t, err)
	assert.Error(t, r.Register(w2))
}

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

package errors

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationError(t *testing.T) {
	err := &ValidationError{Field: "concurrency", Message: "must be positive"}
	assert.Equal(t, "validation failed on concurrency: must be positive", err.Error())
	assert.Equal(t, "validation", err.ErrorType())
	assert.False(t, err.IsRetryable())

	bare := &ValidationError{Message: "bad input"}
	assert.Equal(t, "validation failed: bad input", bare.Error())
}

func TestConfigError_Unwrap(t *testing.T) {
	cause := stderrors.New("no such file")
	err := &ConfigError{Key: "config_file", Reason: "failed to load", Cause: cause}

	assert.Contains(t, err.Error(), "config_file")
	assert.ErrorIs(t, err, cause)

	var ce *ConfigError
	wrapped := Wrap(err, "starting up")
	require.True(t, stderrors.As(wrapped, &ce))
	assert.Equal(t, "config_file", ce.Key)
}

func TestTimeoutError(t *testing.T) {
	err := &TimeoutError{Operation: "task execution", Duration: 30 * time.Second}
	assert.Equal(t, "task execution operation timed out after 30s", err.Error())
	assert.True(t, err.IsRetryable())
}

func TestProcessError(t *testing.T) {
	cause := stderrors.New("exit status 2")
	err := &ProcessError{Op: "wait", TaskType: "resize_image", PID: 4242, Cause: cause}

	assert.Contains(t, err.Error(), "resize_image")
	assert.Contains(t, err.Error(), "4242")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "process", err.ErrorType())
	assert.True(t, err.IsRetryable())
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "context"))
	assert.Nil(t, Wrapf(nil, "context %d", 1))

	err := Wrapf(stderrors.New("boom"), "polling %s", "primary")
	assert.Equal(t, "polling primary: boom", err.Error())
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(stderrors.New("opaque")))
	assert.False(t, Retryable(&ValidationError{Message: "x"}))
	assert.True(t, Retryable(&TimeoutError{Operation: "poll"}))
	assert.True(t, Retryable(Wrap(&ProcessError{Op: "spawn"}, "supervising")))
}

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

package task

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTask() *Task {
	return &Task{
		TaskID:             "task-1",
		WorkflowInstanceID: "wf-1",
		TaskDefName:        "resize_image",
	}
}

func TestResultFor_Mapping(t *testing.T) {
	tests := []struct {
		name       string
		value      any
		err        error
		wantStatus Status
		wantOutput map[string]any
		wantReason string
	}{
		{
			name:       "map used directly as output",
			value:      map[string]any{"a": 1},
			wantStatus: StatusCompleted,
			wantOutput: map[string]any{"a": 1},
		},
		{
			name:       "scalar wrapped under result key",
			value:      "x",
			wantStatus: StatusCompleted,
			wantOutput: map[string]any{"result": "x"},
		},
		{
			name:       "nil wrapped under result key",
			value:      nil,
			wantStatus: StatusCompleted,
			wantOutput: map[string]any{"result": nil},
		},
		{
			name:       "plain error fails retryably",
			err:        errors.New("boom"),
			wantStatus: StatusFailed,
			wantReason: "boom",
		},
		{
			name:       "non-retryable error is terminal",
			err:        NonRetryablef("bad input: %s", "missing field"),
			wantStatus: StatusFailedWithTerminalError,
			wantReason: "bad input: missing field",
		},
		{
			name:       "wrapped non-retryable error is still terminal",
			err:        errors.Join(errors.New("outer"), NonRetryable(errors.New("inner"))),
			wantStatus: StatusFailedWithTerminalError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ResultFor(testTask(), "worker-1", tt.value, tt.err)
			require.NotNil(t, r)
			assert.Equal(t, "task-1", r.TaskID)
			assert.Equal(t, "wf-1", r.WorkflowInstanceID)
			assert.Equal(t, "worker-1", r.WorkerID)
			assert.Equal(t, tt.wantStatus, r.Status)
			if tt.wantOutput != nil {
				assert.Equal(t, tt.wantOutput, r.OutputData)
			}
			if tt.wantReason != "" {
				assert.Equal(t, tt.wantReason, r.ReasonForIncompletion)
			}
		})
	}
}

func TestResultFor_HandlerResultVerbatim(t *testing.T) {
	handlerResult := &Result{
		Status:               StatusInProgress,
		CallbackAfterSeconds: 42,
		OutputData:           map[string]any{"progress": 0.5},
	}

	r := ResultFor(testTask(), "worker-1", handlerResult, nil)

	assert.Same(t, handlerResult, r)
	assert.Equal(t, "task-1", r.TaskID, "identity fields filled in when missing")
	assert.Equal(t, "worker-1", r.WorkerID)
	assert.Equal(t, int64(42), r.CallbackAfterSeconds)
}

func TestResultFor_InProgressSentinel(t *testing.T) {
	r := ResultFor(testTask(), "w", &InProgress{
		CallbackAfterSeconds: 30,
		OutputData:           map[string]any{"page": 2},
	}, nil)

	assert.Equal(t, StatusInProgress, r.Status)
	assert.Equal(t, int64(30), r.CallbackAfterSeconds)
	assert.Equal(t, map[string]any{"page": 2}, r.OutputData)
}

func TestContext_MergeInto(t *testing.T) {
	tc := NewContext(context.Background())
	tc.AddLog("step %d done", 1)
	tc.AddLog("step %d done", 2)
	tc.SetCallbackAfter(15)

	r := NewResult(testTask(), "w")
	r.Status = StatusInProgress
	tc.MergeInto(r)

	require.Len(t, r.Logs, 2)
	assert.Equal(t, "step 1 done", r.Logs[0].Log)
	assert.Equal(t, int64(15), r.CallbackAfterSeconds)
}

func TestContext_MergeInto_HandlerValueWins(t *testing.T) {
	tc := NewContext(context.Background())
	tc.SetCallbackAfter(15)

	r := NewResult(testTask(), "w")
	r.Status = StatusInProgress
	r.CallbackAfterSeconds = 60 // set by the handler result
	tc.MergeInto(r)

	assert.Equal(t, int64(60), r.CallbackAfterSeconds)
}

func TestContext_MergeInto_TerminalResultIgnoresCallback(t *testing.T) {
	tc := NewContext(context.Background())
	tc.SetCallbackAfter(30)

	for _, status := range []Status{StatusCompleted, StatusFailed, StatusFailedWithTerminalError} {
		r := NewResult(testTask(), "w")
		r.Status = status
		tc.MergeInto(r)
		assert.Zero(t, r.CallbackAfterSeconds,
			"a %s result never carries a callback delay", status)
	}
}

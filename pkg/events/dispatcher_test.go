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

package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tombee/foreman/pkg/task"
)

func TestDispatcher_EmitInOrder(t *testing.T) {
	d := NewDispatcher(nil)

	var order []string
	d.Subscribe(func(e Event) { order = append(order, "first") })
	d.Subscribe(func(e Event) { order = append(order, "second") })

	d.Emit(Event{Type: TypePollStarted, TaskType: "resize_image"})

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestDispatcher_StampsTimestamp(t *testing.T) {
	d := NewDispatcher(nil)

	var got Event
	d.Subscribe(func(e Event) { got = e })
	d.Emit(Event{Type: TypeExecutionStarted})

	assert.False(t, got.Timestamp.IsZero())
}

func TestDispatcher_PanickingListenerIsolated(t *testing.T) {
	d := NewDispatcher(nil)

	var delivered int
	d.Subscribe(func(e Event) { panic("listener bug") })
	d.Subscribe(func(e Event) { delivered++ })

	require.NotPanics(t, func() {
		d.Emit(Event{Type: TypeExecutionFailure, Err: errors.New("boom")})
	})
	assert.Equal(t, 1, delivered, "later listeners still run after a panic")
}

func TestDispatcher_UpdateFailureCarriesResult(t *testing.T) {
	d := NewDispatcher(nil)

	var got Event
	d.Subscribe(func(e Event) { got = e })

	lost := &task.Result{TaskID: "task-1", Status: task.StatusCompleted}
	d.Emit(Event{Type: TypeUpdateFailure, Result: lost, Err: errors.New("server gone")})

	require.NotNil(t, got.Result)
	assert.Equal(t, "task-1", got.Result.TaskID)
}

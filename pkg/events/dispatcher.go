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
	"log/slog"
	"sync"
	"time"
)

// Dispatcher broadcasts events to registered listeners synchronously.
// The zero value is not usable; create one with NewDispatcher.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners []Listener
	logger    *slog.Logger
}

// NewDispatcher creates a dispatcher. A nil logger falls back to
// slog.Default.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{logger: logger}
}

// Subscribe registers a listener for all event types. Listeners registered
// after an event is emitted do not receive it.
func (d *Dispatcher) Subscribe(l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

// ListenerCount returns the number of registered listeners.
func (d *Dispatcher) ListenerCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners)
}

// Emit delivers the event to every listener in registration order.
// The timestamp is stamped here if unset. Listener panics are recovered
// and logged; they never propagate to the caller or skip later listeners.
func (d *Dispatcher) Emit(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	d.mu.RLock()
	listeners := make([]Listener, len(d.listeners))
	copy(listeners, d.listeners)
	d.mu.RUnlock()

	for _, l := range listeners {
		d.dispatch(l, e)
	}
}

func (d *Dispatcher) dispatch(l Listener, e Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event listener panicked",
				"event", string(e.Type),
				"task_type", e.TaskType,
				"panic", r,
			)
		}
	}()
	l(e)
}

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
	"fmt"
	"sort"
	"sync"

	"github.com/tombee/foreman/pkg/task"
)

// Registry is an explicit collection of workers handed to the runner or
// supervisor at construction time. There is no process-wide implicit
// registration.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]*Worker // keyed by task definition name, aliases included
}

// NewRegistry creates an empty worker registry.
func NewRegistry() *Registry {
	return &Registry{workers: make(map[string]*Worker)}
}

// Register adds a worker under its primary name and all aliases.
// Registering a name twice is an error.
func (r *Registry) Register(w *Worker) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range w.Names() {
		if existing, ok := r.workers[name]; ok {
			return fmt.Errorf("worker registry: %q already registered by worker %q", name, existing.TaskDefName)
		}
	}
	for _, name := range w.Names() {
		r.workers[name] = w
	}
	return nil
}

// MustRegister builds and registers a worker, panicking on error. Intended
// for program initialization where a registration failure is fatal.
func (r *Registry) MustRegister(taskDefName string, handler task.Handler, opts ...Option) *Worker {
	w, err := New(taskDefName, handler, opts...)
	if err != nil {
		panic(err)
	}
	if err := r.Register(w); err != nil {
		panic(err)
	}
	return w
}

// Lookup returns the worker registered for the given task definition name.
func (r *Registry) Lookup(name string) (*Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[name]
	return w, ok
}

// Names returns all registered task definition names, sorted, aliases
// included. Each name corresponds to one poll loop at runtime.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.workers))
	for name := range r.workers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Workers returns the distinct registered workers.
func (r *Registry) Workers() []*Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[*Worker]bool)
	var out []*Worker
	for _, w := range r.workers {
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskDefName < out[j].TaskDefName })
	return out
}

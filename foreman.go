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

// Package foreman is the embedding entry point for programs that ship
// their own worker binary. Register handlers, then hand control to Main:
//
//	func main() {
//		foreman.MustRegister("process_order", handleOrder,
//			worker.WithConcurrency(8))
//		foreman.Main()
//	}
//
// The resulting binary gets the full foreman CLI, including the hidden
// supervisor child mode that re-execs the binary itself.
package foreman

import (
	"github.com/tombee/foreman/internal/cli"
	"github.com/tombee/foreman/pkg/task"
	"github.com/tombee/foreman/pkg/worker"
)

var defaultRegistry = worker.NewRegistry()

// Register adds a worker to the default registry.
func Register(taskDefName string, handler task.Handler, opts ...worker.Option) (*worker.Worker, error) {
	w, err := worker.New(taskDefName, handler, opts...)
	if err != nil {
		return nil, err
	}
	if err := defaultRegistry.Register(w); err != nil {
		return nil, err
	}
	return w, nil
}

// MustRegister is Register that panics on error, for init-time wiring.
func MustRegister(taskDefName string, handler task.Handler, opts ...worker.Option) *worker.Worker {
	return defaultRegistry.MustRegister(taskDefName, handler, opts...)
}

// Registry returns the default registry, for callers that need direct
// access (tests, conditional registration).
func Registry() *worker.Registry {
	return defaultRegistry
}

// SetVersion overrides the version metadata reported by the CLI.
// Embedding binaries typically inject their own via ldflags.
func SetVersion(version, commit, buildDate string) {
	cli.SetVersion(version, commit, buildDate)
}

// Main runs the foreman CLI with the default registry and exits the
// process on error.
func Main() {
	cli.Execute(defaultRegistry)
}

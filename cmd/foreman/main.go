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

// The foreman command is the stock binary: status and version against a
// running supervisor, plus a no-op echo worker for smoke testing a server
// connection. Production deployments embed the foreman package in their
// own binary so their handlers are compiled in.
package main

import (
	"github.com/tombee/foreman"
	"github.com/tombee/foreman/pkg/task"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	foreman.SetVersion(version, commit, buildDate)

	// Echoes its input back as output. Useful for verifying server
	// connectivity and queue wiring without writing a handler.
	foreman.MustRegister("echo", func(tc *task.Context, t *task.Task) (any, error) {
		return t.InputData, nil
	})

	foreman.Main()
}

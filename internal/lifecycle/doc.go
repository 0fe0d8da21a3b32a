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

/*
Package lifecycle manages worker process lifecycle operations.

This package provides secure PID file management, process spawning and
validation, health checking, and child output forwarding for the foreman
supervisor.

# PID File Management

PID files are security-sensitive as they control which process receives
shutdown signals. The package uses exclusive file locking (flock) and
atomic creation (O_EXCL) to prevent race conditions and symlink attacks:

	manager := lifecycle.NewPIDFileManager("/path/to/foreman.pid")
	if err := manager.Create(1234); err != nil {
	    // Handle error
	}
	defer manager.Remove()

# Process Operations

Process validation ensures signals are sent only to foreman processes,
preventing accidental kills of unrelated processes when a PID file is
stale:

	pid, err := manager.Read()
	if err != nil {
	    // Handle error
	}

	if !lifecycle.IsForemanProcess(pid) {
	    // PID file is stale or corrupted
	}

	if err := lifecycle.SendSignal(pid, syscall.SIGTERM); err != nil {
	    // Handle error
	}

# Process Spawning

The supervisor spawns each worker in its own process group so signals to
the supervisor do not tear down workers out of order, and forwards the
child's output through the supervisor's structured logger:

	spawner := lifecycle.NewSpawner()
	child, err := spawner.Spawn("/path/to/foreman", args)
	if err != nil {
	    // Handle error
	}
	go lifecycle.ForwardOutput(child, logger)
*/
package lifecycle

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
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment overrides. Per-task variables are consulted before the
// generic ALL variables; explicit constructor options always win.
//
//	FOREMAN_WORKER_<TASK_NAME>_POLL_INTERVAL   Go duration, e.g. "250ms"
//	FOREMAN_WORKER_<TASK_NAME>_CONCURRENCY     positive integer
//	FOREMAN_WORKER_<TASK_NAME>_DOMAIN          string
//	FOREMAN_WORKER_<TASK_NAME>_PAUSED          true/false
//	FOREMAN_WORKER_ALL_POLL_INTERVAL           and so on
const envPrefix = "FOREMAN_WORKER"

func resolveFromEnv(w *Worker) {
	taskKey := envKey(w.TaskDefName)

	if w.PollInterval <= 0 {
		if d, ok := lookupDuration(taskKey, "POLL_INTERVAL"); ok {
			w.PollInterval = d
		}
	}
	if w.Concurrency <= 0 {
		if n, ok := lookupInt(taskKey, "CONCURRENCY"); ok {
			w.Concurrency = n
		}
	}
	if w.Domain == nil {
		if v, ok := lookupString(taskKey, "DOMAIN"); ok {
			w.Domain = &v
		}
	}
	if !w.paused.Load() {
		if b, ok := lookupBool(taskKey, "PAUSED"); ok {
			w.paused.Store(b)
		}
	}
}

// envKey normalizes a task definition name into an environment variable
// fragment: upper-cased, with runs of non-alphanumerics as underscores.
func envKey(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// lookup returns the per-task override if present, falling back to the
// generic ALL override.
func lookup(taskKey, prop string) (string, bool) {
	if v := os.Getenv(envPrefix + "_" + taskKey + "_" + prop); v != "" {
		return v, true
	}
	if v := os.Getenv(envPrefix + "_ALL_" + prop); v != "" {
		return v, true
	}
	return "", false
}

func lookupString(taskKey, prop string) (string, bool) {
	return lookup(taskKey, prop)
}

func lookupDuration(taskKey, prop string) (time.Duration, bool) {
	v, ok := lookup(taskKey, prop)
	if !ok {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

func lookupInt(taskKey, prop string) (int, bool) {
	v, ok := lookup(taskKey, prop)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func lookupBool(taskKey, prop string) (bool, bool) {
	v, ok := lookup(taskKey, prop)
	if !ok {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

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
	"fmt"
	"sync"
)

// Context is the per-call side channel handed to a Handler. It carries the
// cancellation context for the execution and lets the handler append log
// lines or adjust the callback delay without constructing a full Result.
//
// Values recorded here are merged into the final Result after the handler
// returns; the handler's own return value takes precedence where it sets
// the same field.
type Context struct {
	context.Context

	mu            sync.Mutex
	logs          []Log
	callbackAfter int64
	callbackSet   bool
}

// NewContext wraps a cancellation context for one task execution.
func NewContext(ctx context.Context) *Context {
	return &Context{Context: ctx}
}

// AddLog appends a formatted, timestamped log line to the eventual result.
// Safe for concurrent use by goroutines the handler spawns.
func (c *Context) AddLog(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, NewLog(line))
}

// SetCallbackAfter requests that the server re-deliver the task after the
// given number of seconds. Only honored when the result status is IN_PROGRESS.
func (c *Context) SetCallbackAfter(seconds int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbackAfter = seconds
	c.callbackSet = true
}

// MergeInto folds the context's recorded logs and callback delay into the
// result. Context values only apply where the handler result left the field
// unset, and the callback delay only to IN_PROGRESS results; a terminal
// result never carries one.
func (c *Context) MergeInto(r *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r.Logs = append(r.Logs, c.logs...)
	if c.callbackSet && r.Status == StatusInProgress && r.CallbackAfterSeconds == 0 {
		r.CallbackAfterSeconds = c.callbackAfter
	}
}

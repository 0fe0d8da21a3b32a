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

package lifecycle

import (
	"bufio"
	"io"
	"log/slog"
	"sync"
)

// ForwardOutput streams a child's stdout and stderr through the given
// logger, one log entry per line, until both streams hit EOF. Stdout
// lines are logged at info, stderr at warn. It blocks, so callers run it
// on its own goroutine per child.
//
// Callers must not call Cmd.Wait until ForwardOutput returns: Wait closes
// the pipes, and closing them under the readers drops buffered output.
func ForwardOutput(child *Child, logger *slog.Logger) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		forwardStream(child.Stdout, logger, slog.LevelInfo)
	}()
	go func() {
		defer wg.Done()
		forwardStream(child.Stderr, logger, slog.LevelWarn)
	}()
	wg.Wait()
}

func forwardStream(r io.Reader, logger *slog.Logger, level slog.Level) {
	scanner := bufio.NewScanner(r)
	// Allow long lines; a child dumping a stack trace should not be
	// truncated at the default 64KB token limit.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		logger.Log(nil, level, scanner.Text())
	}
	if err := scanner.Err(); err != nil && err != io.ErrClosedPipe {
		logger.Debug("child output stream closed", "error", err)
	}
}

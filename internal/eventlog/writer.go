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

package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultRotateBytes is the log size that triggers rotation.
	DefaultRotateBytes = 5 * 1024 * 1024

	// DefaultRotateEvery is how many appends pass between size checks.
	// Stat-ing the log on every tool call would double the write cost
	// for a bound that only needs to hold approximately.
	DefaultRotateEvery = 25
)

// Writer appends JSON lines to one log file. Each hook invocation opens,
// appends once, and closes; no handle outlives the process.
type Writer struct {
	path        string
	rotateBytes int64
	rotateEvery int64
}

// NewWriter creates a writer for the given log path. Zero limits fall
// back to the defaults.
func NewWriter(path string, rotateBytes int64, rotateEvery int) *Writer {
	w := &Writer{path: path, rotateBytes: rotateBytes, rotateEvery: int64(rotateEvery)}
	if w.rotateBytes <= 0 {
		w.rotateBytes = DefaultRotateBytes
	}
	if w.rotateEvery <= 0 {
		w.rotateEvery = DefaultRotateEvery
	}
	return w
}

// Path returns the log file path.
func (w *Writer) Path() string {
	return w.path
}

// Append marshals v and appends it as one line. seq is the caller's
// monotonic append counter; every rotateEvery-th append triggers a size
// check first, renaming an oversized log to a single .1 backup. Callers
// treat the returned error as diagnostic only.
func (w *Writer) Append(v any, seq int64) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal log record: %w", err)
	}

	if seq > 0 && seq%w.rotateEvery == 0 {
		w.maybeRotate()
	}

	if err := os.MkdirAll(filepath.Dir(w.path), 0o700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	_, werr := f.Write(append(data, '\n'))
	cerr := f.Close()
	if werr != nil {
		return fmt.Errorf("failed to write log record: %w", werr)
	}
	if cerr != nil {
		return fmt.Errorf("failed to close log file: %w", cerr)
	}
	return nil
}

// maybeRotate renames the log to its .1 backup when it has outgrown the
// byte threshold, overwriting any previous backup. Failures are ignored;
// the next append keeps writing to the oversized log.
func (w *Writer) maybeRotate() {
	info, err := os.Stat(w.path)
	if err != nil || info.Size() <= w.rotateBytes {
		return
	}
	_ = os.Rename(w.path, w.path+".1")
}

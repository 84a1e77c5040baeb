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

package runstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// RunDir returns the per-run directory under the runtime root.
func RunDir(root, runID string) string {
	return filepath.Join(root, "runs", runID)
}

// StatePath returns the run document path.
func StatePath(root, runID string) string {
	return filepath.Join(RunDir(root, runID), "state.json")
}

// Load reads the run document. A missing or malformed file is prior
// state lost, not an error: a fresh default is synthesized so the
// invocation can proceed. The stored run_id never overrides the caller's.
func Load(root, runID, sessionKey string, now time.Time) *Run {
	data, err := os.ReadFile(StatePath(root, runID))
	if err != nil {
		return New(runID, sessionKey, now)
	}
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return New(runID, sessionKey, now)
	}
	run.RunID = runID
	if run.SessionKey == "" {
		run.SessionKey = sessionKey
	}
	if run.Status == "" {
		run.Status = StatusRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = now
	}
	return &run
}

// Save writes the run document atomically: serialize to a uniquely named
// temp file in the run directory, then rename over the destination.
// Concurrent writers for the same run race and the last rename wins.
func Save(root string, run *Run) error {
	dir := RunDir(root, run.RunID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode run document: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath) // Clean up temp file in case of error

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, StatePath(root, run.RunID)); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

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
	"os"
	"path/filepath"
	"time"
)

// LastRun points tooling at the most recently touched run.
type LastRun struct {
	RunID      string    `json:"run_id"`
	SessionKey string    `json:"session_key,omitempty"`
	StatePath  string    `json:"state_path"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// LastRunPath returns the pointer file path under the runtime root.
func LastRunPath(root string) string {
	return filepath.Join(root, "last-run.json")
}

// WriteLastRun refreshes the pointer file. Best-effort: the pointer is a
// convenience for humans and CLIs, never an input to the pipeline.
func WriteLastRun(root string, run *Run, now time.Time) {
	data, err := json.Marshal(LastRun{
		RunID:      run.RunID,
		SessionKey: run.SessionKey,
		StatePath:  StatePath(root, run.RunID),
		UpdatedAt:  now,
	})
	if err != nil {
		return
	}
	tmpFile, err := os.CreateTemp(root, ".last-run-*.tmp")
	if err != nil {
		return
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return
	}
	if err := tmpFile.Close(); err != nil {
		return
	}
	_ = os.Rename(tmpPath, LastRunPath(root))
}

// ReadLastRun loads the pointer file for CLI consumption.
func ReadLastRun(root string) (*LastRun, bool) {
	data, err := os.ReadFile(LastRunPath(root))
	if err != nil {
		return nil, false
	}
	var lr LastRun
	if err := json.Unmarshal(data, &lr); err != nil || lr.RunID == "" {
		return nil, false
	}
	return &lr, true
}

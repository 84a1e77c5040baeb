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
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// mapping is the persisted SessionKey → run_id record.
type mapping struct {
	RunID      string    `json:"run_id"`
	SessionKey string    `json:"session_key,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func mappingPath(root, hashedKey string) string {
	return filepath.Join(root, "sessions", hashedKey+".json")
}

// ResolveRunID returns the run id bound to a session, creating the
// binding on first use. Creation writes a temp file and links it into
// place, so the mapping either exists with full content or not at all;
// a racing loser gets EEXIST and adopts the winner's id on re-read.
// Returns the id and whether this call created the binding.
//
// A registry that cannot be read or written degrades to a deterministic
// id derived from the hashed key, so sibling invocations still converge
// on one run without any file.
func ResolveRunID(root, hashedKey, sessionKey string, now time.Time) (string, bool) {
	path := mappingPath(root, hashedKey)
	if id, ok := readMapping(path); ok {
		return id, false
	}

	candidate := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "run-" + hashedKey, false
	}
	data, err := json.Marshal(mapping{RunID: candidate, SessionKey: sessionKey, CreatedAt: now})
	if err != nil {
		return "run-" + hashedKey, false
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".session-*.tmp")
	if err != nil {
		return "run-" + hashedKey, false
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return "run-" + hashedKey, false
	}
	if err := tmpFile.Close(); err != nil {
		return "run-" + hashedKey, false
	}

	if err := os.Link(tmpPath, path); err == nil {
		return candidate, true
	} else if errors.Is(err, os.ErrExist) {
		// Lost the race; the winner's file is authoritative. A mapping
		// that is nonetheless unreadable gets replaced whole.
		if id, ok := readMapping(path); ok {
			return id, false
		}
		if os.Rename(tmpPath, path) == nil {
			return candidate, true
		}
	}
	return "run-" + hashedKey, false
}

func readMapping(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	var m mapping
	if err := json.Unmarshal(data, &m); err != nil || m.RunID == "" {
		return "", false
	}
	return m.RunID, true
}

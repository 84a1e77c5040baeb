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

// Package routing ingests decisions produced by the external routing
// subsystem. Decisions are read, never computed: the router drops a file
// per session and this package picks it up.
package routing

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Dir is the directory under the runtime root where the routing
// subsystem drops per-session decision files.
const Dir = "routing-sessions"

// Decision is the routing outcome merged into the run document.
type Decision struct {
	Completed  bool    `json:"completed"`
	Decision   string  `json:"decision,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// Load reads the decision file for a hashed session key. Returns false
// when the file is absent, unreadable, malformed, or carries no decision
// yet; ingestion never blocks the pipeline on router problems.
func Load(root, hashedKey string) (*Decision, bool) {
	data, err := os.ReadFile(filepath.Join(root, Dir, hashedKey+".json"))
	if err != nil {
		return nil, false
	}
	var doc struct {
		Completed  bool      `json:"completed"`
		Decision   string    `json:"decision"`
		Confidence float64   `json:"confidence"`
		Reasoning  string    `json:"reasoning"`
		Routing    *Decision `json:"routing"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false
	}
	d := Decision{
		Completed:  doc.Completed,
		Decision:   doc.Decision,
		Confidence: doc.Confidence,
		Reasoning:  doc.Reasoning,
	}
	// Some router versions nest the outcome under a "routing" key.
	if doc.Routing != nil && !d.Completed && d.Decision == "" {
		d = *doc.Routing
	}
	if !d.Completed {
		return nil, false
	}
	return &d, true
}

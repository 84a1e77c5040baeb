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

// Package failure spots application-level failures in observed tool
// results. A detected failure is a state transition on the run document,
// never a thrown error.
package failure

import (
	"encoding/json"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// DefaultMarkers are the substrings that flag a tool result as failed
// when no explicit error signal is present.
func DefaultMarkers() []string {
	return []string{"error:", "fatal:", "exception", "traceback", "panic:", "command failed"}
}

// markerScanLimit bounds how much of a result gets scanned. Error
// output leads with its marker; a match 100KiB deep is noise.
const markerScanLimit = 8 * 1024

// Detector classifies tool results.
type Detector struct {
	markers []string
	program *vm.Program
}

// NewDetector builds a detector from marker substrings and an optional
// predicate expression over {agent, tool, phase, result, ok}. An
// unparseable predicate is dropped; markers still apply.
func NewDetector(markers []string, predicate string) *Detector {
	d := &Detector{markers: markers}
	if len(d.markers) == 0 {
		d.markers = DefaultMarkers()
	}
	if predicate != "" {
		program, err := expr.Compile(predicate,
			expr.Env(map[string]interface{}{}),
			expr.AllowUndefinedVariables(),
			expr.AsBool(),
		)
		if err == nil {
			d.program = program
		}
	}
	return d
}

// Detect inspects one post-phase tool result. Returns the failure type
// and true when the result looks failed.
func (d *Detector) Detect(agent, tool, phase, result string, ok bool) (string, bool) {
	if !ok {
		return "tool_error", true
	}
	if m := d.matchMarker(result); m != "" {
		return "marker:" + m, true
	}
	if d.program != nil {
		env := map[string]interface{}{
			"agent":  agent,
			"tool":   tool,
			"phase":  phase,
			"result": result,
			"ok":     ok,
		}
		if out, err := expr.Run(d.program, env); err == nil {
			if failed, isBool := out.(bool); isBool && failed {
				return "predicate", true
			}
		}
	}
	return "", false
}

func (d *Detector) matchMarker(result string) string {
	if result == "" {
		return ""
	}
	window := result
	if len(window) > markerScanLimit {
		window = window[:markerScanLimit]
	}
	window = strings.ToLower(window)
	for _, m := range d.markers {
		if m != "" && strings.Contains(window, strings.ToLower(m)) {
			return m
		}
	}
	return ""
}

// ResultOK reads the explicit error signals a tool result may carry:
// is_error, success, or a non-empty error field. Absent signals mean ok;
// a result that is not a JSON object also means ok.
func ResultOK(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return true
	}
	var doc struct {
		IsError *bool           `json:"is_error"`
		Success *bool           `json:"success"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return true
	}
	if doc.IsError != nil && *doc.IsError {
		return false
	}
	if doc.Success != nil && !*doc.Success {
		return false
	}
	if len(doc.Error) > 0 && string(doc.Error) != "null" && string(doc.Error) != `""` {
		return false
	}
	return true
}

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

package failure

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDetectMarkers(t *testing.T) {
	d := NewDetector(nil, "")

	tests := []struct {
		name     string
		result   string
		ok       bool
		wantType string
		want     bool
	}{
		{"explicit not ok", "fine output", false, "tool_error", true},
		{"error marker", "Error: no such file or directory", true, "marker:error:", true},
		{"traceback", "Traceback (most recent call last):\n  File ...", true, "marker:traceback", true},
		{"panic", "panic: runtime error: index out of range", true, "marker:panic:", true},
		{"clean output", "wrote 3 files", true, "", false},
		{"the word error alone is not a marker", "no errors were found", true, "", false},
		{"empty result", "", true, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotType, got := d.Detect("planner", "Bash", "post-tool-use", tt.result, tt.ok)
			if got != tt.want || gotType != tt.wantType {
				t.Errorf("Detect = (%q, %v), want (%q, %v)", gotType, got, tt.wantType, tt.want)
			}
		})
	}
}

func TestDetectMarkerBeyondScanWindow(t *testing.T) {
	d := NewDetector(nil, "")
	result := strings.Repeat("x", markerScanLimit) + "Error: buried"
	if _, got := d.Detect("a", "Bash", "post-tool-use", result, true); got {
		t.Error("marker beyond the scan window was detected")
	}
}

func TestDetectCustomMarkers(t *testing.T) {
	d := NewDetector([]string{"BUILD FAILED"}, "")
	if _, got := d.Detect("a", "Bash", "post-tool-use", "build failed after 3s", true); !got {
		t.Error("custom marker not matched case-insensitively")
	}
	if _, got := d.Detect("a", "Bash", "post-tool-use", "Error: x", true); got {
		t.Error("default marker matched despite custom marker list")
	}
}

func TestDetectPredicate(t *testing.T) {
	d := NewDetector([]string{"never-matches"}, `tool == "Bash" && result contains "exit status"`)

	typ, got := d.Detect("planner", "Bash", "post-tool-use", "exit status 2", true)
	if !got || typ != "predicate" {
		t.Errorf("Detect = (%q, %v), want (predicate, true)", typ, got)
	}
	if _, got := d.Detect("planner", "Read", "post-tool-use", "exit status 2", true); got {
		t.Error("predicate matched the wrong tool")
	}
}

func TestDetectBadPredicateIgnored(t *testing.T) {
	d := NewDetector(nil, `this is not ((( an expression`)
	typ, got := d.Detect("planner", "Bash", "post-tool-use", "Error: x", true)
	if !got || typ != "marker:error:" {
		t.Errorf("markers stopped working under a broken predicate: (%q, %v)", typ, got)
	}
}

func TestResultOK(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{"empty", ``, true},
		{"plain object", `{"output":"done"}`, true},
		{"is_error true", `{"is_error":true,"output":"boom"}`, false},
		{"is_error false", `{"is_error":false}`, true},
		{"success false", `{"success":false}`, false},
		{"error string", `{"error":"no such tool"}`, false},
		{"error null", `{"error":null}`, true},
		{"error empty string", `{"error":""}`, true},
		{"bare string result", `"all good"`, true},
		{"malformed", `{"is_error":`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResultOK(json.RawMessage(tt.raw)); got != tt.want {
				t.Errorf("ResultOK(%s) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestInvokeBundleRunsCommand(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "bundle-arg")

	script := filepath.Join(dir, "bundle.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nprintf '%s' \"$2\" > "+out+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	InvokeBundle(script+" --capture", BundleRequest{
		TraceID:     "0123456789abcdef0123456789abcdef",
		SpanID:      "0123456789abcdef",
		RunID:       "run-1",
		SessionKey:  "cc-abc",
		FailureType: "marker:error:",
	})

	var data []byte
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		var err error
		if data, err = os.ReadFile(out); err == nil && len(data) > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	var req BundleRequest
	if err := json.Unmarshal(data, &req); err != nil {
		t.Fatalf("bundle argument is not valid JSON: %v (%q)", err, data)
	}
	if req.RunID != "run-1" || req.FailureType != "marker:error:" {
		t.Errorf("bundle request = %+v", req)
	}
}

func TestInvokeBundleMissingCommand(t *testing.T) {
	// Must not panic or block.
	InvokeBundle("", BundleRequest{})
	InvokeBundle("/nonexistent/binary-xyz", BundleRequest{RunID: "run-1"})
}

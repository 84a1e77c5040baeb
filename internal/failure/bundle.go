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
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// BundleRequest is the JSON argument handed to the external bundle
// generator when a failure is detected.
type BundleRequest struct {
	TraceID         string      `json:"trace_id"`
	SpanID          string      `json:"span_id"`
	RunID           string      `json:"run_id"`
	SessionKey      string      `json:"session_key"`
	FailureType     string      `json:"failure_type"`
	TriggeringEvent interface{} `json:"triggering_event,omitempty"`
}

// InvokeBundle launches the configured bundle command with the request
// appended as a JSON argument. Fire-and-forget: the command is started,
// never awaited, and every error is swallowed. The generator outliving
// this process is expected and fine.
func InvokeBundle(command string, req BundleRequest) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return
	}
	data, err := json.Marshal(req)
	if err != nil {
		return
	}
	args := append(parts[1:], string(data))
	cmd := exec.Command(parts[0], args...)
	// The generator may itself run tools that fire hooks; the guard keeps
	// those invocations from recursing back into the engine.
	cmd.Env = append(os.Environ(), fmt.Sprintf("BATON_HOOK_GUARD=%d", os.Getpid()))
	if err := cmd.Start(); err != nil {
		return
	}
	// Reap in the background if we are still alive when it exits.
	go func() { _ = cmd.Wait() }()
}

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

package hookio

import (
	"encoding/json"
	"io"
)

// gateResponse is the answer for phases the host blocks on. The engine
// observes and never vetoes, so the decision is always approve.
type gateResponse struct {
	Decision string `json:"decision"`
}

// observeResponse acknowledges an observational phase.
type observeResponse struct {
	HookSpecificOutput hookSpecificOutput `json:"hookSpecificOutput"`
}

type hookSpecificOutput struct {
	HookEventName string `json:"hookEventName"`
}

// Response returns the protocol answer for a phase. This is the one shape
// the host accepts for that phase; anything else risks stalling the
// observed workflow, so callers emit it verbatim even after internal
// failures.
func Response(p Phase) []byte {
	var v any
	if p.Gate() {
		v = gateResponse{Decision: "approve"}
	} else {
		v = observeResponse{
			HookSpecificOutput: hookSpecificOutput{HookEventName: p.HookEventName()},
		}
	}
	out, err := json.Marshal(v)
	if err != nil {
		if p.Gate() {
			return []byte(`{"decision":"approve"}`)
		}
		return []byte(`{"hookSpecificOutput":{"hookEventName":"` + p.HookEventName() + `"}}`)
	}
	return out
}

// WriteResponse writes the phase response and a trailing newline.
func WriteResponse(w io.Writer, p Phase) error {
	if _, err := w.Write(Response(p)); err != nil {
		return err
	}
	_, err := w.Write([]byte("\n"))
	return err
}

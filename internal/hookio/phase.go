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
	"fmt"
	"strings"
)

// Phase identifies the hook lifecycle point of one invocation. The CLI
// spelling (pre-tool-use) and the host's event name (PreToolUse) are both
// accepted on input; internally the CLI spelling is canonical.
type Phase string

const (
	PhasePreToolUse    Phase = "pre-tool-use"
	PhasePostToolUse   Phase = "post-tool-use"
	PhaseSubagentStart Phase = "subagent-start"
	PhaseSubagentStop  Phase = "subagent-stop"
	PhaseSessionStart  Phase = "session-start"
	PhaseStop          Phase = "stop"
)

// Phases lists every phase the engine registers hooks for, in lifecycle
// order.
var Phases = []Phase{
	PhaseSessionStart,
	PhasePreToolUse,
	PhasePostToolUse,
	PhaseSubagentStart,
	PhaseSubagentStop,
	PhaseStop,
}

// ParsePhase resolves a CLI argument or hook event name to a Phase.
func ParsePhase(s string) (Phase, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pre-tool-use", "pretooluse", "pre":
		return PhasePreToolUse, nil
	case "post-tool-use", "posttooluse", "post":
		return PhasePostToolUse, nil
	case "subagent-start", "subagentstart":
		return PhaseSubagentStart, nil
	case "subagent-stop", "subagentstop":
		return PhaseSubagentStop, nil
	case "session-start", "sessionstart":
		return PhaseSessionStart, nil
	case "stop", "session-end", "sessionend":
		return PhaseStop, nil
	default:
		return "", fmt.Errorf("unknown hook phase %q", s)
	}
}

// HookEventName returns the host-side event name for the phase, used in
// hook registration and in observational responses.
func (p Phase) HookEventName() string {
	switch p {
	case PhasePreToolUse:
		return "PreToolUse"
	case PhasePostToolUse:
		return "PostToolUse"
	case PhaseSubagentStart:
		return "SubagentStart"
	case PhaseSubagentStop:
		return "SubagentStop"
	case PhaseSessionStart:
		return "SessionStart"
	case PhaseStop:
		return "Stop"
	default:
		return string(p)
	}
}

// Gate reports whether the host blocks on this phase's response. Gate
// phases must answer with an explicit decision; everything else is
// observational.
func (p Phase) Gate() bool {
	return p == PhasePreToolUse
}

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

package tracing

import (
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/tombee/baton/internal/hookio"
)

// EventType labels what happened, independent of where the span sits.
type EventType string

const (
	EventAgentStart    EventType = "AgentStart"
	EventAgentStop     EventType = "AgentStop"
	EventHandoff       EventType = "Handoff"
	EventToolCallStart EventType = "ToolCallStart"
	EventToolCallStop  EventType = "ToolCallStop"
	EventSpanStart     EventType = "SpanStart"
	EventSpanEnd       EventType = "SpanEnd"
)

// SpanKind labels what kind of work a span represents.
type SpanKind string

const (
	KindAgent    SpanKind = "agent"
	KindTool     SpanKind = "tool"
	KindRouter   SpanKind = "router"
	KindArtifact SpanKind = "artifact"
	KindChain    SpanKind = "chain"
)

// fileTools are tools whose primary argument is a filesystem path.
var fileTools = map[string]bool{
	"read": true, "write": true, "edit": true,
	"multiedit": true, "notebookedit": true,
}

// IsTaskTool reports whether a tool name is the delegation tool. Task
// calls are handoffs regardless of phase.
func IsTaskTool(tool string) bool {
	return strings.EqualFold(tool, "Task")
}

// EventTypeFor maps a hook phase (plus the tool for tool phases) to the
// emitted event type.
func EventTypeFor(phase hookio.Phase, tool string) EventType {
	switch phase {
	case hookio.PhasePreToolUse:
		if IsTaskTool(tool) {
			return EventHandoff
		}
		return EventToolCallStart
	case hookio.PhasePostToolUse:
		if IsTaskTool(tool) {
			return EventHandoff
		}
		return EventToolCallStop
	case hookio.PhaseSubagentStart:
		return EventAgentStart
	case hookio.PhaseSubagentStop:
		return EventAgentStop
	case hookio.PhaseSessionStart:
		return EventSpanStart
	case hookio.PhaseStop:
		return EventSpanEnd
	default:
		return EventSpanStart
	}
}

// SpanKindFor derives the span kind for an event. contextGlobs are
// doublestar patterns marking artifact directories; a file tool whose
// target path matches one produces an artifact span.
func SpanKindFor(phase hookio.Phase, agent, tool string, toolInput json.RawMessage, contextGlobs []string) SpanKind {
	switch phase {
	case hookio.PhaseSubagentStart, hookio.PhaseSubagentStop:
		return KindAgent
	case hookio.PhaseSessionStart, hookio.PhaseStop:
		return KindChain
	}

	if IsTaskTool(tool) {
		return KindChain
	}
	if isRouterName(agent) || isRouterName(tool) {
		return KindRouter
	}
	if fileTools[strings.ToLower(tool)] {
		if path := pathFromToolInput(toolInput); path != "" && matchesAny(path, contextGlobs) {
			return KindArtifact
		}
	}
	return KindTool
}

func isRouterName(name string) bool {
	l := strings.ToLower(name)
	return strings.Contains(l, "router") || strings.Contains(l, "routing")
}

// pathFromToolInput pulls the target path out of a file tool's input.
func pathFromToolInput(input json.RawMessage) string {
	if len(input) == 0 {
		return ""
	}
	var fields struct {
		FilePath     string `json:"file_path"`
		FilePathAlt  string `json:"filePath"`
		Path         string `json:"path"`
		NotebookPath string `json:"notebook_path"`
	}
	if err := json.Unmarshal(input, &fields); err != nil {
		return ""
	}
	for _, p := range []string{fields.FilePath, fields.FilePathAlt, fields.Path, fields.NotebookPath} {
		if p != "" {
			return p
		}
	}
	return ""
}

func matchesAny(path string, globs []string) bool {
	slashed := filepath.ToSlash(path)
	for _, glob := range globs {
		if ok, err := doublestar.Match(glob, slashed); err == nil && ok {
			return true
		}
	}
	return false
}

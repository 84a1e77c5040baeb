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
	"time"
)

// MaxParentStack bounds the persisted nesting depth. Beyond it the oldest
// frame is dropped; a runaway delegation chain must not grow the run
// document forever.
const MaxParentStack = 20

// State is the trace reconstruction state persisted inside the run
// document. It is the process-spanning replacement for what an in-process
// tracer keeps on its call stack: which span each active agent owns, how to
// unwind when one stops, and which tool call is currently in flight.
//
// Callers must EnsureRoot before any other operation of an invocation.
type State struct {
	// TraceID is the run-stable trace identifier, set exactly once.
	TraceID string `json:"trace_id,omitempty"`

	// RootSpanID anchors every span whose natural parent is unknown.
	RootSpanID string `json:"root_span_id,omitempty"`

	// Sampled is the head-sampling verdict for the whole run.
	Sampled bool `json:"sampled,omitempty"`

	// AgentSpans maps each active agent to its open span: the persisted
	// call frame table.
	AgentSpans map[string]string `json:"agent_spans,omitempty"`

	// ParentStack holds restore targets: the agent that was current before
	// each still-open agent start. Stopping pops one frame. Entries can be
	// empty (a start from the root level).
	ParentStack []string `json:"subagent_parent_stack,omitempty"`

	// InFlight is the tool call started by the last pre phase and not yet
	// closed by a post phase.
	InFlight *ToolFrame `json:"in_flight_tool,omitempty"`
}

// ToolFrame records one started tool call across the pre/post process
// boundary.
type ToolFrame struct {
	Agent        string    `json:"agent,omitempty"`
	Tool         string    `json:"tool"`
	SpanID       string    `json:"span_id"`
	ParentSpanID string    `json:"parent_span_id,omitempty"`
	StartedAt    time.Time `json:"started_at"`
}

// Span is a span reference emitted on an event. ParentSpanID is empty only
// for the root span itself.
type Span struct {
	SpanID       string
	ParentSpanID string
}

// EnsureRoot creates the root trace context on first use and is a no-op
// afterwards. The sampling verdict is derived from the trace id so every
// invocation of the run agrees on it.
func (s *State) EnsureRoot(sampleRate float64) Span {
	if s.TraceID == "" {
		tid := NewTraceID()
		s.TraceID = tid.String()
		s.RootSpanID = NewSpanID().String()
		s.Sampled = SampledFromTraceID(tid, sampleRate)
	}
	return Span{SpanID: s.RootSpanID}
}

// RootSpan returns the root span reference.
func (s *State) RootSpan() Span {
	return Span{SpanID: s.RootSpanID}
}

// CurrentSpanID returns the open span of the given agent, falling back to
// the root span.
func (s *State) CurrentSpanID(agent string) string {
	if agent != "" {
		if id, ok := s.AgentSpans[agent]; ok {
			return id
		}
	}
	return s.RootSpanID
}

// EnterAgent opens a span for an agent start. restoreTo is the agent that
// was current before the start (empty for a root-level start); it becomes
// the span parent and the frame pushed for the matching stop to unwind.
func (s *State) EnterAgent(agent, restoreTo string) Span {
	parent := s.CurrentSpanID(restoreTo)
	id := NewChildSpanID(parent)

	if s.AgentSpans == nil {
		s.AgentSpans = make(map[string]string)
	}
	s.AgentSpans[agent] = id

	s.ParentStack = append(s.ParentStack, restoreTo)
	if len(s.ParentStack) > MaxParentStack {
		s.ParentStack = s.ParentStack[len(s.ParentStack)-MaxParentStack:]
	}

	return Span{SpanID: id, ParentSpanID: parent}
}

// ExitAgent closes an agent's span and unwinds one stack frame, returning
// the agent that becomes current. A stop with no recorded start degrades
// to a fresh root-parented span, leaves the stack alone, and reports
// matched=false so the caller keeps its current agent.
func (s *State) ExitAgent(agent string) (span Span, restored string, matched bool) {
	spanID, ok := s.AgentSpans[agent]
	if !ok {
		return Span{
			SpanID:       NewChildSpanID(s.RootSpanID),
			ParentSpanID: s.RootSpanID,
		}, "", false
	}

	delete(s.AgentSpans, agent)

	if n := len(s.ParentStack); n > 0 {
		restored = s.ParentStack[n-1]
		s.ParentStack = s.ParentStack[:n-1]
	}

	return Span{
		SpanID:       spanID,
		ParentSpanID: s.CurrentSpanID(restored),
	}, restored, true
}

// StartTool opens a span for a tool call and records it as in flight. An
// unclosed previous frame is simply overwritten; its post event will take
// the degraded path.
func (s *State) StartTool(agent, tool string, now time.Time) Span {
	parent := s.CurrentSpanID(agent)
	id := NewChildSpanID(parent)

	s.InFlight = &ToolFrame{
		Agent:        agent,
		Tool:         tool,
		SpanID:       id,
		ParentSpanID: parent,
		StartedAt:    now,
	}

	return Span{SpanID: id, ParentSpanID: parent}
}

// EndTool closes the in-flight tool call. When the post phase does not
// line up with the recorded frame the span degrades to a root parent and
// the frame is cleared either way, so one interleaving cannot poison later
// pairings. durationMS is zero when unmatched.
func (s *State) EndTool(agent, tool string, now time.Time) (span Span, durationMS int64, matched bool) {
	frame := s.InFlight
	s.InFlight = nil

	if frame == nil || frame.Tool != tool || frame.Agent != agent {
		return Span{
			SpanID:       NewChildSpanID(s.RootSpanID),
			ParentSpanID: s.RootSpanID,
		}, 0, false
	}

	durationMS = now.Sub(frame.StartedAt).Milliseconds()
	if durationMS < 0 {
		durationMS = 0
	}

	return Span{SpanID: frame.SpanID, ParentSpanID: frame.ParentSpanID}, durationMS, true
}

// Depth returns the current reconstructed nesting depth.
func (s *State) Depth() int {
	return len(s.ParentStack)
}

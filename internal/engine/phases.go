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

package engine

import (
	"time"

	"github.com/tombee/baton/internal/delegation"
	"github.com/tombee/baton/internal/eventlog"
	"github.com/tombee/baton/internal/failure"
	"github.com/tombee/baton/internal/hookio"
	"github.com/tombee/baton/internal/log"
	"github.com/tombee/baton/internal/runstate"
	"github.com/tombee/baton/internal/tracing"
)

// applyPreTool opens a tool span. A Task dispatch additionally records a
// pending delegation so the subagent start that follows can be attributed
// to the delegating agent.
func (e *Engine) applyPreTool(run *runstate.Run, p hookio.Payload, ev *eventlog.Event, now time.Time) {
	agent := p.Agent
	if agent == "" {
		agent = run.CurrentAgent
	}
	tool := p.Tool

	ev.Agent = agent
	ev.Tool = tool
	ev.EventType = string(tracing.EventTypeFor(hookio.PhasePreToolUse, tool))
	ev.SpanKind = string(tracing.SpanKindFor(hookio.PhasePreToolUse, agent, tool, p.ToolInput, e.cfg.ContextDirs))

	if tracing.IsTaskTool(tool) {
		target := delegation.TargetAgent(p.ToolInput)
		run.Pending.Push(delegation.Pending{Agent: target, Parent: agent, TS: now})
		ev.DelegatedAgent = target
	}

	span := run.Trace.StartTool(agent, tool, now)
	ev.SpanID = span.SpanID
	ev.ParentSpanID = span.ParentSpanID

	run.Metrics.StartTool(agent, tool, now)
	run.CurrentActivity = e.activity(p, tool)
}

// applyPostTool closes the in-flight tool span, folds the duration into
// the aggregates and checks the result for failure. A detected failure is
// recorded on the run and, when enabled, turned into a bundle request.
func (e *Engine) applyPostTool(run *runstate.Run, p hookio.Payload, ev *eventlog.Event, now time.Time) *failure.BundleRequest {
	agent := p.Agent
	if agent == "" {
		agent = run.CurrentAgent
	}
	tool := p.Tool
	if tool == "" && run.Trace.InFlight != nil {
		tool = run.Trace.InFlight.Tool
	}

	ev.Agent = agent
	ev.Tool = tool
	ev.EventType = string(tracing.EventTypeFor(hookio.PhasePostToolUse, tool))
	ev.SpanKind = string(tracing.SpanKindFor(hookio.PhasePostToolUse, agent, tool, p.ToolInput, e.cfg.ContextDirs))

	span, durationMS, matched := run.Trace.EndTool(agent, tool, now)
	ev.SpanID = span.SpanID
	ev.ParentSpanID = span.ParentSpanID

	ms := run.Metrics.EndTool(agent, tool, now)
	if matched {
		ev.DurationMS = durationMS
	} else {
		ev.DurationMS = ms
	}

	ok := failure.ResultOK(p.ToolResult)
	det := failure.NewDetector(e.cfg.FailureMarkers, e.cfg.FailurePredicate)
	kind, failed := det.Detect(agent, tool, string(hookio.PhasePostToolUse), string(p.ToolResult), ok)
	if !failed {
		return nil
	}

	ev.OK = false
	ev.Error = kind
	run.RecordError(runstate.RunError{TS: now, Agent: agent, Tool: tool, Message: kind})
	e.logger.Debug("tool failure detected",
		log.String("tool", tool), log.String("failure_type", kind))

	if !e.cfg.FailureBundle || e.cfg.FailureBundleCmd == "" {
		return nil
	}
	return &failure.BundleRequest{
		TraceID:         run.Trace.TraceID,
		SpanID:          ev.SpanID,
		RunID:           run.RunID,
		SessionKey:      run.SessionKey,
		FailureType:     kind,
		TriggeringEvent: ev,
	}
}

// applyAgentStart resolves which agent actually started, attributes it to
// a pending delegation when one fits, and pushes the interrupted agent so
// the matching stop can restore it.
func (e *Engine) applyAgentStart(run *runstate.Run, p hookio.Payload, ev *eventlog.Event, now time.Time) {
	name := p.Agent

	var consumed delegation.Pending
	var attributed bool
	if name != "" {
		// Prefer the delegation that names this agent; alias drift between
		// the Task input and the start payload falls back to oldest-first.
		consumed, attributed = run.Pending.ConsumeMatching(name, now, e.cfg.PendingTTL)
		if !attributed {
			consumed, attributed = run.Pending.Consume(now, e.cfg.PendingTTL)
		}
	} else {
		consumed, attributed = run.Pending.Consume(now, e.cfg.PendingTTL)
		if attributed && consumed.Agent != "" {
			name = consumed.Agent
		}
	}
	if name == "" {
		name = run.CurrentAgent
	}
	if name == "" {
		name = "subagent"
	}

	restoreTo := run.CurrentAgent
	if attributed && consumed.Parent != "" {
		restoreTo = consumed.Parent
	}

	span := run.Trace.EnterAgent(name, restoreTo)
	ev.Agent = name
	ev.SpanID = span.SpanID
	ev.ParentSpanID = span.ParentSpanID
	ev.EventType = string(tracing.EventTypeFor(hookio.PhaseSubagentStart, ""))
	ev.SpanKind = string(tracing.SpanKindFor(hookio.PhaseSubagentStart, name, "", nil, e.cfg.ContextDirs))

	run.CurrentAgent = name
	run.CurrentActivity = name
}

// applyAgentStop closes the agent frame and restores whoever the matching
// start interrupted. A stop with no matching frame degrades to a
// root-parented span and leaves the current agent untouched.
func (e *Engine) applyAgentStop(run *runstate.Run, p hookio.Payload, ev *eventlog.Event) {
	name := p.Agent
	if name == "" {
		name = run.CurrentAgent
	}

	span, restored, matched := run.Trace.ExitAgent(name)
	ev.Agent = name
	ev.SpanID = span.SpanID
	ev.ParentSpanID = span.ParentSpanID
	ev.EventType = string(tracing.EventTypeFor(hookio.PhaseSubagentStop, ""))
	ev.SpanKind = string(tracing.SpanKindFor(hookio.PhaseSubagentStop, name, "", nil, e.cfg.ContextDirs))

	if matched {
		run.CurrentAgent = restored
		run.CurrentActivity = ""
	}
}

// applySessionStart anchors the run on its root span.
func (e *Engine) applySessionStart(run *runstate.Run, p hookio.Payload, ev *eventlog.Event) {
	root := run.Trace.RootSpan()
	ev.SpanID = root.SpanID
	ev.EventType = string(tracing.EventTypeFor(hookio.PhaseSessionStart, ""))
	ev.SpanKind = string(tracing.SpanKindFor(hookio.PhaseSessionStart, p.Agent, "", nil, e.cfg.ContextDirs))

	if p.Agent != "" {
		run.CurrentAgent = p.Agent
		ev.Agent = p.Agent
	}
}

// applyStop closes the root span and marks the run complete. A run that
// already recorded failures stays failed.
func (e *Engine) applyStop(run *runstate.Run, ev *eventlog.Event) {
	root := run.Trace.RootSpan()
	ev.SpanID = root.SpanID
	ev.Agent = run.CurrentAgent
	ev.EventType = string(tracing.EventTypeFor(hookio.PhaseStop, ""))
	ev.SpanKind = string(tracing.SpanKindFor(hookio.PhaseStop, run.CurrentAgent, "", nil, e.cfg.ContextDirs))

	run.Complete()
	run.CurrentActivity = ""
}

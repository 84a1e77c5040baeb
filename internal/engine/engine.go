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

// Package engine runs one hook invocation end to end: read the payload,
// resolve the session and run, fold the event into persisted state, emit
// the side-channel artifacts, answer the host. Each invocation is a fresh
// short-lived process; everything that must survive lives in the runtime
// directory.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/tombee/baton/internal/config"
	"github.com/tombee/baton/internal/eventlog"
	"github.com/tombee/baton/internal/failure"
	"github.com/tombee/baton/internal/hookio"
	"github.com/tombee/baton/internal/jq"
	"github.com/tombee/baton/internal/log"
	"github.com/tombee/baton/internal/routing"
	"github.com/tombee/baton/internal/runstate"
	"github.com/tombee/baton/internal/session"
	"github.com/tombee/baton/internal/tracing"
)

// GuardEnv short-circuits nested invocations. Any process the engine
// spawns sets it, so hooks fired by that process answer immediately
// instead of recursing into the pipeline.
const GuardEnv = "BATON_HOOK_GUARD"

// Engine processes hook invocations against a runtime directory.
type Engine struct {
	cfg    *config.Config
	root   string
	logger *slog.Logger
	jq     *jq.Extractor

	// stdin, stdout and now are swappable for tests.
	stdin  io.Reader
	stdout io.Writer
	now    func() time.Time
}

// New creates an Engine rooted at the runtime directory. A nil config
// gets the defaults; a nil logger is silenced.
func New(root string, cfg *config.Config, logger *slog.Logger) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = log.Silent()
	}
	return &Engine{
		cfg:    cfg,
		root:   root,
		logger: log.WithComponent(logger, "engine"),
		jq:     jq.NewExtractor(0, 0),
		stdin:  os.Stdin,
		stdout: os.Stdout,
		now:    time.Now,
	}
}

// outcome carries what a phase handler produced beyond run state: the
// event line and, on detected failure, the bundle request to dispatch.
type outcome struct {
	ev     *eventlog.Event
	bundle *failure.BundleRequest
}

// Run executes one invocation for the given phase and writes the protocol
// response. The response is always the fixed shape for the phase: state
// processing runs under the wall-clock budget and is abandoned, not
// awaited, when the budget expires. The returned error only reports a
// failed response write; pipeline failures are logged and swallowed.
func (e *Engine) Run(phase hookio.Phase) error {
	if os.Getenv(GuardEnv) != "" {
		return hookio.WriteResponse(e.stdout, phase)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("pipeline panicked",
					log.String("phase", string(phase)),
					log.Attr("panic", fmt.Sprint(r)))
			}
		}()
		e.process(phase)
	}()

	timer := time.NewTimer(e.cfg.Timeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		e.logger.Warn("invocation budget expired, answering with default",
			log.String("phase", string(phase)),
			log.Duration("budget", e.cfg.Timeout.Milliseconds()))
	}

	return hookio.WriteResponse(e.stdout, phase)
}

// process is the pipeline body: payload in, state folded, artifacts out.
func (e *Engine) process(phase hookio.Phase) {
	now := e.now()

	raw := hookio.ReadBounded(e.stdin, hookio.ReadLimits{
		Total:    e.cfg.StdinTotalTimeout,
		Idle:     e.cfg.StdinIdleTimeout,
		MaxBytes: e.cfg.StdinMaxBytes,
	})
	p := hookio.Extract(raw)
	e.applyExtractOverrides(&p)

	res := session.New(e.root, e.cfg.SessionTTL).Resolve(p.SessionID)
	hashed := session.Hash(res.Key)
	runID, created := runstate.ResolveRunID(e.root, hashed, res.Key, now)
	run := runstate.Load(e.root, runID, res.Key, now)
	if created {
		e.logger.Debug("registered run",
			log.String("run_id", runID),
			log.String("session_source", string(res.Source)))
	}

	e.ingestRouting(run, hashed)

	out := e.apply(run, phase, p, now)
	run.Touch(now)
	run.Metrics.Prune(e.cfg.MetricsCap)

	if err := runstate.Save(e.root, run); err != nil {
		e.logger.Warn("run state not persisted", log.Error(err))
	}

	e.sidecars(run, phase, p, out, now)
}

// apply dispatches to the phase handler and stamps the shared trace
// context onto the event afterwards.
func (e *Engine) apply(run *runstate.Run, phase hookio.Phase, p hookio.Payload, now time.Time) outcome {
	run.Trace.EnsureRoot(e.cfg.SampleRate)

	ev := &eventlog.Event{
		TS:         now,
		RunID:      run.RunID,
		SessionKey: run.SessionKey,
		Phase:      string(phase),
		TraceID:    run.Trace.TraceID,
		OK:         true,
	}
	out := outcome{ev: ev}

	switch phase {
	case hookio.PhasePreToolUse:
		e.applyPreTool(run, p, ev, now)
	case hookio.PhasePostToolUse:
		out.bundle = e.applyPostTool(run, p, ev, now)
	case hookio.PhaseSubagentStart:
		e.applyAgentStart(run, p, ev, now)
	case hookio.PhaseSubagentStop:
		e.applyAgentStop(run, p, ev)
	case hookio.PhaseSessionStart:
		e.applySessionStart(run, p, ev)
	case hookio.PhaseStop:
		e.applyStop(run, ev)
	}

	ev.Activity = run.CurrentActivity
	ev.Traceparent = tracing.Traceparent(run.Trace.TraceID, ev.SpanID, run.Trace.Sampled)
	ev.Baggage = tracing.Baggage(e.baggageMembers(run, ev.Agent))
	return out
}

// ingestRouting merges a completed routing decision for this session into
// the run document, once. Decisions in progress are left for a later
// invocation to pick up.
func (e *Engine) ingestRouting(run *runstate.Run, hashedKey string) {
	if run.Routing != nil && run.Routing.Completed {
		return
	}
	if d, ok := routing.Load(e.root, hashedKey); ok {
		run.Routing = d
		e.logger.Debug("routing decision ingested",
			log.String("decision", d.Decision))
	}
}

// applyExtractOverrides lets configured jq expressions replace the
// alias-based field extraction for payload shapes the aliases miss.
func (e *Engine) applyExtractOverrides(p *hookio.Payload) {
	if len(e.cfg.Extract) == 0 {
		return
	}
	ctx := context.Background()
	if expr := e.cfg.Extract["session"]; expr != "" {
		if v, ok := e.jq.ExtractString(ctx, expr, json.RawMessage(p.Raw)); ok {
			p.SessionID = v
		}
	}
	if expr := e.cfg.Extract["agent"]; expr != "" {
		if v, ok := e.jq.ExtractString(ctx, expr, json.RawMessage(p.Raw)); ok {
			p.Agent = v
		}
	}
	if expr := e.cfg.Extract["tool"]; expr != "" {
		if v, ok := e.jq.ExtractString(ctx, expr, json.RawMessage(p.Raw)); ok {
			p.Tool = v
		}
	}
}

// activity derives the human-readable current activity for a tool call.
func (e *Engine) activity(p hookio.Payload, tool string) string {
	if expr := e.cfg.Extract["activity"]; expr != "" {
		if v, ok := e.jq.ExtractString(context.Background(), expr, json.RawMessage(p.Raw)); ok {
			return v
		}
	}
	return tool
}

func (e *Engine) baggageMembers(run *runstate.Run, agent string) map[string]string {
	members := map[string]string{
		"session": run.SessionKey,
		"run":     run.RunID,
	}
	if agent != "" {
		members["agent"] = agent
	}
	// An orchestrator above the host can tag the whole run.
	if wf := os.Getenv("BATON_WORKFLOW_ID"); wf != "" {
		members["workflow"] = wf
	}
	if step := os.Getenv("BATON_WORKFLOW_STEP"); step != "" {
		members["step"] = step
	}
	return members
}

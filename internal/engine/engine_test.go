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
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/tombee/baton/internal/config"
	"github.com/tombee/baton/internal/eventlog"
	"github.com/tombee/baton/internal/failure"
	"github.com/tombee/baton/internal/hookio"
	"github.com/tombee/baton/internal/runstate"
	"github.com/tombee/baton/internal/session"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

const (
	sid  = "9f3c2d41-7a58-4b6e-9c01-2d8f4e5a6b7c"
	sid2 = "0b2f7c88-3d14-4a5e-8f60-1e2a3b4c5d6e"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Timeout = 10 * time.Second
	return cfg
}

func clearSessionEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{"BATON_SESSION_ID", "CLAUDE_SESSION_ID", "SESSION_ID"} {
		t.Setenv(name, "")
	}
}

// invoke runs one phase against the runtime directory the way the CLI
// would: a fresh engine per process, payload on stdin, response captured.
func invoke(t *testing.T, root string, cfg *config.Config, phase hookio.Phase, payload string, at time.Time) string {
	t.Helper()
	e := New(root, cfg, nil)
	e.stdin = strings.NewReader(payload)
	var out bytes.Buffer
	e.stdout = &out
	e.now = func() time.Time { return at }
	if err := e.Run(phase); err != nil {
		t.Fatalf("Run(%s) error: %v", phase, err)
	}
	return strings.TrimSpace(out.String())
}

func loadRun(t *testing.T, root, key string, at time.Time) *runstate.Run {
	t.Helper()
	hashed := session.Hash(key)
	runID, _ := runstate.ResolveRunID(root, hashed, key, at)
	return runstate.Load(root, runID, key, at)
}

func readEvents(t *testing.T, root, runID string) []eventlog.Event {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(runstate.RunDir(root, runID), "events.ndjson"))
	if err != nil {
		t.Fatalf("reading event log: %v", err)
	}
	var events []eventlog.Event
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var ev eventlog.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("bad event line %q: %v", line, err)
		}
		events = append(events, ev)
	}
	return events
}

func TestResponseShapes(t *testing.T) {
	cases := []struct {
		phase hookio.Phase
		want  string
	}{
		{hookio.PhasePreToolUse, `{"decision":"approve"}`},
		{hookio.PhasePostToolUse, `{"hookSpecificOutput":{"hookEventName":"PostToolUse"}}`},
		{hookio.PhaseSubagentStart, `{"hookSpecificOutput":{"hookEventName":"SubagentStart"}}`},
		{hookio.PhaseSubagentStop, `{"hookSpecificOutput":{"hookEventName":"SubagentStop"}}`},
		{hookio.PhaseSessionStart, `{"hookSpecificOutput":{"hookEventName":"SessionStart"}}`},
		{hookio.PhaseStop, `{"hookSpecificOutput":{"hookEventName":"Stop"}}`},
	}
	for _, c := range cases {
		t.Run(string(c.phase), func(t *testing.T) {
			got := invoke(t, t.TempDir(), testConfig(), c.phase, `{"session_id":"`+sid+`"}`, base)
			if got != c.want {
				t.Errorf("response = %s, want %s", got, c.want)
			}
		})
	}
}

func TestGuardSkipsPipeline(t *testing.T) {
	t.Setenv(GuardEnv, "1")
	root := t.TempDir()

	got := invoke(t, root, testConfig(), hookio.PhasePreToolUse,
		`{"session_id":"`+sid+`","tool_name":"Bash"}`, base)
	if got != `{"decision":"approve"}` {
		t.Errorf("guarded response = %s", got)
	}
	for _, dir := range []string{"runs", "sessions"} {
		if _, err := os.Stat(filepath.Join(root, dir)); !os.IsNotExist(err) {
			t.Errorf("guarded invocation created %s/", dir)
		}
	}
}

func TestToolCallRoundTrip(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig()

	invoke(t, root, cfg, hookio.PhaseSessionStart, `{"session_id":"`+sid+`"}`, base)
	invoke(t, root, cfg, hookio.PhasePreToolUse,
		`{"session_id":"`+sid+`","tool_name":"Bash","tool_input":{"command":"ls"}}`,
		base.Add(time.Second))
	invoke(t, root, cfg, hookio.PhasePostToolUse,
		`{"session_id":"`+sid+`","tool_name":"Bash","tool_response":{"output":"ok"}}`,
		base.Add(1300*time.Millisecond))

	run := loadRun(t, root, "cc-"+sid, base.Add(2*time.Second))
	if run.EventsCount != 3 {
		t.Fatalf("events_count = %d, want 3", run.EventsCount)
	}
	if run.Status != runstate.StatusRunning {
		t.Errorf("status = %s, want running", run.Status)
	}
	if run.Trace.InFlight != nil {
		t.Errorf("tool frame still open: %+v", run.Trace.InFlight)
	}
	if len(run.Trace.TraceID) != 32 {
		t.Errorf("trace id %q", run.Trace.TraceID)
	}
	if e := run.Metrics.Tools["Bash"]; e == nil || e.Count != 1 || e.TotalMS != 300 || e.LastMS != 300 {
		t.Errorf("Bash aggregate = %+v, want count=1 total=300", e)
	}

	events := readEvents(t, root, run.RunID)
	if len(events) != 3 {
		t.Fatalf("event log has %d lines, want 3", len(events))
	}
	start, pre, post := events[0], events[1], events[2]

	if start.EventType != "SpanStart" || start.SpanKind != "chain" {
		t.Errorf("session event = %s/%s", start.EventType, start.SpanKind)
	}
	if start.SpanID != run.Trace.RootSpanID {
		t.Errorf("session event span = %s, want root %s", start.SpanID, run.Trace.RootSpanID)
	}

	if pre.EventType != "ToolCallStart" || pre.SpanKind != "tool" {
		t.Errorf("pre event = %s/%s", pre.EventType, pre.SpanKind)
	}
	if pre.ParentSpanID != run.Trace.RootSpanID {
		t.Errorf("tool span parent = %s, want root", pre.ParentSpanID)
	}
	if pre.SpanID == pre.ParentSpanID {
		t.Error("span equals its own parent")
	}
	if want := "00-" + run.Trace.TraceID + "-" + pre.SpanID + "-01"; pre.Traceparent != want {
		t.Errorf("traceparent = %s, want %s", pre.Traceparent, want)
	}
	if !strings.Contains(pre.Baggage, "session=cc-"+sid) || !strings.Contains(pre.Baggage, "run=") {
		t.Errorf("baggage = %s", pre.Baggage)
	}

	if post.EventType != "ToolCallStop" {
		t.Errorf("post event = %s", post.EventType)
	}
	if post.SpanID != pre.SpanID {
		t.Errorf("post span %s does not close pre span %s", post.SpanID, pre.SpanID)
	}
	if post.DurationMS != 300 {
		t.Errorf("duration = %d ms, want 300", post.DurationMS)
	}
	if !post.OK {
		t.Error("clean result marked failed")
	}
}

func TestTaskDelegationAttribution(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig()

	invoke(t, root, cfg, hookio.PhaseSessionStart,
		`{"session_id":"`+sid+`","agent_name":"planner"}`, base)
	invoke(t, root, cfg, hookio.PhasePreToolUse,
		`{"session_id":"`+sid+`","tool_name":"Task","tool_input":{"subagent_type":"researcher","prompt":"dig"}}`,
		base.Add(time.Second))

	run := loadRun(t, root, "cc-"+sid, base.Add(time.Second))
	if run.CurrentAgent != "planner" {
		t.Fatalf("current agent = %q, want planner", run.CurrentAgent)
	}
	if len(run.Pending) != 1 || run.Pending[0].Agent != "researcher" || run.Pending[0].Parent != "planner" {
		t.Fatalf("pending = %+v", run.Pending)
	}

	invoke(t, root, cfg, hookio.PhaseSubagentStart,
		`{"session_id":"`+sid+`","agent_name":"researcher"}`, base.Add(2*time.Second))

	run = loadRun(t, root, "cc-"+sid, base.Add(2*time.Second))
	if run.CurrentAgent != "researcher" {
		t.Errorf("current agent = %q, want researcher", run.CurrentAgent)
	}
	if len(run.Pending) != 0 {
		t.Errorf("delegation not consumed: %+v", run.Pending)
	}
	if len(run.Trace.ParentStack) != 1 || run.Trace.ParentStack[0] != "planner" {
		t.Errorf("parent stack = %v, want [planner]", run.Trace.ParentStack)
	}
	if run.Trace.AgentSpans["researcher"] == "" {
		t.Error("researcher has no open span")
	}

	invoke(t, root, cfg, hookio.PhaseSubagentStop,
		`{"session_id":"`+sid+`"}`, base.Add(3*time.Second))

	run = loadRun(t, root, "cc-"+sid, base.Add(3*time.Second))
	if run.CurrentAgent != "planner" {
		t.Errorf("current agent after stop = %q, want planner", run.CurrentAgent)
	}
	if len(run.Trace.ParentStack) != 0 || len(run.Trace.AgentSpans) != 0 {
		t.Errorf("frames not unwound: stack=%v spans=%v", run.Trace.ParentStack, run.Trace.AgentSpans)
	}

	invoke(t, root, cfg, hookio.PhasePostToolUse,
		`{"session_id":"`+sid+`","tool_name":"Task","tool_response":{"output":"done"}}`,
		base.Add(4*time.Second))

	events := readEvents(t, root, run.RunID)
	if len(events) != 5 {
		t.Fatalf("event log has %d lines, want 5", len(events))
	}
	if events[1].EventType != "Handoff" || events[1].DelegatedAgent != "researcher" {
		t.Errorf("task pre event = %s delegated=%s", events[1].EventType, events[1].DelegatedAgent)
	}
	if events[2].EventType != "AgentStart" || events[2].Agent != "researcher" {
		t.Errorf("start event = %s/%s", events[2].EventType, events[2].Agent)
	}
	if events[2].ParentSpanID != run.Trace.RootSpanID {
		t.Errorf("agent span parent = %s, want root", events[2].ParentSpanID)
	}
	if events[3].EventType != "AgentStop" || events[3].SpanID != events[2].SpanID {
		t.Errorf("stop event = %s span=%s, want close of %s", events[3].EventType, events[3].SpanID, events[2].SpanID)
	}
	if events[4].EventType != "Handoff" || events[4].DurationMS != 3000 {
		t.Errorf("task post event = %s duration=%d", events[4].EventType, events[4].DurationMS)
	}
}

func TestAnonymousAgentStartConsumesOldest(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig()

	invoke(t, root, cfg, hookio.PhasePreToolUse,
		`{"session_id":"`+sid+`","tool_name":"Task","tool_input":{"subagent_type":"researcher"}}`, base)
	invoke(t, root, cfg, hookio.PhaseSubagentStart,
		`{"session_id":"`+sid+`"}`, base.Add(time.Second))

	run := loadRun(t, root, "cc-"+sid, base.Add(time.Second))
	if run.CurrentAgent != "researcher" {
		t.Errorf("current agent = %q, want researcher from pending delegation", run.CurrentAgent)
	}
	if len(run.Pending) != 0 {
		t.Errorf("pending not consumed: %+v", run.Pending)
	}
}

func TestUnmatchedPostDegradesToRoot(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig()

	invoke(t, root, cfg, hookio.PhasePostToolUse,
		`{"session_id":"`+sid+`","tool_name":"Read","tool_response":{"output":"fine"}}`, base)

	run := loadRun(t, root, "cc-"+sid, base)
	if e := run.Metrics.Tools["Read"]; e == nil || e.Count != 1 || e.TotalMS != 0 {
		t.Errorf("Read aggregate = %+v, want count=1 total=0", e)
	}

	events := readEvents(t, root, run.RunID)
	if len(events) != 1 {
		t.Fatalf("event log has %d lines, want 1", len(events))
	}
	if events[0].ParentSpanID != run.Trace.RootSpanID {
		t.Errorf("degraded span parent = %s, want root", events[0].ParentSpanID)
	}
	if events[0].DurationMS != 0 {
		t.Errorf("degraded duration = %d, want 0", events[0].DurationMS)
	}
	if !events[0].OK {
		t.Error("clean result marked failed")
	}
}

func TestCorruptStateStartsFreshOnPost(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig()

	invoke(t, root, cfg, hookio.PhaseSessionStart, `{"session_id":"`+sid+`"}`, base)
	before := loadRun(t, root, "cc-"+sid, base)

	statePath := runstate.StatePath(root, before.RunID)
	if err := os.WriteFile(statePath, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("corrupting state: %v", err)
	}

	got := invoke(t, root, cfg, hookio.PhasePostToolUse,
		`{"session_id":"`+sid+`","tool_name":"Bash","tool_response":{"output":"fine"}}`,
		base.Add(time.Second))
	if got != `{"hookSpecificOutput":{"hookEventName":"PostToolUse"}}` {
		t.Errorf("response = %s", got)
	}

	run := loadRun(t, root, "cc-"+sid, base.Add(time.Second))
	if run.RunID != before.RunID {
		t.Fatalf("run id changed: %s -> %s", before.RunID, run.RunID)
	}
	if run.Status != runstate.StatusRunning {
		t.Errorf("status = %s, want running", run.Status)
	}
	if run.EventsCount != 1 {
		t.Errorf("events count = %d, want 1 on the fresh document", run.EventsCount)
	}
	if run.Trace.TraceID == before.Trace.TraceID {
		t.Error("trace id survived a corrupt document")
	}

	events := readEvents(t, root, run.RunID)
	if len(events) != 2 {
		t.Fatalf("event log has %d lines, want 2", len(events))
	}
	last := events[1]
	if last.TraceID != run.Trace.TraceID {
		t.Errorf("post event trace = %s, want fresh %s", last.TraceID, run.Trace.TraceID)
	}
	if last.ParentSpanID != run.Trace.RootSpanID {
		t.Errorf("post parent = %s, want root", last.ParentSpanID)
	}
	if last.DurationMS != 0 {
		t.Errorf("duration = %d, want none", last.DurationMS)
	}
}

func TestNestedAgentStopsRestoreInOrder(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig()

	invoke(t, root, cfg, hookio.PhaseSessionStart,
		`{"session_id":"`+sid+`","agent":"orchestrator"}`, base)
	invoke(t, root, cfg, hookio.PhaseSubagentStart,
		`{"session_id":"`+sid+`","agent_name":"reviewer"}`, base.Add(time.Second))
	invoke(t, root, cfg, hookio.PhaseSubagentStart,
		`{"session_id":"`+sid+`","agent_name":"tester"}`, base.Add(2*time.Second))

	run := loadRun(t, root, "cc-"+sid, base)
	if run.CurrentAgent != "tester" {
		t.Errorf("current agent = %q, want tester", run.CurrentAgent)
	}
	if d := run.Trace.Depth(); d != 2 {
		t.Errorf("depth = %d, want 2", d)
	}

	events := readEvents(t, root, run.RunID)
	if len(events) != 3 {
		t.Fatalf("event log has %d lines, want 3", len(events))
	}
	if events[2].ParentSpanID != events[1].SpanID {
		t.Errorf("tester parent = %s, want reviewer span %s",
			events[2].ParentSpanID, events[1].SpanID)
	}

	invoke(t, root, cfg, hookio.PhaseSubagentStop,
		`{"session_id":"`+sid+`","agent_name":"tester"}`, base.Add(3*time.Second))
	run = loadRun(t, root, "cc-"+sid, base)
	if run.CurrentAgent != "reviewer" {
		t.Errorf("after tester stop current = %q, want reviewer", run.CurrentAgent)
	}
	if d := run.Trace.Depth(); d != 1 {
		t.Errorf("depth = %d, want 1", d)
	}

	invoke(t, root, cfg, hookio.PhaseSubagentStop,
		`{"session_id":"`+sid+`","agent_name":"reviewer"}`, base.Add(4*time.Second))
	run = loadRun(t, root, "cc-"+sid, base)
	if run.CurrentAgent != "orchestrator" {
		t.Errorf("after reviewer stop current = %q, want orchestrator", run.CurrentAgent)
	}
	if d := run.Trace.Depth(); d != 0 {
		t.Errorf("depth = %d, want 0", d)
	}
}

func TestFailureRecordsErrorAndStaysFailed(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig()

	invoke(t, root, cfg, hookio.PhasePostToolUse,
		`{"session_id":"`+sid+`","tool_name":"Bash","tool_response":{"is_error":true,"content":"boom"}}`, base)

	run := loadRun(t, root, "cc-"+sid, base)
	if run.Status != runstate.StatusFailed {
		t.Errorf("status = %s, want failed", run.Status)
	}
	if len(run.Errors) != 1 || run.Errors[0].Tool != "Bash" || run.Errors[0].Message != "tool_error" {
		t.Fatalf("errors = %+v", run.Errors)
	}

	events := readEvents(t, root, run.RunID)
	if events[0].OK || events[0].Error != "tool_error" {
		t.Errorf("event ok=%v error=%q", events[0].OK, events[0].Error)
	}

	invoke(t, root, cfg, hookio.PhaseStop, `{"session_id":"`+sid+`"}`, base.Add(time.Second))
	run = loadRun(t, root, "cc-"+sid, base.Add(time.Second))
	if run.Status != runstate.StatusFailed {
		t.Errorf("status after stop = %s, failure should stick", run.Status)
	}
}

func TestFailureBundleInvocation(t *testing.T) {
	root := t.TempDir()
	outPath := filepath.Join(root, "bundle-out.txt")
	script := filepath.Join(t.TempDir(), "bundle.sh")
	content := "#!/bin/sh\nprintf '%s\\n%s\\n' \"$1\" \"$BATON_HOOK_GUARD\" > " + outPath + "\n"
	if err := os.WriteFile(script, []byte(content), 0700); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig()
	cfg.FailureBundle = true
	cfg.FailureBundleCmd = "sh " + script

	invoke(t, root, cfg, hookio.PhasePostToolUse,
		`{"session_id":"`+sid+`","tool_name":"Bash","tool_response":{"is_error":true}}`, base)

	var data []byte
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if b, err := os.ReadFile(outPath); err == nil && len(b) > 0 {
			data = b
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(data) == 0 {
		t.Fatal("bundle command never ran")
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) < 2 {
		t.Fatalf("bundle output = %q", data)
	}
	var req failure.BundleRequest
	if err := json.Unmarshal([]byte(lines[0]), &req); err != nil {
		t.Fatalf("bundle argument not JSON: %v", err)
	}
	run := loadRun(t, root, "cc-"+sid, base)
	if req.RunID != run.RunID || req.FailureType != "tool_error" {
		t.Errorf("bundle request = %+v", req)
	}
	if len(req.TraceID) != 32 || req.SpanID == "" {
		t.Errorf("bundle trace context = %s/%s", req.TraceID, req.SpanID)
	}
	if lines[1] != strconv.Itoa(os.Getpid()) {
		t.Errorf("bundle child guard env = %q, want our pid", lines[1])
	}
}

func TestStopWritesTerminalArtifacts(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig()

	invoke(t, root, cfg, hookio.PhaseSessionStart, `{"session_id":"`+sid+`"}`, base)
	invoke(t, root, cfg, hookio.PhasePreToolUse,
		`{"session_id":"`+sid+`","tool_name":"Bash","tool_input":{"command":"make"}}`,
		base.Add(time.Second))
	invoke(t, root, cfg, hookio.PhasePostToolUse,
		`{"session_id":"`+sid+`","tool_name":"Bash","tool_response":{"output":"ok"}}`,
		base.Add(2*time.Second))
	invoke(t, root, cfg, hookio.PhaseStop, `{"session_id":"`+sid+`"}`, base.Add(3*time.Second))

	run := loadRun(t, root, "cc-"+sid, base.Add(3*time.Second))
	if run.Status != runstate.StatusCompleted {
		t.Errorf("status = %s, want completed", run.Status)
	}

	md, err := os.ReadFile(filepath.Join(runstate.RunDir(root, run.RunID), "summary.md"))
	if err != nil {
		t.Fatalf("summary not written: %v", err)
	}
	if !strings.Contains(string(md), "# Run "+run.RunID) || !strings.Contains(string(md), "Bash") {
		t.Errorf("summary content:\n%s", md)
	}

	prom, err := os.ReadFile(filepath.Join(runstate.RunDir(root, run.RunID), "metrics.prom"))
	if err != nil {
		t.Fatalf("metrics snapshot not written: %v", err)
	}
	if !strings.Contains(string(prom), `baton_tool_calls_total{tool="Bash"} 1`) {
		t.Errorf("metrics snapshot:\n%s", prom)
	}

	last, ok := runstate.ReadLastRun(root)
	if !ok || last.RunID != run.RunID {
		t.Errorf("last run pointer = %+v", last)
	}
}

func TestSharedKeyStitchesPayloadlessInvocation(t *testing.T) {
	clearSessionEnv(t)
	root := t.TempDir()
	cfg := testConfig()

	invoke(t, root, cfg, hookio.PhasePreToolUse,
		`{"session_id":"`+sid+`","tool_name":"Bash","tool_input":{"command":"ls"}}`, base)
	// The post payload carries no session and no tool: identity comes from
	// the shared key file, the tool from the in-flight frame.
	invoke(t, root, cfg, hookio.PhasePostToolUse, `{}`, base.Add(500*time.Millisecond))

	run := loadRun(t, root, "cc-"+sid, base.Add(time.Second))
	if run.EventsCount != 2 {
		t.Fatalf("events_count = %d, want both invocations on one run", run.EventsCount)
	}
	events := readEvents(t, root, run.RunID)
	if events[1].Tool != "Bash" {
		t.Errorf("post tool = %q, want Bash from in-flight frame", events[1].Tool)
	}
	if events[1].DurationMS != 500 {
		t.Errorf("duration = %d, want 500", events[1].DurationMS)
	}
}

func TestRoutingDecisionIngested(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig()

	hashed := session.Hash("cc-" + sid)
	dir := filepath.Join(root, "routing-sessions")
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	doc := `{"completed":true,"decision":"fast-path","confidence":0.9}`
	if err := os.WriteFile(filepath.Join(dir, hashed+".json"), []byte(doc), 0600); err != nil {
		t.Fatal(err)
	}

	invoke(t, root, cfg, hookio.PhaseSessionStart, `{"session_id":"`+sid+`"}`, base)

	run := loadRun(t, root, "cc-"+sid, base)
	if run.Routing == nil || run.Routing.Decision != "fast-path" || !run.Routing.Completed {
		t.Errorf("routing = %+v", run.Routing)
	}
}

func TestBudgetExpiryStillAnswers(t *testing.T) {
	cfg := testConfig()
	cfg.Timeout = 100 * time.Millisecond
	cfg.StdinTotalTimeout = 10 * time.Second
	cfg.StdinIdleTimeout = 10 * time.Second

	pr, pw := io.Pipe()

	e := New(t.TempDir(), cfg, nil)
	e.stdin = pr
	var out bytes.Buffer
	e.stdout = &out

	start := time.Now()
	if err := e.Run(hookio.PhasePreToolUse); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Run blocked for %v past the budget", elapsed)
	}
	if got := strings.TrimSpace(out.String()); got != `{"decision":"approve"}` {
		t.Errorf("response = %s", got)
	}

	// Unblock the abandoned pipeline and let it drain before the temp dir
	// is torn down.
	pw.Close()
	time.Sleep(200 * time.Millisecond)
}

func TestMalformedPayloadFailsOpen(t *testing.T) {
	clearSessionEnv(t)
	root := t.TempDir()

	got := invoke(t, root, testConfig(), hookio.PhasePostToolUse, `"mangled{{{`, base)
	if got != `{"hookSpecificOutput":{"hookEventName":"PostToolUse"}}` {
		t.Errorf("response = %s", got)
	}

	// The identity ladder bottoms out at the parent pid, so the invocation
	// still lands on a run.
	entries, err := os.ReadDir(filepath.Join(root, "runs"))
	if err != nil || len(entries) != 1 {
		t.Errorf("runs dir entries = %v, err = %v", entries, err)
	}
}

func TestPayloadCaptureRedacts(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig()
	cfg.StorePayloads = true

	invoke(t, root, cfg, hookio.PhasePreToolUse,
		`{"session_id":"`+sid+`","tool_name":"Bash","tool_input":{"api_key":"sk-test-12345","command":"ls -la"}}`,
		base)

	run := loadRun(t, root, "cc-"+sid, base)
	data, err := os.ReadFile(filepath.Join(runstate.RunDir(root, run.RunID), "payloads.ndjson"))
	if err != nil {
		t.Fatalf("payload log not written: %v", err)
	}
	var rec eventlog.Payload
	if err := json.Unmarshal(bytes.TrimSpace(data), &rec); err != nil {
		t.Fatalf("bad payload line: %v", err)
	}
	if strings.Contains(rec.Input, "sk-test-12345") {
		t.Error("secret survived redaction")
	}
	if !strings.Contains(rec.Input, "[REDACTED]") || !strings.Contains(rec.Input, "ls -la") {
		t.Errorf("captured input = %s", rec.Input)
	}
}

func TestMirrorOnlyCarriesToolEvents(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig()
	cfg.MirrorToolEvents = true

	invoke(t, root, cfg, hookio.PhaseSessionStart, `{"session_id":"`+sid+`"}`, base)
	invoke(t, root, cfg, hookio.PhasePreToolUse,
		`{"session_id":"`+sid+`","tool_name":"Read","tool_input":{"file_path":"go.mod"}}`,
		base.Add(time.Second))

	run := loadRun(t, root, "cc-"+sid, base.Add(time.Second))
	data, err := os.ReadFile(filepath.Join(runstate.RunDir(root, run.RunID), "tool-events.ndjson"))
	if err != nil {
		t.Fatalf("mirror not written: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("mirror has %d lines, want only the tool event", len(lines))
	}
	var ev eventlog.Event
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Tool != "Read" {
		t.Errorf("mirrored tool = %q", ev.Tool)
	}
}

func TestActivityExtraction(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig()
	cfg.Extract = map[string]string{"activity": ".tool_input.command"}

	invoke(t, root, cfg, hookio.PhasePreToolUse,
		`{"session_id":"`+sid+`","tool_name":"Bash","tool_input":{"command":"go test ./..."}}`, base)

	run := loadRun(t, root, "cc-"+sid, base)
	if run.CurrentActivity != "go test ./..." {
		t.Errorf("activity = %q", run.CurrentActivity)
	}

	events := readEvents(t, root, run.RunID)
	if events[0].Activity != "go test ./..." {
		t.Errorf("event activity = %q", events[0].Activity)
	}
}

func TestWorkflowBaggageFromEnv(t *testing.T) {
	t.Setenv("BATON_WORKFLOW_ID", "nightly-review")
	t.Setenv("BATON_WORKFLOW_STEP", "lint")
	root := t.TempDir()

	invoke(t, root, testConfig(), hookio.PhasePreToolUse,
		`{"session_id":"`+sid+`","tool_name":"Bash","tool_input":{"command":"ls"}}`, base)

	run := loadRun(t, root, "cc-"+sid, base)
	events := readEvents(t, root, run.RunID)
	if !strings.Contains(events[0].Baggage, "workflow=nightly-review") {
		t.Errorf("baggage = %s, want workflow member", events[0].Baggage)
	}
	if !strings.Contains(events[0].Baggage, "step=lint") {
		t.Errorf("baggage = %s, want step member", events[0].Baggage)
	}
}

func TestSessionOverrideExpression(t *testing.T) {
	clearSessionEnv(t)
	root := t.TempDir()
	cfg := testConfig()
	cfg.Extract = map[string]string{"session": ".meta.sid"}

	invoke(t, root, cfg, hookio.PhasePreToolUse,
		`{"meta":{"sid":"`+sid2+`"},"tool_name":"Bash"}`, base)

	mapping := filepath.Join(root, "sessions", session.Hash("cc-"+sid2)+".json")
	if _, err := os.Stat(mapping); err != nil {
		t.Fatalf("override session has no registry mapping: %v", err)
	}
	run := loadRun(t, root, "cc-"+sid2, base)
	if run.EventsCount != 1 {
		t.Errorf("events_count = %d, want 1", run.EventsCount)
	}
}

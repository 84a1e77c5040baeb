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
	"context"
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/tombee/baton/internal/eventlog"
	"github.com/tombee/baton/internal/failure"
	"github.com/tombee/baton/internal/hookio"
	"github.com/tombee/baton/internal/log"
	"github.com/tombee/baton/internal/metrics"
	"github.com/tombee/baton/internal/redact"
	"github.com/tombee/baton/internal/runstate"
	"github.com/tombee/baton/internal/spanstore"
	"github.com/tombee/baton/internal/summary"
)

// Side-channel file names. The span index is shared across runs at the
// runtime root; event, payload and mirror logs and the Prometheus
// snapshot live under the run directory.
const (
	eventsFile     = "events.ndjson"
	payloadsFile   = "payloads.ndjson"
	mirrorFile     = "tool-events.ndjson"
	promFile       = "metrics.prom"
	spanIndexFile  = "spans.db"
	summaryRefresh = 25
)

// sidecars emits everything beyond the run document: the event log, the
// optional mirrors and indexes, the rendered artifacts, and a failure
// bundle when one was requested. All of it is best-effort; failures are
// logged at debug and never surface.
func (e *Engine) sidecars(run *runstate.Run, phase hookio.Phase, p hookio.Payload, out outcome, now time.Time) {
	seq := run.EventsCount
	runDir := runstate.RunDir(e.root, run.RunID)

	w := eventlog.NewWriter(filepath.Join(runDir, eventsFile), e.cfg.RotateBytes, e.cfg.RotateEvery)
	if err := w.Append(out.ev, seq); err != nil {
		e.logger.Debug("event append failed", log.Error(err))
	}

	toolPhase := phase == hookio.PhasePreToolUse || phase == hookio.PhasePostToolUse
	if e.cfg.MirrorToolEvents && toolPhase {
		m := eventlog.NewWriter(filepath.Join(runDir, mirrorFile), e.cfg.RotateBytes, e.cfg.RotateEvery)
		if err := m.Append(out.ev, seq); err != nil {
			e.logger.Debug("mirror append failed", log.Error(err))
		}
	}

	if e.cfg.StorePayloads && toolPhase {
		e.capturePayload(runDir, run, phase, p, out.ev, seq, now)
	}

	if e.cfg.SpanIndex {
		e.indexSpan(run, phase, out.ev, now)
	}

	if phase == hookio.PhaseStop || seq%refreshEvery(e.cfg.RotateEvery) == 0 {
		if err := summary.Write(e.root, run, now); err != nil {
			e.logger.Debug("summary write failed", log.Error(err))
		}
		if err := metrics.WriteProm(filepath.Join(runDir, promFile), &run.Metrics); err != nil {
			e.logger.Debug("metrics snapshot failed", log.Error(err))
		}
	}
	runstate.WriteLastRun(e.root, run, now)

	if out.bundle != nil {
		failure.InvokeBundle(e.cfg.FailureBundleCmd, *out.bundle)
	}
}

// refreshEvery guards the artifact refresh interval against a zeroed
// config handed in by a caller that skipped Load.
func refreshEvery(configured int) int64 {
	if configured <= 0 {
		return summaryRefresh
	}
	return int64(configured)
}

// capturePayload appends the redacted tool input and result to the
// per-run payload log.
func (e *Engine) capturePayload(runDir string, run *runstate.Run, phase hookio.Phase, p hookio.Payload, ev *eventlog.Event, seq int64, now time.Time) {
	r := redact.New(redact.ModeStandard)
	rec := eventlog.Payload{
		TS:     now,
		RunID:  run.RunID,
		SpanID: ev.SpanID,
		Phase:  string(phase),
		Agent:  ev.Agent,
		Tool:   ev.Tool,
		Input:  e.redactRaw(r, p.ToolInput),
		Result: e.redactRaw(r, p.ToolResult),
	}
	w := eventlog.NewWriter(filepath.Join(runDir, payloadsFile), e.cfg.RotateBytes, e.cfg.RotateEvery)
	if err := w.Append(rec, seq); err != nil {
		e.logger.Debug("payload append failed", log.Error(err))
	}
}

// redactRaw scrubs a raw tool document for capture. Objects are scrubbed
// field by field so sensitive keys disappear wholesale; anything else is
// scrubbed as one string. The result is capped at the configured size.
func (e *Engine) redactRaw(r *redact.Redactor, raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	max := e.cfg.PayloadMaxBytes

	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err == nil {
		for k, v := range obj {
			if redact.SensitiveKey(k) {
				obj[k] = "[REDACTED]"
				continue
			}
			if s, ok := v.(string); ok {
				obj[k] = redact.Truncate(r.String(s), max)
			}
		}
		if data, err := json.Marshal(obj); err == nil {
			return redact.Truncate(string(data), max)
		}
	}
	return redact.Truncate(r.String(string(raw)), max)
}

// indexSpan upserts the event's span into the SQLite index. Start phases
// record the opening half, stop phases complete it; the upsert keeps
// whichever half arrived first.
func (e *Engine) indexSpan(run *runstate.Run, phase hookio.Phase, ev *eventlog.Event, now time.Time) {
	store, err := spanstore.Open(filepath.Join(e.root, spanIndexFile))
	if err != nil {
		e.logger.Debug("span index unavailable", log.Error(err))
		return
	}
	defer store.Close()

	rec := spanstore.Record{
		TraceID:      ev.TraceID,
		SpanID:       ev.SpanID,
		ParentSpanID: ev.ParentSpanID,
		RunID:        run.RunID,
		Agent:        ev.Agent,
		Tool:         ev.Tool,
		Kind:         ev.SpanKind,
		EventType:    ev.EventType,
		OK:           ev.OK,
	}
	switch phase {
	case hookio.PhasePreToolUse, hookio.PhaseSubagentStart, hookio.PhaseSessionStart:
		rec.StartNS = now.UnixNano()
	case hookio.PhasePostToolUse, hookio.PhaseSubagentStop, hookio.PhaseStop:
		rec.EndNS = now.UnixNano()
		rec.DurationMS = ev.DurationMS
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := store.Upsert(ctx, rec); err != nil {
		e.logger.Debug("span index upsert failed", log.Error(err))
	}
}

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

// Package eventlog appends trace events to per-run NDJSON logs with a
// cheap single-backup rotation scheme. Everything here is best-effort:
// a full disk must never take down the hook pipeline.
package eventlog

import "time"

// Event is one NDJSON line: the full reconstructed trace context for a
// single hook invocation.
type Event struct {
	TS             time.Time `json:"ts"`
	RunID          string    `json:"run_id"`
	SessionKey     string    `json:"session_key,omitempty"`
	Phase          string    `json:"phase"`
	EventType      string    `json:"event_type"`
	SpanKind       string    `json:"span_kind"`
	TraceID        string    `json:"trace_id"`
	SpanID         string    `json:"span_id"`
	ParentSpanID   string    `json:"parent_span_id,omitempty"`
	Traceparent    string    `json:"traceparent,omitempty"`
	Baggage        string    `json:"baggage,omitempty"`
	Agent          string    `json:"agent,omitempty"`
	Tool           string    `json:"tool,omitempty"`
	Activity       string    `json:"activity,omitempty"`
	DelegatedAgent string    `json:"delegated_agent,omitempty"`
	OK             bool      `json:"ok"`
	DurationMS     int64     `json:"duration_ms,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// Payload is one NDJSON line in the optional payload capture log.
type Payload struct {
	TS     time.Time `json:"ts"`
	RunID  string    `json:"run_id"`
	SpanID string    `json:"span_id,omitempty"`
	Phase  string    `json:"phase"`
	Agent  string    `json:"agent,omitempty"`
	Tool   string    `json:"tool,omitempty"`
	Input  string    `json:"input,omitempty"`
	Result string    `json:"result,omitempty"`
}

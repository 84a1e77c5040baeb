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

// Package runstate owns the run document: the single JSON file that
// carries everything one hook invocation must hand to the next. Every
// invocation loads it, mutates it, and writes it back whole.
package runstate

import (
	"time"

	"github.com/tombee/baton/internal/delegation"
	"github.com/tombee/baton/internal/metrics"
	"github.com/tombee/baton/internal/routing"
	"github.com/tombee/baton/internal/tracing"
)

// Status is the run lifecycle state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// MaxErrors bounds the error list carried in the document.
const MaxErrors = 20

// RunError is one recorded failure signature.
type RunError struct {
	TS      time.Time `json:"ts"`
	Agent   string    `json:"agent,omitempty"`
	Tool    string    `json:"tool,omitempty"`
	Message string    `json:"message"`
}

// Run is the persisted document for one orchestration run. The trace
// sub-document carries the span call-frame table and parent stack; the
// rest is bookkeeping for reporting.
type Run struct {
	RunID           string            `json:"run_id"`
	SessionKey      string            `json:"session_key,omitempty"`
	Status          Status            `json:"status"`
	CurrentAgent    string            `json:"current_agent,omitempty"`
	CurrentActivity string            `json:"current_activity,omitempty"`
	StartedAt       time.Time         `json:"started_at"`
	LastHeartbeatAt time.Time         `json:"last_heartbeat_at"`
	LastEventAt     time.Time         `json:"last_event_at"`
	EventsCount     int64             `json:"events_count"`
	Errors          []RunError        `json:"errors,omitempty"`
	Metrics         metrics.State     `json:"metrics"`
	Trace           tracing.State     `json:"trace"`
	Routing         *routing.Decision `json:"routing,omitempty"`
	Pending         delegation.Queue  `json:"pending_subagents,omitempty"`
}

// New synthesizes a fresh document for a run that has no prior state.
func New(runID, sessionKey string, now time.Time) *Run {
	return &Run{
		RunID:           runID,
		SessionKey:      sessionKey,
		Status:          StatusRunning,
		StartedAt:       now,
		LastHeartbeatAt: now,
		LastEventAt:     now,
	}
}

// Touch records that an invocation happened.
func (r *Run) Touch(now time.Time) {
	r.LastHeartbeatAt = now
	r.LastEventAt = now
	r.EventsCount++
}

// RecordError appends a failure signature, dropping the oldest beyond
// MaxErrors, and marks the run failed.
func (r *Run) RecordError(e RunError) {
	r.Errors = append(r.Errors, e)
	if len(r.Errors) > MaxErrors {
		r.Errors = r.Errors[len(r.Errors)-MaxErrors:]
	}
	r.Status = StatusFailed
}

// Complete marks the run completed. A run that already failed stays
// failed; terminal phases arrive after the failure that caused them.
func (r *Run) Complete() {
	if r.Status != StatusFailed {
		r.Status = StatusCompleted
	}
}

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
	"regexp"
	"strings"
	"testing"
)

func TestNewTraceID_Valid(t *testing.T) {
	id := NewTraceID()
	if !id.IsValid() {
		t.Errorf("expected valid trace id")
	}
	if len(id.String()) != 32 {
		t.Errorf("expected 32 hex chars, got %q", id.String())
	}
}

func TestNewSpanID_Valid(t *testing.T) {
	id := NewSpanID()
	if !id.IsValid() {
		t.Errorf("expected valid span id")
	}
	if len(id.String()) != 16 {
		t.Errorf("expected 16 hex chars, got %q", id.String())
	}
}

func TestNewChildSpanID_NeverEqualsParent(t *testing.T) {
	parent := NewSpanID().String()
	for i := 0; i < 100; i++ {
		if NewChildSpanID(parent) == parent {
			t.Fatalf("child span id equals parent")
		}
	}
}

func TestSampledFromTraceID_Extremes(t *testing.T) {
	id := NewTraceID()
	if !SampledFromTraceID(id, 1.0) {
		t.Errorf("rate 1.0 must always sample")
	}
	if SampledFromTraceID(id, 0.0) {
		t.Errorf("rate 0.0 must never sample")
	}
}

func TestSampledFromTraceID_Deterministic(t *testing.T) {
	id := NewTraceID()
	first := SampledFromTraceID(id, 0.5)
	for i := 0; i < 10; i++ {
		if SampledFromTraceID(id, 0.5) != first {
			t.Fatalf("sampling verdict must be stable for a trace id")
		}
	}
}

var traceparentRe = regexp.MustCompile(`^00-[0-9a-f]{32}-[0-9a-f]{16}-0[01]$`)

func TestTraceparent_Format(t *testing.T) {
	traceID := NewTraceID().String()
	spanID := NewSpanID().String()

	tp := Traceparent(traceID, spanID, true)
	if !traceparentRe.MatchString(tp) {
		t.Fatalf("malformed traceparent %q", tp)
	}
	if !strings.HasSuffix(tp, "-01") {
		t.Errorf("sampled flag not set: %q", tp)
	}
	if !strings.Contains(tp, traceID) || !strings.Contains(tp, spanID) {
		t.Errorf("traceparent %q does not carry ids %s/%s", tp, traceID, spanID)
	}

	unsampled := Traceparent(traceID, spanID, false)
	if !strings.HasSuffix(unsampled, "-00") {
		t.Errorf("unsampled flag wrong: %q", unsampled)
	}
}

func TestTraceparent_BadIDs(t *testing.T) {
	if tp := Traceparent("nope", NewSpanID().String(), true); tp != "" {
		t.Errorf("expected empty traceparent for bad trace id, got %q", tp)
	}
	if tp := Traceparent(NewTraceID().String(), "nope", true); tp != "" {
		t.Errorf("expected empty traceparent for bad span id, got %q", tp)
	}
}

func TestBaggage(t *testing.T) {
	got := Baggage(map[string]string{
		"run_id":      "run-1",
		"session_key": "cc-abc",
		"agent":       "code reviewer",
		"empty":       "",
	})

	if !strings.Contains(got, "run_id=run-1") {
		t.Errorf("missing run_id member: %q", got)
	}
	if !strings.Contains(got, "session_key=cc-abc") {
		t.Errorf("missing session_key member: %q", got)
	}
	// Space must be percent-encoded per W3C baggage.
	if !strings.Contains(got, "agent=code%20reviewer") {
		t.Errorf("agent member not encoded: %q", got)
	}
	if strings.Contains(got, "empty") {
		t.Errorf("empty members must be dropped: %q", got)
	}
}

func TestBaggage_AllEmpty(t *testing.T) {
	if got := Baggage(map[string]string{"a": ""}); got != "" {
		t.Errorf("expected empty baggage, got %q", got)
	}
	if got := Baggage(nil); got != "" {
		t.Errorf("expected empty baggage for nil input, got %q", got)
	}
}

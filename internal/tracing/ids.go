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

// Package tracing reconstructs a coherent span tree from isolated hook
// invocations. All continuity lives in the persisted run document; every
// function here is a pure transformation of that state.
package tracing

import (
	"context"
	"crypto/rand"
	"encoding/binary"

	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// NewTraceID generates a random W3C trace id.
func NewTraceID() trace.TraceID {
	var id trace.TraceID
	for !id.IsValid() {
		_, _ = rand.Read(id[:])
	}
	return id
}

// NewSpanID generates a random W3C span id.
func NewSpanID() trace.SpanID {
	var id trace.SpanID
	for !id.IsValid() {
		_, _ = rand.Read(id[:])
	}
	return id
}

// NewChildSpanID generates a span id distinct from its parent. Collisions
// are vanishingly rare; the loop makes the no-self-parent guarantee
// unconditional.
func NewChildSpanID(parent string) string {
	for {
		id := NewSpanID().String()
		if id != parent {
			return id
		}
	}
}

// SampledFromTraceID decides head sampling deterministically from the
// trace id, the way ratio samplers do: every process observing the same
// run reaches the same verdict without coordination.
func SampledFromTraceID(id trace.TraceID, rate float64) bool {
	if rate >= 1 {
		return true
	}
	if rate <= 0 {
		return false
	}
	v := binary.BigEndian.Uint64(id[:8])
	return float64(v) < rate*float64(^uint64(0))
}

// Traceparent renders the W3C traceparent header for a span, using the
// propagation API so the encoding stays spec-correct.
func Traceparent(traceID, spanID string, sampled bool) string {
	tid, err := trace.TraceIDFromHex(traceID)
	if err != nil {
		return ""
	}
	sid, err := trace.SpanIDFromHex(spanID)
	if err != nil {
		return ""
	}

	var flags trace.TraceFlags
	if sampled {
		flags = trace.FlagsSampled
	}

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    tid,
		SpanID:     sid,
		TraceFlags: flags,
	})

	carrier := propagation.MapCarrier{}
	propagation.TraceContext{}.Inject(trace.ContextWithSpanContext(context.Background(), sc), carrier)
	return carrier.Get("traceparent")
}

// Baggage renders the W3C baggage header carrying run correlation fields.
// Members that fail validation are dropped rather than failing the whole
// header.
func Baggage(members map[string]string) string {
	var list []baggage.Member
	for k, v := range members {
		if v == "" {
			continue
		}
		m, err := baggage.NewMemberRaw(k, v)
		if err != nil {
			continue
		}
		list = append(list, m)
	}
	if len(list) == 0 {
		return ""
	}
	bag, err := baggage.New(list...)
	if err != nil {
		return ""
	}
	return bag.String()
}

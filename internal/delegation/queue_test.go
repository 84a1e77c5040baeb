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

package delegation

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestConsumeFIFO(t *testing.T) {
	var q Queue
	q.Push(Pending{Agent: "researcher", Parent: "planner", TS: base})
	q.Push(Pending{Agent: "reviewer", Parent: "planner", TS: base.Add(time.Second)})

	got, ok := q.Consume(base.Add(2*time.Second), 3*time.Minute)
	if !ok {
		t.Fatal("Consume returned ok=false on non-empty queue")
	}
	if got.Agent != "researcher" || got.Parent != "planner" {
		t.Errorf("Consume = %+v, want oldest entry (researcher)", got)
	}

	got, ok = q.Consume(base.Add(2*time.Second), 3*time.Minute)
	if !ok || got.Agent != "reviewer" {
		t.Errorf("second Consume = %+v ok=%v, want reviewer", got, ok)
	}

	if _, ok := q.Consume(base, 3*time.Minute); ok {
		t.Error("Consume on drained queue returned ok=true")
	}
}

func TestConsumeExpiresStaleEntries(t *testing.T) {
	var q Queue
	q.Push(Pending{Agent: "stale", TS: base})
	q.Push(Pending{Agent: "fresh", TS: base.Add(4 * time.Minute)})

	got, ok := q.Consume(base.Add(5*time.Minute), 3*time.Minute)
	if !ok {
		t.Fatal("Consume returned ok=false, want fresh entry")
	}
	if got.Agent != "fresh" {
		t.Errorf("Consume = %q, want %q (stale entry should expire first)", got.Agent, "fresh")
	}
	if len(q) != 0 {
		t.Errorf("queue length after consume = %d, want 0", len(q))
	}
}

func TestConsumeAllExpired(t *testing.T) {
	var q Queue
	q.Push(Pending{Agent: "old-one", TS: base})
	q.Push(Pending{Agent: "old-two", TS: base.Add(time.Second)})

	if _, ok := q.Consume(base.Add(time.Hour), 3*time.Minute); ok {
		t.Error("Consume returned ok=true, want all entries expired")
	}
	if len(q) != 0 {
		t.Errorf("expired entries remain in queue: %d", len(q))
	}
}

func TestPushCap(t *testing.T) {
	var q Queue
	for i := 0; i < MaxPending+5; i++ {
		q.Push(Pending{Agent: fmt.Sprintf("agent-%d", i), TS: base.Add(time.Duration(i) * time.Second)})
	}
	if len(q) != MaxPending {
		t.Fatalf("queue length = %d, want %d", len(q), MaxPending)
	}
	if q[0].Agent != "agent-5" {
		t.Errorf("oldest surviving entry = %q, want agent-5 (first five dropped)", q[0].Agent)
	}
	if q[len(q)-1].Agent != fmt.Sprintf("agent-%d", MaxPending+4) {
		t.Errorf("newest entry = %q, want agent-%d", q[len(q)-1].Agent, MaxPending+4)
	}
}

func TestConsumeMatching(t *testing.T) {
	var q Queue
	q.Push(Pending{Agent: "researcher", Parent: "planner", TS: base})
	q.Push(Pending{Agent: "reviewer", Parent: "planner", TS: base.Add(time.Second)})
	q.Push(Pending{Agent: "researcher", Parent: "reviewer", TS: base.Add(2 * time.Second)})

	got, ok := q.ConsumeMatching("Reviewer", base.Add(3*time.Second), 3*time.Minute)
	if !ok {
		t.Fatal("ConsumeMatching returned ok=false")
	}
	if got.Parent != "planner" || got.Agent != "reviewer" {
		t.Errorf("ConsumeMatching = %+v, want the reviewer entry", got)
	}
	if len(q) != 2 {
		t.Fatalf("queue length = %d, want 2", len(q))
	}
	if q[0].Agent != "researcher" || q[1].Agent != "researcher" {
		t.Errorf("remaining queue order disturbed: %+v", q)
	}

	if _, ok := q.ConsumeMatching("unknown", base.Add(3*time.Second), 3*time.Minute); ok {
		t.Error("ConsumeMatching for absent agent returned ok=true")
	}
}

func TestTargetAgent(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"subagent_type", `{"subagent_type":"researcher","prompt":"dig in"}`, "researcher"},
		{"camel case", `{"subagentType":"reviewer"}`, "reviewer"},
		{"agent field", `{"agent":"planner"}`, "planner"},
		{"agent_name", `{"agent_name":"coder"}`, "coder"},
		{"target", `{"target":"tester"}`, "tester"},
		{"preference order", `{"target":"b","subagent_type":"a"}`, "a"},
		{"no agent field", `{"prompt":"just a prompt"}`, ""},
		{"non-string value", `{"agent":42}`, ""},
		{"empty input", ``, ""},
		{"not an object", `["subagent_type","x"]`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TargetAgent(json.RawMessage(tt.input))
			if got != tt.want {
				t.Errorf("TargetAgent(%s) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestQueueJSONRoundTrip(t *testing.T) {
	var q Queue
	q.Push(Pending{Agent: "researcher", Parent: "planner", TS: base})

	data, err := json.Marshal(q)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var restored Queue
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	got, ok := restored.Consume(base.Add(time.Second), 3*time.Minute)
	if !ok || got.Agent != "researcher" || got.Parent != "planner" {
		t.Errorf("consume after round trip = %+v ok=%v", got, ok)
	}
}

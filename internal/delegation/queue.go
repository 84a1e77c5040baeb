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

// Package delegation attributes agent starts to the Task calls that
// caused them. The two hook events carry no shared identifier, so the
// link is reconstructed from ordering: delegations queue up FIFO and the
// next ambiguous start consumes the oldest one still fresh.
package delegation

import (
	"encoding/json"
	"strings"
	"time"
)

// MaxPending bounds the queue; when a host fires many delegations whose
// starts never arrive, the oldest records give way.
const MaxPending = 20

// Pending is one recorded delegation awaiting its agent start.
type Pending struct {
	// Agent is the delegation target named in the Task input.
	Agent string `json:"agent"`
	// Parent is the agent that issued the delegation.
	Parent string `json:"parent,omitempty"`
	// TS is when the delegation was observed.
	TS time.Time `json:"ts"`
}

// Queue is the persisted FIFO of pending delegations.
type Queue []Pending

// Push records a delegation, dropping the oldest entry beyond MaxPending.
func (q *Queue) Push(p Pending) {
	*q = append(*q, p)
	if len(*q) > MaxPending {
		*q = (*q)[len(*q)-MaxPending:]
	}
}

// Consume removes and returns the oldest delegation still within ttl.
// Entries older than ttl are discarded first, whether or not anything is
// consumed. Consumption is strictly FIFO on the surviving entries.
func (q *Queue) Consume(now time.Time, ttl time.Duration) (Pending, bool) {
	q.expire(now, ttl)
	if len(*q) == 0 {
		return Pending{}, false
	}
	head := (*q)[0]
	*q = (*q)[1:]
	return head, true
}

// ConsumeMatching removes the oldest fresh delegation targeting the given
// agent, when the start names its agent explicitly. Falls back to plain
// FIFO when no entry matches by name.
func (q *Queue) ConsumeMatching(agent string, now time.Time, ttl time.Duration) (Pending, bool) {
	q.expire(now, ttl)
	for i, p := range *q {
		if strings.EqualFold(p.Agent, agent) {
			*q = append((*q)[:i], (*q)[i+1:]...)
			return p, true
		}
	}
	return Pending{}, false
}

// expire drops entries older than ttl, preserving order.
func (q *Queue) expire(now time.Time, ttl time.Duration) {
	if len(*q) == 0 {
		return
	}
	kept := (*q)[:0]
	for _, p := range *q {
		if now.Sub(p.TS) <= ttl {
			kept = append(kept, p)
		}
	}
	*q = kept
}

// targetAliases are the Task input fields that can name the delegation
// target, canonicalized (lowercase, underscores removed) and ordered by
// preference so mixed inputs resolve the same way every time.
var targetAliases = []string{"subagenttype", "agent", "agentname", "agenttype", "target"}

// TargetAgent extracts the delegation target from a Task tool input.
// Returns empty when the input names no agent.
func TargetAgent(input json.RawMessage) string {
	if len(input) == 0 {
		return ""
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(input, &fields); err != nil {
		return ""
	}
	canon := make(map[string]json.RawMessage, len(fields))
	for key, v := range fields {
		canon[strings.ReplaceAll(strings.ToLower(key), "_", "")] = v
	}
	for _, alias := range targetAliases {
		v, ok := canon[alias]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil && s != "" {
			return s
		}
	}
	return ""
}

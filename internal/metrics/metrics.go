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

// Package metrics aggregates per-tool and per-agent call statistics
// across hook invocations. Start timestamps are queued per (agent, tool)
// pair so overlapping calls by the same agent pair up FIFO even though
// each invocation runs in its own process.
package metrics

import (
	"sort"
	"time"
)

// maxPendingStarts caps each (agent, tool) start queue. Starts whose
// stops never arrive would otherwise accumulate forever.
const maxPendingStarts = 20

// Entry holds the aggregate for one tool or one agent.
type Entry struct {
	Count   int64 `json:"count"`
	TotalMS int64 `json:"total_ms"`
	MaxMS   int64 `json:"max_ms"`
	LastMS  int64 `json:"last_ms"`
}

// State is the persisted aggregate, embedded in the run document.
type State struct {
	// Pending maps "agent|tool" to a FIFO of start times in unix
	// milliseconds, consumed oldest-first when the matching stop lands.
	Pending map[string][]int64 `json:"pending,omitempty"`
	Tools   map[string]*Entry  `json:"tools,omitempty"`
	Agents  map[string]*Entry  `json:"agents,omitempty"`
}

func pendingKey(agent, tool string) string {
	return agent + "|" + tool
}

// StartTool queues a start timestamp for the (agent, tool) pair.
func (s *State) StartTool(agent, tool string, now time.Time) {
	if s.Pending == nil {
		s.Pending = make(map[string][]int64)
	}
	key := pendingKey(agent, tool)
	starts := append(s.Pending[key], now.UnixMilli())
	if len(starts) > maxPendingStarts {
		starts = starts[len(starts)-maxPendingStarts:]
	}
	s.Pending[key] = starts
}

// EndTool pops the oldest queued start for the pair and folds the
// elapsed time into both the tool and agent aggregates. A stop with no
// queued start still counts the call, with zero duration; an empty agent
// or tool name skips that map. Returns the duration in milliseconds.
func (s *State) EndTool(agent, tool string, now time.Time) int64 {
	var ms int64
	key := pendingKey(agent, tool)
	if starts := s.Pending[key]; len(starts) > 0 {
		ms = now.UnixMilli() - starts[0]
		if ms < 0 {
			ms = 0
		}
		if len(starts) == 1 {
			delete(s.Pending, key)
		} else {
			s.Pending[key] = starts[1:]
		}
	}
	if tool != "" {
		if s.Tools == nil {
			s.Tools = make(map[string]*Entry)
		}
		record(s.Tools, tool, ms)
	}
	if agent != "" {
		if s.Agents == nil {
			s.Agents = make(map[string]*Entry)
		}
		record(s.Agents, agent, ms)
	}
	return ms
}

func record(m map[string]*Entry, key string, ms int64) {
	e := m[key]
	if e == nil {
		e = &Entry{}
		m[key] = e
	}
	e.Count++
	e.TotalMS += ms
	if ms > e.MaxMS {
		e.MaxMS = ms
	}
	e.LastMS = ms
}

// Prune caps both aggregate maps at n entries, keeping the largest by
// total duration. Ties break on key so repeated prunes are stable.
func (s *State) Prune(n int) {
	pruneMap(s.Tools, n)
	pruneMap(s.Agents, n)
}

func pruneMap(m map[string]*Entry, n int) {
	if n <= 0 || len(m) <= n {
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := m[keys[i]], m[keys[j]]
		if a.TotalMS != b.TotalMS {
			return a.TotalMS > b.TotalMS
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys[n:] {
		delete(m, k)
	}
}

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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// WriteProm renders the aggregate as a Prometheus textfile at path,
// suitable for the node_exporter textfile collector. The file is written
// to a temp name and renamed, so scrapers never see a partial snapshot.
func WriteProm(path string, s *State) error {
	reg := prometheus.NewRegistry()

	toolCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "baton_tool_calls_total",
		Help: "Completed tool calls per tool.",
	}, []string{"tool"})
	toolTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "baton_tool_duration_ms_total",
		Help: "Cumulative tool call duration per tool, in milliseconds.",
	}, []string{"tool"})
	toolMax := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "baton_tool_duration_ms_max",
		Help: "Longest observed tool call per tool, in milliseconds.",
	}, []string{"tool"})
	toolLast := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "baton_tool_duration_ms_last",
		Help: "Most recent tool call duration per tool, in milliseconds.",
	}, []string{"tool"})

	agentCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "baton_agent_tool_calls_total",
		Help: "Completed tool calls per agent.",
	}, []string{"agent"})
	agentTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "baton_agent_duration_ms_total",
		Help: "Cumulative tool call duration per agent, in milliseconds.",
	}, []string{"agent"})
	agentMax := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "baton_agent_duration_ms_max",
		Help: "Longest observed tool call per agent, in milliseconds.",
	}, []string{"agent"})
	agentLast := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "baton_agent_duration_ms_last",
		Help: "Most recent tool call duration per agent, in milliseconds.",
	}, []string{"agent"})

	reg.MustRegister(toolCalls, toolTotal, toolMax, toolLast,
		agentCalls, agentTotal, agentMax, agentLast)

	for tool, e := range s.Tools {
		toolCalls.WithLabelValues(tool).Add(float64(e.Count))
		toolTotal.WithLabelValues(tool).Add(float64(e.TotalMS))
		toolMax.WithLabelValues(tool).Set(float64(e.MaxMS))
		toolLast.WithLabelValues(tool).Set(float64(e.LastMS))
	}
	for agent, e := range s.Agents {
		agentCalls.WithLabelValues(agent).Add(float64(e.Count))
		agentTotal.WithLabelValues(agent).Add(float64(e.TotalMS))
		agentMax.WithLabelValues(agent).Set(float64(e.MaxMS))
		agentLast.WithLabelValues(agent).Set(float64(e.LastMS))
	}

	return prometheus.WriteToTextfile(path, reg)
}

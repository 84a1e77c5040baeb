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

// Package summary renders a human-readable markdown report for a run.
// The report is derived: losing it costs nothing but a glance.
package summary

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tombee/baton/internal/metrics"
	"github.com/tombee/baton/internal/runstate"
)

// topN caps the tool and agent tables.
const topN = 10

// Path returns the summary location for a run.
func Path(root, runID string) string {
	return filepath.Join(runstate.RunDir(root, runID), "summary.md")
}

// Write renders and atomically replaces the run's summary.md.
func Write(root string, run *runstate.Run, now time.Time) error {
	dir := runstate.RunDir(root, run.RunID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	content := Render(run, now)

	tmpFile, err := os.CreateTemp(dir, ".summary-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.WriteString(content); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, Path(root, run.RunID)); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Render produces the markdown report.
func Render(run *runstate.Run, now time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Run %s\n\n", run.RunID)
	fmt.Fprintf(&b, "- **Status**: %s\n", run.Status)
	if run.SessionKey != "" {
		fmt.Fprintf(&b, "- **Session**: %s\n", run.SessionKey)
	}
	if run.Trace.TraceID != "" {
		fmt.Fprintf(&b, "- **Trace**: %s\n", run.Trace.TraceID)
	}
	fmt.Fprintf(&b, "- **Started**: %s\n", run.StartedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- **Duration**: %s\n", duration(run, now))
	fmt.Fprintf(&b, "- **Events**: %d\n", run.EventsCount)
	if run.CurrentAgent != "" {
		fmt.Fprintf(&b, "- **Current agent**: %s\n", run.CurrentAgent)
	}
	if run.CurrentActivity != "" {
		fmt.Fprintf(&b, "- **Current activity**: %s\n", run.CurrentActivity)
	}
	if run.Routing != nil {
		fmt.Fprintf(&b, "- **Routing**: %s", run.Routing.Decision)
		if run.Routing.Confidence > 0 {
			fmt.Fprintf(&b, " (%.0f%%)", run.Routing.Confidence*100)
		}
		b.WriteString("\n")
	}

	if rows := topEntries(run.Metrics.Tools); len(rows) > 0 {
		b.WriteString("\n## Tools\n\n")
		writeTable(&b, "Tool", rows)
	}
	if rows := topEntries(run.Metrics.Agents); len(rows) > 0 {
		b.WriteString("\n## Agents\n\n")
		writeTable(&b, "Agent", rows)
	}

	if len(run.Errors) > 0 {
		b.WriteString("\n## Errors\n\n")
		for _, e := range run.Errors {
			fmt.Fprintf(&b, "- `%s`", e.TS.UTC().Format(time.RFC3339))
			if e.Agent != "" {
				fmt.Fprintf(&b, " %s", e.Agent)
			}
			if e.Tool != "" {
				fmt.Fprintf(&b, " (%s)", e.Tool)
			}
			fmt.Fprintf(&b, ": %s\n", e.Message)
		}
	}
	return b.String()
}

func duration(run *runstate.Run, now time.Time) string {
	end := run.LastEventAt
	if run.Status == runstate.StatusRunning && now.After(end) {
		end = now
	}
	d := end.Sub(run.StartedAt)
	if d < 0 {
		d = 0
	}
	return d.Round(time.Millisecond).String()
}

type row struct {
	name  string
	entry *metrics.Entry
}

func topEntries(m map[string]*metrics.Entry) []row {
	rows := make([]row, 0, len(m))
	for name, e := range m {
		rows = append(rows, row{name, e})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].entry.TotalMS != rows[j].entry.TotalMS {
			return rows[i].entry.TotalMS > rows[j].entry.TotalMS
		}
		return rows[i].name < rows[j].name
	})
	if len(rows) > topN {
		rows = rows[:topN]
	}
	return rows
}

func writeTable(b *strings.Builder, label string, rows []row) {
	fmt.Fprintf(b, "| %s | Calls | Total | Max | Last |\n", label)
	b.WriteString("|---|---|---|---|---|\n")
	for _, r := range rows {
		fmt.Fprintf(b, "| %s | %d | %dms | %dms | %dms |\n",
			r.name, r.entry.Count, r.entry.TotalMS, r.entry.MaxMS, r.entry.LastMS)
	}
}

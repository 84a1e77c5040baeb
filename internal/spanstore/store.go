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

// Package spanstore maintains an optional SQLite index of reconstructed
// spans, so traces can be queried without replaying NDJSON logs. The
// index is a side channel: it may lag or be missing entirely.
package spanstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed span index.
type Store struct {
	db *sql.DB
}

// Record is one span row. A span appears first with only a start time;
// the matching end event fills in the rest.
type Record struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
	RunID        string
	Agent        string
	Tool         string
	Kind         string
	EventType    string
	StartNS      int64
	EndNS        int64
	DurationMS   int64
	OK           bool
}

// Open opens (or creates) the span index at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// WAL keeps concurrent hook invocations from tripping over locks.
	connStr := path
	if path != ":memory:" {
		connStr += "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection per process; invocations are short and serial.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS spans (
			trace_id TEXT NOT NULL,
			span_id TEXT NOT NULL,
			parent_span_id TEXT,
			run_id TEXT NOT NULL,
			agent TEXT,
			tool TEXT,
			kind TEXT NOT NULL,
			event_type TEXT NOT NULL,
			start_ns INTEGER NOT NULL DEFAULT 0,
			end_ns INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			ok INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (trace_id, span_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_spans_run_id ON spans(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_spans_start_ns ON spans(start_ns)`,
		`CREATE INDEX IF NOT EXISTS idx_spans_open ON spans(end_ns) WHERE end_ns = 0`,
	}
	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Upsert inserts or completes a span row. Fields already set by the
// start event survive a sparse end event: zero start times, empty names
// and zero durations never overwrite known values.
func (s *Store) Upsert(ctx context.Context, r Record) error {
	if r.TraceID == "" {
		return fmt.Errorf("span trace_id is required")
	}
	if r.SpanID == "" {
		return fmt.Errorf("span span_id is required")
	}

	query := `
		INSERT INTO spans (trace_id, span_id, parent_span_id, run_id, agent, tool,
			kind, event_type, start_ns, end_ns, duration_ms, ok, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(trace_id, span_id) DO UPDATE SET
			parent_span_id = CASE WHEN excluded.parent_span_id != '' THEN excluded.parent_span_id ELSE spans.parent_span_id END,
			agent = CASE WHEN excluded.agent != '' THEN excluded.agent ELSE spans.agent END,
			tool = CASE WHEN excluded.tool != '' THEN excluded.tool ELSE spans.tool END,
			kind = CASE WHEN excluded.kind != '' THEN excluded.kind ELSE spans.kind END,
			event_type = excluded.event_type,
			start_ns = CASE WHEN spans.start_ns = 0 THEN excluded.start_ns ELSE spans.start_ns END,
			end_ns = CASE WHEN excluded.end_ns != 0 THEN excluded.end_ns ELSE spans.end_ns END,
			duration_ms = CASE WHEN excluded.duration_ms != 0 THEN excluded.duration_ms ELSE spans.duration_ms END,
			ok = excluded.ok
	`
	_, err := s.db.ExecContext(ctx, query,
		r.TraceID, r.SpanID, r.ParentSpanID, r.RunID, r.Agent, r.Tool,
		r.Kind, r.EventType, r.StartNS, r.EndNS, r.DurationMS, r.OK,
		time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to store span: %w", err)
	}
	return nil
}

// SpansForTrace returns all spans in a trace ordered by start time.
func (s *Store) SpansForTrace(ctx context.Context, traceID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trace_id, span_id, parent_span_id, run_id, agent, tool,
			kind, event_type, start_ns, end_ns, duration_ms, ok
		FROM spans WHERE trace_id = ? ORDER BY start_ns, span_id
	`, traceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query spans: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var parent sql.NullString
		if err := rows.Scan(&r.TraceID, &r.SpanID, &parent, &r.RunID, &r.Agent, &r.Tool,
			&r.Kind, &r.EventType, &r.StartNS, &r.EndNS, &r.DurationMS, &r.OK); err != nil {
			return nil, fmt.Errorf("failed to scan span: %w", err)
		}
		r.ParentSpanID = parent.String
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate spans: %w", err)
	}
	return records, nil
}

// OpenSpans returns spans in a run that never saw their end event.
func (s *Store) OpenSpans(ctx context.Context, runID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trace_id, span_id, parent_span_id, run_id, agent, tool,
			kind, event_type, start_ns, end_ns, duration_ms, ok
		FROM spans WHERE run_id = ? AND end_ns = 0 ORDER BY start_ns, span_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query open spans: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var parent sql.NullString
		if err := rows.Scan(&r.TraceID, &r.SpanID, &parent, &r.RunID, &r.Agent, &r.Tool,
			&r.Kind, &r.EventType, &r.StartNS, &r.EndNS, &r.DurationMS, &r.OK); err != nil {
			return nil, fmt.Errorf("failed to scan span: %w", err)
		}
		r.ParentSpanID = parent.String
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate spans: %w", err)
	}
	return records, nil
}

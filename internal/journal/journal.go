// Package journal provides SQLite-backed local persistence for telemetry
// spans and events. The remote store is authoritative; the journal lets
// `tina-session daemon status` inspect recent activity without a store
// round-trip, and keeps a record when the store is down.
package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/antigravity-dev/tina/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS spans (
	span_id      TEXT PRIMARY KEY,
	trace_id     TEXT NOT NULL,
	operation    TEXT NOT NULL,
	source       TEXT NOT NULL,
	status       TEXT NOT NULL,
	started_at   TEXT NOT NULL,
	ended_at     TEXT,
	duration_ms  REAL,
	error_code   TEXT,
	error_detail TEXT,
	attrs        TEXT,
	recorded_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	trace_id    TEXT NOT NULL,
	span_id     TEXT NOT NULL,
	event_type  TEXT NOT NULL,
	severity    TEXT NOT NULL,
	message     TEXT NOT NULL,
	source      TEXT NOT NULL,
	status      TEXT,
	attrs       TEXT,
	recorded_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_recorded_at ON events(recorded_at);
CREATE INDEX IF NOT EXISTS idx_spans_recorded_at ON spans(recorded_at);
`

// Journal is the local telemetry database.
type Journal struct {
	db *sql.DB
}

// Open opens (and creates if needed) the journal database.
func Open(dbPath string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("journal: create dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", dbPath, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: create schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// RecordSpan inserts or replaces a span by span id, so ending a span
// overwrites its open record.
func (j *Journal) RecordSpan(span *store.SpanRecord) error {
	_, err := j.db.Exec(`
		INSERT OR REPLACE INTO spans
		(span_id, trace_id, operation, source, status, started_at, ended_at,
		 duration_ms, error_code, error_detail, attrs, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		span.SpanID, span.TraceID, span.Operation, span.Source, span.Status,
		span.StartedAt, span.EndedAt, span.DurationMs,
		span.ErrorCode, span.ErrorDetail, span.Attrs, span.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("journal: record span: %w", err)
	}
	return nil
}

// RecordEvent appends a telemetry event.
func (j *Journal) RecordEvent(event *store.TelemetryEventRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO events
		(trace_id, span_id, event_type, severity, message, source, status, attrs, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.TraceID, event.SpanID, event.EventType, event.Severity,
		event.Message, event.Source, event.Status, event.Attrs, event.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("journal: record event: %w", err)
	}
	return nil
}

// JournalEvent is one row read back from the events table.
type JournalEvent struct {
	EventType  string
	Severity   string
	Message    string
	Source     string
	Attrs      string
	RecordedAt string
}

// RecentEvents returns the newest events, most recent first.
func (j *Journal) RecentEvents(limit int) ([]JournalEvent, error) {
	rows, err := j.db.Query(`
		SELECT event_type, severity, message, source, COALESCE(attrs, ''), recorded_at
		FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: query events: %w", err)
	}
	defer rows.Close()

	var events []JournalEvent
	for rows.Next() {
		var e JournalEvent
		if err := rows.Scan(&e.EventType, &e.Severity, &e.Message, &e.Source, &e.Attrs, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("journal: scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// JournalSpan is one row read back from the spans table.
type JournalSpan struct {
	SpanID     string
	Operation  string
	Status     string
	DurationMs sql.NullFloat64
	RecordedAt string
}

// RecentSpans returns the newest spans, most recent first.
func (j *Journal) RecentSpans(limit int) ([]JournalSpan, error) {
	rows, err := j.db.Query(`
		SELECT span_id, operation, status, duration_ms, recorded_at
		FROM spans ORDER BY recorded_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: query spans: %w", err)
	}
	defer rows.Close()

	var spans []JournalSpan
	for rows.Next() {
		var s JournalSpan
		if err := rows.Scan(&s.SpanID, &s.Operation, &s.Status, &s.DurationMs, &s.RecordedAt); err != nil {
			return nil, fmt.Errorf("journal: scan span: %w", err)
		}
		spans = append(spans, s)
	}
	return spans, rows.Err()
}

// ErrorCount returns how many spans ended with an error status.
func (j *Journal) ErrorCount() (int, error) {
	var count int
	err := j.db.QueryRow(`SELECT COUNT(*) FROM spans WHERE status = 'error'`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("journal: count errors: %w", err)
	}
	return count, nil
}

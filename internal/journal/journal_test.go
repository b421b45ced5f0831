package journal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/tina/internal/store"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "telemetry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func span(id, status string) *store.SpanRecord {
	return &store.SpanRecord{
		TraceID:    "trace-1",
		SpanID:     id,
		Source:     "tina-daemon",
		Operation:  "daemon.sync_tasks",
		StartedAt:  "2026-02-14T10:00:00Z",
		Status:     status,
		RecordedAt: "2026-02-14T10:00:01Z",
	}
}

func TestRecordSpanReplacesBySpanID(t *testing.T) {
	j := openTestJournal(t)

	require.NoError(t, j.RecordSpan(span("span-1", "pending")))
	require.NoError(t, j.RecordSpan(span("span-1", "ok")))

	spans, err := j.RecentSpans(10)
	require.NoError(t, err)
	require.Len(t, spans, 1)
	require.Equal(t, "ok", spans[0].Status)
}

func TestRecentEventsNewestFirst(t *testing.T) {
	j := openTestJournal(t)

	for _, msg := range []string{"first", "second", "third"} {
		require.NoError(t, j.RecordEvent(&store.TelemetryEventRecord{
			TraceID:    "trace-1",
			SpanID:     "span-1",
			Source:     "tina-daemon",
			EventType:  "projection.write",
			Severity:   "info",
			Message:    msg,
			RecordedAt: "2026-02-14T10:00:00Z",
		}))
	}

	events, err := j.RecentEvents(2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "third", events[0].Message)
	require.Equal(t, "second", events[1].Message)
}

func TestErrorCount(t *testing.T) {
	j := openTestJournal(t)

	require.NoError(t, j.RecordSpan(span("span-1", "ok")))
	require.NoError(t, j.RecordSpan(span("span-2", "error")))
	require.NoError(t, j.RecordSpan(span("span-3", "error")))

	count, err := j.ErrorCount()
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestOpenCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "telemetry.db")
	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Close())
}

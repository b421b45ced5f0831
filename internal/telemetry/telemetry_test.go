package telemetry

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/tina/internal/journal"
	"github.com/antigravity-dev/tina/internal/store"
)

// captureSink records what the recorder writes to the store.
type captureSink struct {
	mu     sync.Mutex
	spans  []store.SpanRecord
	events []store.TelemetryEventRecord
	fail   bool
}

func (s *captureSink) RecordSpan(ctx context.Context, record *store.SpanRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return "", context.DeadlineExceeded
	}
	s.spans = append(s.spans, *record)
	return record.SpanID, nil
}

func (s *captureSink) RecordTelemetryEvent(ctx context.Context, record *store.TelemetryEventRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return "", context.DeadlineExceeded
	}
	s.events = append(s.events, *record)
	return "event", nil
}

func TestSpanLifecycle(t *testing.T) {
	sink := &captureSink{}
	recorder := NewRecorder(sink, nil, "tina-daemon", nil)

	span := recorder.StartSpan("daemon.sync_tasks")
	require.NotEmpty(t, span.TraceID)
	require.NotEmpty(t, span.SpanID)
	require.Equal(t, "daemon.sync_tasks", span.Operation)

	recorder.EndSpan(context.Background(), span, "ok", nil, nil)

	require.Len(t, sink.spans, 1)
	recorded := sink.spans[0]
	require.Equal(t, span.SpanID, recorded.SpanID)
	require.Equal(t, "ok", recorded.Status)
	require.Equal(t, "tina-daemon", recorded.Source)
	require.NotNil(t, recorded.DurationMs)
	require.NotNil(t, recorded.EndedAt)
}

func TestSpanErrorCarriesCodeAndDetail(t *testing.T) {
	sink := &captureSink{}
	recorder := NewRecorder(sink, nil, "tina-daemon", nil)

	span := recorder.StartSpan("daemon.sync_commits")
	recorder.EndSpan(context.Background(), span, "error",
		store.StrPtr("store_write_failed"), store.StrPtr("injected failure"))

	require.Len(t, sink.spans, 1)
	require.Equal(t, "error", sink.spans[0].Status)
	require.Equal(t, "store_write_failed", *sink.spans[0].ErrorCode)
	require.Equal(t, "injected failure", *sink.spans[0].ErrorDetail)
}

func TestEmitEventUnderSpanSharesIDs(t *testing.T) {
	sink := &captureSink{}
	recorder := NewRecorder(sink, nil, "tina-daemon", nil)

	span := recorder.StartSpan("daemon.sync_tasks").
		WithContext(store.StrPtr("orch_1"), store.StrPtr("feature"), store.StrPtr("1"))
	recorder.EmitEvent(context.Background(), span, "projection.write", "info", "task event written", nil)

	require.Len(t, sink.events, 1)
	event := sink.events[0]
	require.Equal(t, span.TraceID, event.TraceID)
	require.Equal(t, span.SpanID, event.SpanID)
	require.Equal(t, "orch_1", *event.OrchestrationID)
	require.Equal(t, "projection.write", event.EventType)
}

func TestEmitEventWithoutSpanGeneratesIDs(t *testing.T) {
	sink := &captureSink{}
	recorder := NewRecorder(sink, nil, "tina-session", nil)

	recorder.EmitEvent(context.Background(), nil, "state.transition", "info", "advanced", nil)
	require.Len(t, sink.events, 1)
	require.NotEmpty(t, sink.events[0].TraceID)
	require.NotEmpty(t, sink.events[0].SpanID)
}

func TestSinkFailureIsNonFatalAndJournalStillWritten(t *testing.T) {
	jrnl, err := journal.Open(filepath.Join(t.TempDir(), "telemetry.db"))
	require.NoError(t, err)
	defer jrnl.Close()

	sink := &captureSink{fail: true}
	recorder := NewRecorder(sink, jrnl, "tina-daemon", nil)

	span := recorder.StartSpan("daemon.sync_all")
	recorder.EndSpan(context.Background(), span, "ok", nil, nil)
	recorder.EmitEvent(context.Background(), span, "projection.skip", "info", "nothing to do", nil)

	spans, err := jrnl.RecentSpans(10)
	require.NoError(t, err)
	require.Len(t, spans, 1)

	events, err := jrnl.RecentEvents(10)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestNilSinksAreSkipped(t *testing.T) {
	recorder := NewRecorder(nil, nil, "tina-daemon", nil)
	span := recorder.StartSpan("daemon.sync_all")
	recorder.EndSpan(context.Background(), span, "ok", nil, nil)
	recorder.EmitEvent(context.Background(), span, "projection.skip", "info", "noop", nil)
}

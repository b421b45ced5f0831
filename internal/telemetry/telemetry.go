// Package telemetry records structured spans and events for every sync and
// orchestration operation. Writes go to the remote store and to the local
// journal; neither sink failing is fatal to the operation being traced.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/antigravity-dev/tina/internal/journal"
	"github.com/antigravity-dev/tina/internal/store"
)

// Sink is the subset of the store client the recorder writes through.
type Sink interface {
	RecordSpan(ctx context.Context, record *store.SpanRecord) (string, error)
	RecordTelemetryEvent(ctx context.Context, record *store.TelemetryEventRecord) (string, error)
}

// Recorder writes spans and events tagged with a fixed source.
type Recorder struct {
	sink    Sink
	journal *journal.Journal
	source  string
	logger  *slog.Logger
}

// NewRecorder builds a recorder. Both sink and journal may be nil; writes
// to a nil destination are skipped.
func NewRecorder(sink Sink, jrnl *journal.Journal, source string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{sink: sink, journal: jrnl, source: source, logger: logger}
}

// Span is one in-flight operation.
type Span struct {
	TraceID   string
	SpanID    string
	Operation string
	StartedAt time.Time

	// Optional context attached to the span and its events.
	OrchestrationID *string
	FeatureName     *string
	PhaseNumber     *string
}

// StartSpan opens a span for an operation.
func (r *Recorder) StartSpan(operation string) *Span {
	return &Span{
		TraceID:   uuid.NewString(),
		SpanID:    uuid.NewString(),
		Operation: operation,
		StartedAt: time.Now().UTC(),
	}
}

// WithContext attaches orchestration context to a span.
func (s *Span) WithContext(orchestrationID, feature, phase *string) *Span {
	s.OrchestrationID = orchestrationID
	s.FeatureName = feature
	s.PhaseNumber = phase
	return s
}

// EndSpan closes a span with a status ("ok" or "error") and optional error
// code/detail, then records it.
func (r *Recorder) EndSpan(ctx context.Context, span *Span, status string, errorCode, errorDetail *string) {
	now := time.Now().UTC()
	durationMs := float64(now.Sub(span.StartedAt).Milliseconds())
	endedAt := now.Format(time.RFC3339Nano)

	record := &store.SpanRecord{
		TraceID:         span.TraceID,
		SpanID:          span.SpanID,
		OrchestrationID: span.OrchestrationID,
		FeatureName:     span.FeatureName,
		PhaseNumber:     span.PhaseNumber,
		Source:          r.source,
		Operation:       span.Operation,
		StartedAt:       span.StartedAt.Format(time.RFC3339Nano),
		EndedAt:         &endedAt,
		DurationMs:      &durationMs,
		Status:          status,
		ErrorCode:       errorCode,
		ErrorDetail:     errorDetail,
		RecordedAt:      now.Format(time.RFC3339Nano),
	}

	if r.journal != nil {
		if err := r.journal.RecordSpan(record); err != nil {
			r.logger.Warn("journal span write failed", "operation", span.Operation, "error", err)
		}
	}
	if r.sink != nil {
		if _, err := r.sink.RecordSpan(ctx, record); err != nil {
			r.logger.Warn("telemetry span write failed", "operation", span.Operation, "error", err)
		}
	}
}

// EmitEvent records one standalone telemetry event under a span.
func (r *Recorder) EmitEvent(ctx context.Context, span *Span, eventType, severity, message string, attrs *string) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	traceID, spanID := uuid.NewString(), uuid.NewString()
	var orchID, feature, phase *string
	if span != nil {
		traceID, spanID = span.TraceID, span.SpanID
		orchID, feature, phase = span.OrchestrationID, span.FeatureName, span.PhaseNumber
	}

	record := &store.TelemetryEventRecord{
		TraceID:         traceID,
		SpanID:          spanID,
		OrchestrationID: orchID,
		FeatureName:     feature,
		PhaseNumber:     phase,
		Source:          r.source,
		EventType:       eventType,
		Severity:        severity,
		Message:         message,
		Attrs:           attrs,
		RecordedAt:      now,
	}

	if r.journal != nil {
		if err := r.journal.RecordEvent(record); err != nil {
			r.logger.Warn("journal event write failed", "event_type", eventType, "error", err)
		}
	}
	if r.sink != nil {
		if _, err := r.sink.RecordTelemetryEvent(ctx, record); err != nil {
			r.logger.Warn("telemetry event write failed", "event_type", eventType, "error", err)
		}
	}
}

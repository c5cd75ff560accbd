package observability

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AuditEvent represents a structured event for the audit log
type AuditEvent struct {
	Type      string                 `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	Actor     string                 `json:"actor,omitempty"` // client or transport that issued the call
	Action    string                 `json:"action"`          // e.g. "call:set_cluster_permissions"
	Status    string                 `json:"status"`          // "success" or "failure"
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
}

// AuditLogger writes one JSON line per audit event. A nil *AuditLogger
// discards events.
type AuditLogger struct {
	logger zerolog.Logger
	mu     sync.Mutex
	closer io.Closer
}

// NewAuditLogger creates an audit logger writing to w
func NewAuditLogger(w io.Writer) *AuditLogger {
	return &AuditLogger{
		logger: zerolog.New(w),
	}
}

// OpenAuditLogger creates an audit logger appending to the file at path
func OpenAuditLogger(path string) (*AuditLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}

	a := NewAuditLogger(file)
	a.closer = file
	return a, nil
}

// Record emits an audit event to the log and attaches it to the active span
func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	if a == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if ctx != nil {
		span := trace.SpanFromContext(ctx)
		if span.SpanContext().IsValid() {
			if event.TraceID == "" {
				event.TraceID = span.SpanContext().TraceID().String()
			}

			span.AddEvent(event.Action, trace.WithAttributes(
				attribute.String("audit.type", event.Type),
				attribute.String("audit.status", event.Status),
				attribute.String("audit.actor", event.Actor),
			))
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Time("timestamp", event.Timestamp).
		Str("event_type", event.Type).
		Str("action", event.Action).
		Str("status", event.Status)

	if event.Actor != "" {
		entry.Str("actor", event.Actor)
	}
	if event.TraceID != "" {
		entry.Str("trace_id", event.TraceID)
	}
	if event.Metadata != nil {
		entry.Interface("metadata", event.Metadata)
	}

	entry.Send()
}

// Close closes the audit logger's file handle
func (a *AuditLogger) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closer != nil {
		err := a.closer.Close()
		a.closer = nil
		return err
	}
	return nil
}

// RecordToolCall records the outcome of one tool call
func (a *AuditLogger) RecordToolCall(ctx context.Context, toolName, actor, status string, metadata map[string]interface{}) {
	a.Record(ctx, AuditEvent{
		Type:     "tool",
		Actor:    actor,
		Action:   "call:" + toolName,
		Status:   status,
		Metadata: metadata,
	})
}

// RecordConfig records a configuration event such as the server starting
func (a *AuditLogger) RecordConfig(ctx context.Context, action string, metadata map[string]interface{}) {
	a.Record(ctx, AuditEvent{
		Type:     "config",
		Action:   action,
		Status:   "success",
		Metadata: metadata,
	})
}

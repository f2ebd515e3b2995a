package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/harun/voxrelay/internal/tracing"
)

// Audit event types.
const (
	AuditAuth    = "auth"
	AuditSession = "session"
	AuditConfig  = "config"
)

// AuditEvent is one line of the audit log
type AuditEvent struct {
	Type      string                 `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	Actor     string                 `json:"actor,omitempty"` // logged-in user
	Action    string                 `json:"action"`          // e.g. "login", "start_dialogue"
	Status    string                 `json:"status"`          // "success" or "failure"
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
}

// AuditLogger records who did what to which relay session
type AuditLogger struct {
	logger zerolog.Logger
	mu     sync.Mutex
	closer io.Closer
}

var (
	auditMu   sync.RWMutex
	auditInst = NewAuditLogger(os.Stderr)
)

// NewAuditLogger writes audit lines as JSON to w.
func NewAuditLogger(w io.Writer) *AuditLogger {
	return &AuditLogger{logger: zerolog.New(w)}
}

// GetAuditLogger returns the process audit logger
func GetAuditLogger() *AuditLogger {
	auditMu.RLock()
	defer auditMu.RUnlock()
	return auditInst
}

// InitAuditLogger points the process audit logger at a file.
func InitAuditLogger(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}

	a := NewAuditLogger(file)
	a.closer = file

	auditMu.Lock()
	auditInst = a
	auditMu.Unlock()
	return nil
}

// Record writes event and mirrors it onto the active span.
func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Actor == "" {
		event.Actor = tracing.GetUser(ctx)
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		event.TraceID = span.SpanContext().TraceID().String()
		span.AddEvent(event.Action, trace.WithAttributes(
			attribute.String("audit.type", event.Type),
			attribute.String("audit.status", event.Status),
			attribute.String("audit.actor", event.Actor),
		))
	} else if event.TraceID == "" {
		event.TraceID = tracing.GetTraceID(ctx)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Time("timestamp", event.Timestamp).
		Str("event_type", event.Type).
		Str("actor", event.Actor).
		Str("action", event.Action).
		Str("status", event.Status)
	if event.TraceID != "" {
		entry.Str("trace_id", event.TraceID)
	}
	if event.Metadata != nil {
		entry.Interface("metadata", event.Metadata)
	}
	entry.Send()
}

// Close closes the audit log file, if any.
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// RecordAuthAudit records a login or logout attempt.
func RecordAuthAudit(ctx context.Context, action, user string, ok bool, metadata map[string]interface{}) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Type:     AuditAuth,
		Actor:    user,
		Action:   action,
		Status:   status(ok),
		Metadata: metadata,
	})
}

// RecordSessionAudit records a relay session being started or stopped.
func RecordSessionAudit(ctx context.Context, action, sessionID string, err error) {
	metadata := map[string]interface{}{"session_id": sessionID}
	if err != nil {
		metadata["error"] = err.Error()
	}
	GetAuditLogger().Record(ctx, AuditEvent{
		Type:     AuditSession,
		Action:   action,
		Status:   status(err == nil),
		Metadata: metadata,
	})
}

// RecordConfigAudit records a runtime configuration change.
func RecordConfigAudit(ctx context.Context, action string, metadata map[string]interface{}) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Type:     AuditConfig,
		Actor:    "system",
		Action:   action,
		Status:   "success",
		Metadata: metadata,
	})
}

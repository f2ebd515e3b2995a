package tracing

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// TraceHeader carries the trace ID across HTTP hops.
const TraceHeader = "X-Trace-Id"

// FromRequest returns r's context carrying the caller's trace ID, or a new one,
// and a fresh request ID.
func FromRequest(r *http.Request) context.Context {
	ctx := r.Context()
	traceID := strings.TrimSpace(r.Header.Get(TraceHeader))
	if traceID == "" {
		traceID = NewTraceID()
	}
	ctx = WithTraceID(ctx, traceID)
	return WithRequestID(ctx, NewRequestID())
}

// InjectHeader copies the trace ID from ctx into h.
func InjectHeader(ctx context.Context, h http.Header) {
	if traceID := GetTraceID(ctx); traceID != "" {
		h.Set(TraceHeader, traceID)
	}
}

// PropagateToLogger adds tracing context to a zerolog logger
func PropagateToLogger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	if tc.TraceID != "" {
		logger = logger.With().Str("trace_id", tc.TraceID).Logger()
	}
	if tc.RequestID != "" {
		logger = logger.With().Str("request_id", tc.RequestID).Logger()
	}
	if tc.SessionID != "" {
		logger = logger.With().Str("session_id", tc.SessionID).Logger()
	}
	if tc.User != "" {
		logger = logger.With().Str("user", tc.User).Logger()
	}

	return logger
}

// LoggerFromContext creates a logger with tracing context from the given context
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	return PropagateToLogger(ctx, baseLogger)
}

// MergeContext copies tracing values missing from target out of source.
func MergeContext(target, source context.Context) context.Context {
	tc := FromContext(source)

	if tc.TraceID != "" && GetTraceID(target) == "" {
		target = WithTraceID(target, tc.TraceID)
	}
	if tc.RequestID != "" && GetRequestID(target) == "" {
		target = WithRequestID(target, tc.RequestID)
	}
	if tc.SessionID != "" && GetSessionID(target) == "" {
		target = WithSessionID(target, tc.SessionID)
	}
	if tc.User != "" && GetUser(target) == "" {
		target = WithUser(target, tc.User)
	}

	return target
}

// CloneContext detaches the tracing values of ctx from its cancellation,
// for work that must outlive the request that started it.
func CloneContext(ctx context.Context) context.Context {
	tc := FromContext(ctx)
	return NewContext(context.Background(), tc)
}

// Package tracing carries execution identity through contexts: the trace
// id spanning a whole trigger, the run id of one execution stream, and
// the entry point and session both belong to. It also owns the process
// OpenTelemetry setup.
package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for tracing context keys.
type ContextKey string

const (
	// TraceIDKey identifies one trigger end to end, across owner and
	// guest executions.
	TraceIDKey ContextKey = "trace_id"
	// RunIDKey identifies a single execution stream.
	RunIDKey ContextKey = "run_id"
	// EntryPointKey names the graph entry point that started the run.
	EntryPointKey ContextKey = "entry_point"
	// SessionIDKey names the session the run belongs to.
	SessionIDKey ContextKey = "session_id"
)

// TraceContext is the flattened view of the tracing values on a context.
type TraceContext struct {
	TraceID    string
	RunID      string
	EntryPoint string
	SessionID  string
}

// NewTraceID generates a new trace ID.
func NewTraceID() string {
	return uuid.New().String()
}

// NewRunID generates a new run ID.
func NewRunID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithRunID adds a run ID to the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithEntryPoint records the entry point that started the run.
func WithEntryPoint(ctx context.Context, entryPointID string) context.Context {
	return context.WithValue(ctx, EntryPointKey, entryPointID)
}

// WithSessionID records the session the run belongs to.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// GetTraceID retrieves the trace ID from the context.
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetRunID retrieves the run ID from the context.
func GetRunID(ctx context.Context) string {
	if runID, ok := ctx.Value(RunIDKey).(string); ok {
		return runID
	}
	return ""
}

// GetEntryPoint retrieves the entry point ID from the context.
func GetEntryPoint(ctx context.Context) string {
	if entryPointID, ok := ctx.Value(EntryPointKey).(string); ok {
		return entryPointID
	}
	return ""
}

// GetSessionID retrieves the session ID from the context.
func GetSessionID(ctx context.Context) string {
	if sessionID, ok := ctx.Value(SessionIDKey).(string); ok {
		return sessionID
	}
	return ""
}

// FromContext extracts all tracing information from the context.
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:    GetTraceID(ctx),
		RunID:      GetRunID(ctx),
		EntryPoint: GetEntryPoint(ctx),
		SessionID:  GetSessionID(ctx),
	}
}

// NewContext applies the non-empty fields of tc to ctx.
func NewContext(ctx context.Context, tc *TraceContext) context.Context {
	if tc.TraceID != "" {
		ctx = WithTraceID(ctx, tc.TraceID)
	}
	if tc.RunID != "" {
		ctx = WithRunID(ctx, tc.RunID)
	}
	if tc.EntryPoint != "" {
		ctx = WithEntryPoint(ctx, tc.EntryPoint)
	}
	if tc.SessionID != "" {
		ctx = WithSessionID(ctx, tc.SessionID)
	}
	return ctx
}

// NewTriggerContext starts the trace for an incoming trigger.
func NewTriggerContext(ctx context.Context) context.Context {
	return WithTraceID(ctx, NewTraceID())
}

// NewRunContext starts a run within the current trace: a fresh run ID
// tagged with the entry point that fired.
func NewRunContext(ctx context.Context, entryPointID string) context.Context {
	ctx = WithRunID(ctx, NewRunID())
	ctx = WithEntryPoint(ctx, entryPointID)
	return ctx
}

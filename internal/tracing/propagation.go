package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// PropagateToGuest derives the context for a guest execution attaching
// to a running session. The trace ID carries over (generated when the
// parent has none) so owner and guest correlate; the run ID is fresh and
// the entry point is the guest's own.
func PropagateToGuest(ctx context.Context, entryPointID string) context.Context {
	traceID := GetTraceID(ctx)
	if traceID == "" {
		traceID = NewTraceID()
	}

	guestCtx := WithTraceID(ctx, traceID)
	guestCtx = WithRunID(guestCtx, NewRunID())
	guestCtx = WithEntryPoint(guestCtx, entryPointID)

	if sessionID := GetSessionID(ctx); sessionID != "" {
		guestCtx = WithSessionID(guestCtx, sessionID)
	}

	return guestCtx
}

// PropagateToLogger stamps the context's tracing fields onto a zerolog
// logger, so every line from a run carries its identity.
func PropagateToLogger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	if tc.TraceID != "" {
		logger = logger.With().Str("trace_id", tc.TraceID).Logger()
	}
	if tc.RunID != "" {
		logger = logger.With().Str("run_id", tc.RunID).Logger()
	}
	if tc.EntryPoint != "" {
		logger = logger.With().Str("entry_point", tc.EntryPoint).Logger()
	}
	if tc.SessionID != "" {
		logger = logger.With().Str("session_id", tc.SessionID).Logger()
	}

	return logger
}

// LoggerFromContext builds a logger carrying the context's tracing
// fields.
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	return PropagateToLogger(ctx, baseLogger)
}

// MergeContext copies tracing fields from source into target, keeping
// whatever target already has.
func MergeContext(target, source context.Context) context.Context {
	tc := FromContext(source)

	if tc.TraceID != "" && GetTraceID(target) == "" {
		target = WithTraceID(target, tc.TraceID)
	}
	if tc.RunID != "" && GetRunID(target) == "" {
		target = WithRunID(target, tc.RunID)
	}
	if tc.EntryPoint != "" && GetEntryPoint(target) == "" {
		target = WithEntryPoint(target, tc.EntryPoint)
	}
	if tc.SessionID != "" && GetSessionID(target) == "" {
		target = WithSessionID(target, tc.SessionID)
	}

	return target
}

// CloneContext carries tracing identity onto a fresh background context.
// Used when handing work to a goroutine that must not inherit the
// caller's cancellation.
func CloneContext(ctx context.Context) context.Context {
	return NewContext(context.Background(), FromContext(ctx))
}

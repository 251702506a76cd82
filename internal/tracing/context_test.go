package tracing

import (
	"context"
	"testing"
)

func TestNewTraceID(t *testing.T) {
	id1 := NewTraceID()
	id2 := NewTraceID()

	if id1 == "" {
		t.Error("NewTraceID returned empty string")
	}
	if id1 == id2 {
		t.Error("NewTraceID returned duplicate IDs")
	}
}

func TestNewRunID(t *testing.T) {
	id1 := NewRunID()
	id2 := NewRunID()

	if id1 == "" {
		t.Error("NewRunID returned empty string")
	}
	if id1 == id2 {
		t.Error("NewRunID returned duplicate IDs")
	}
}

func TestWithTraceID(t *testing.T) {
	ctx := WithTraceID(context.Background(), "test-trace-id")

	if got := GetTraceID(ctx); got != "test-trace-id" {
		t.Errorf("Expected trace ID test-trace-id, got %s", got)
	}
}

func TestWithRunID(t *testing.T) {
	ctx := WithRunID(context.Background(), "test-run-id")

	if got := GetRunID(ctx); got != "test-run-id" {
		t.Errorf("Expected run ID test-run-id, got %s", got)
	}
}

func TestWithEntryPoint(t *testing.T) {
	ctx := WithEntryPoint(context.Background(), "on_new_lead")

	if got := GetEntryPoint(ctx); got != "on_new_lead" {
		t.Errorf("Expected entry point on_new_lead, got %s", got)
	}
}

func TestWithSessionID(t *testing.T) {
	ctx := WithSessionID(context.Background(), "sess-abc")

	if got := GetSessionID(ctx); got != "sess-abc" {
		t.Errorf("Expected session ID sess-abc, got %s", got)
	}
}

func TestGetTraceIDEmpty(t *testing.T) {
	if got := GetTraceID(context.Background()); got != "" {
		t.Errorf("Expected empty trace ID, got %s", got)
	}
}

func TestGetRunIDEmpty(t *testing.T) {
	if got := GetRunID(context.Background()); got != "" {
		t.Errorf("Expected empty run ID, got %s", got)
	}
}

func TestGetEntryPointEmpty(t *testing.T) {
	if got := GetEntryPoint(context.Background()); got != "" {
		t.Errorf("Expected empty entry point, got %s", got)
	}
}

func TestGetSessionIDEmpty(t *testing.T) {
	if got := GetSessionID(context.Background()); got != "" {
		t.Errorf("Expected empty session ID, got %s", got)
	}
}

func TestFromContext(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-123")
	ctx = WithRunID(ctx, "run-456")
	ctx = WithEntryPoint(ctx, "intake")
	ctx = WithSessionID(ctx, "sess-abc")

	tc := FromContext(ctx)

	if tc.TraceID != "trace-123" {
		t.Errorf("Expected trace ID trace-123, got %s", tc.TraceID)
	}
	if tc.RunID != "run-456" {
		t.Errorf("Expected run ID run-456, got %s", tc.RunID)
	}
	if tc.EntryPoint != "intake" {
		t.Errorf("Expected entry point intake, got %s", tc.EntryPoint)
	}
	if tc.SessionID != "sess-abc" {
		t.Errorf("Expected session ID sess-abc, got %s", tc.SessionID)
	}
}

func TestNewContext(t *testing.T) {
	tc := &TraceContext{
		TraceID:    "trace-123",
		RunID:      "run-456",
		EntryPoint: "intake",
		SessionID:  "sess-abc",
	}

	ctx := NewContext(context.Background(), tc)

	if GetTraceID(ctx) != "trace-123" {
		t.Error("Trace ID not set correctly")
	}
	if GetRunID(ctx) != "run-456" {
		t.Error("Run ID not set correctly")
	}
	if GetEntryPoint(ctx) != "intake" {
		t.Error("Entry point not set correctly")
	}
	if GetSessionID(ctx) != "sess-abc" {
		t.Error("Session ID not set correctly")
	}
}

func TestNewContextPartial(t *testing.T) {
	tc := &TraceContext{TraceID: "trace-123"}

	ctx := NewContext(context.Background(), tc)

	if GetTraceID(ctx) != "trace-123" {
		t.Error("Trace ID not set correctly")
	}
	if GetRunID(ctx) != "" {
		t.Error("Run ID should be empty")
	}
	if GetEntryPoint(ctx) != "" {
		t.Error("Entry point should be empty")
	}
	if GetSessionID(ctx) != "" {
		t.Error("Session ID should be empty")
	}
}

func TestNewTriggerContext(t *testing.T) {
	ctx := NewTriggerContext(context.Background())

	traceID := GetTraceID(ctx)
	if traceID == "" {
		t.Error("Trace ID not generated")
	}
	if len(traceID) != 36 {
		t.Errorf("Expected UUID format (36 chars), got %d chars", len(traceID))
	}
}

func TestNewRunContext(t *testing.T) {
	ctx := NewRunContext(context.Background(), "on_new_lead")

	runID := GetRunID(ctx)
	if runID == "" {
		t.Error("Run ID not generated")
	}
	if len(runID) != 36 {
		t.Errorf("Expected UUID format (36 chars), got %d chars", len(runID))
	}
	if GetEntryPoint(ctx) != "on_new_lead" {
		t.Errorf("Expected entry point on_new_lead, got %s", GetEntryPoint(ctx))
	}
}

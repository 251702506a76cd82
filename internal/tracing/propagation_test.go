package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func TestPropagateToGuest(t *testing.T) {
	ownerCtx := context.Background()
	ownerCtx = WithTraceID(ownerCtx, "trace-123")
	ownerCtx = WithRunID(ownerCtx, "run-owner")
	ownerCtx = WithEntryPoint(ownerCtx, "intake")
	ownerCtx = WithSessionID(ownerCtx, "sess-abc")

	guestCtx := PropagateToGuest(ownerCtx, "on_new_lead")

	if GetTraceID(guestCtx) != "trace-123" {
		t.Error("Trace ID not propagated")
	}
	if GetRunID(guestCtx) == "run-owner" {
		t.Error("Guest should get its own run ID")
	}
	if GetRunID(guestCtx) == "" {
		t.Error("Run ID not generated for guest")
	}
	if GetEntryPoint(guestCtx) != "on_new_lead" {
		t.Error("Entry point not updated for guest")
	}
	if GetSessionID(guestCtx) != "sess-abc" {
		t.Error("Session ID not propagated")
	}
}

func TestPropagateToGuestNoTraceID(t *testing.T) {
	guestCtx := PropagateToGuest(context.Background(), "on_new_lead")

	if GetTraceID(guestCtx) == "" {
		t.Error("Trace ID not generated when missing")
	}
	if GetRunID(guestCtx) == "" {
		t.Error("Run ID not generated")
	}
	if GetEntryPoint(guestCtx) != "on_new_lead" {
		t.Error("Entry point not set")
	}
}

func TestPropagateToGuestRunIDsDiffer(t *testing.T) {
	ownerCtx := WithTraceID(context.Background(), "trace-root")

	guest1 := PropagateToGuest(ownerCtx, "on_new_lead")
	guest2 := PropagateToGuest(ownerCtx, "on_new_lead")

	if GetRunID(guest1) == GetRunID(guest2) {
		t.Error("Each guest should get its own run ID")
	}
	if GetTraceID(guest1) != "trace-root" || GetTraceID(guest2) != "trace-root" {
		t.Error("Trace ID should be shared across guests")
	}
}

func TestPropagateToLogger(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-123")
	ctx = WithRunID(ctx, "run-456")
	ctx = WithEntryPoint(ctx, "intake")
	ctx = WithSessionID(ctx, "sess-abc")

	var buf bytes.Buffer
	logger := PropagateToLogger(ctx, zerolog.New(&buf))
	logger.Info().Msg("test message")

	output := buf.String()
	if !contains(output, "trace-123") {
		t.Error("Trace ID not in log output")
	}
	if !contains(output, "run-456") {
		t.Error("Run ID not in log output")
	}
	if !contains(output, "intake") {
		t.Error("Entry point not in log output")
	}
	if !contains(output, "sess-abc") {
		t.Error("Session ID not in log output")
	}
}

func TestLoggerFromContext(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace-xyz")

	var buf bytes.Buffer
	logger := LoggerFromContext(ctx, zerolog.New(&buf))
	logger.Info().Msg("test")

	if !contains(buf.String(), "trace-xyz") {
		t.Error("Trace ID not in log output")
	}
}

func TestMergeContext(t *testing.T) {
	sourceCtx := context.Background()
	sourceCtx = WithTraceID(sourceCtx, "trace-source")
	sourceCtx = WithRunID(sourceCtx, "run-source")

	mergedCtx := MergeContext(context.Background(), sourceCtx)

	if GetTraceID(mergedCtx) != "trace-source" {
		t.Error("Trace ID not merged")
	}
	if GetRunID(mergedCtx) != "run-source" {
		t.Error("Run ID not merged")
	}
}

func TestMergeContextNoOverwrite(t *testing.T) {
	sourceCtx := WithTraceID(context.Background(), "trace-source")
	targetCtx := WithTraceID(context.Background(), "trace-target")

	mergedCtx := MergeContext(targetCtx, sourceCtx)

	if GetTraceID(mergedCtx) != "trace-target" {
		t.Error("Trace ID should not be overwritten")
	}
}

func TestCloneContext(t *testing.T) {
	originalCtx := context.Background()
	originalCtx = WithTraceID(originalCtx, "trace-123")
	originalCtx = WithRunID(originalCtx, "run-456")
	originalCtx = WithEntryPoint(originalCtx, "intake")

	clonedCtx := CloneContext(originalCtx)

	if GetTraceID(clonedCtx) != "trace-123" {
		t.Error("Trace ID not cloned")
	}
	if GetRunID(clonedCtx) != "run-456" {
		t.Error("Run ID not cloned")
	}
	if GetEntryPoint(clonedCtx) != "intake" {
		t.Error("Entry point not cloned")
	}
}

func contains(s, substr string) bool {
	return bytes.Contains([]byte(s), []byte(substr))
}

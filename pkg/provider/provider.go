// Package provider defines the streaming boundary to language-model
// backends and the retry wrapper that masks transient failures from the
// execution engine.
package provider

import "context"

// EventType discriminates StreamEvent variants.
type EventType string

const (
	// EventContentDelta carries a chunk of response text.
	EventContentDelta EventType = "content_delta"
	// EventToolCall carries a completed tool invocation request.
	EventToolCall EventType = "tool_call"
	// EventError is an unclassified failure emitted by raw clients. It
	// never escapes the retry wrapper, which converts it to either
	// EventRecoverableError or EventFatalError.
	EventError EventType = "error"
	// EventRecoverableError signals that every retry attempt failed with
	// a transient error. Emitted only after the retry budget is spent.
	EventRecoverableError EventType = "recoverable_error"
	// EventFatalError signals a non-transient failure.
	EventFatalError EventType = "fatal_error"
	// EventDone terminates a successful stream.
	EventDone EventType = "done"
)

// StreamEvent is one element of a provider response stream.
type StreamEvent struct {
	Type     EventType
	Delta    string
	ToolCall *ToolCall
	Err      error
}

// Message is a conversation turn in provider-neutral form.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ToolDefinition describes a tool offered to the model.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Request is a provider-neutral streaming request.
type Request struct {
	Model        string
	Messages     []Message
	SystemPrompt string
	Tools        []ToolDefinition
	Temperature  float64
	MaxTokens    int
}

// Client is a raw streaming language-model backend. Implementations emit
// content deltas and tool calls, then either EventDone or a single
// EventError, and close the channel. The engine never consumes a raw Client
// directly; it goes through the retry wrapper.
type Client interface {
	// Stream issues one streaming call. The returned channel is closed
	// after the terminal event.
	Stream(ctx context.Context, req Request) <-chan StreamEvent

	// Name returns the provider name for logging and metrics.
	Name() string
}

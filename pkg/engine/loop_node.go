package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/hivehq/hive/internal/observability"
	"github.com/hivehq/hive/pkg/convo"
	"github.com/hivehq/hive/pkg/graph"
	"github.com/hivehq/hive/pkg/provider"
)

// Built-in tools every node exposes to the model. set_memory writes a
// session memory variable; emit_output records a structured output the
// judge checks against the node's declared requirements.
const (
	toolSetMemory  = "set_memory"
	toolEmitOutput = "emit_output"
)

// DefaultMaxIterations bounds a node's judge loop when the node does not
// declare its own ceiling.
const DefaultMaxIterations = 50

// ModelConfig selects the model for an execution.
type ModelConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// NodeRun describes one node execution against a session.
type NodeRun struct {
	SessionID string
	Node      graph.Node
	Metadata  graph.Metadata
	// Memory is the execution's live variable map. Tool calls mutate it;
	// the owner's progress writes persist it.
	Memory map[string]any
	// Fresh marks a fresh shared-session trigger: the stored cursor is
	// reset and a transition marker appended before the first call.
	Fresh bool
	// EntryPointID is recorded in the transition marker.
	EntryPointID string
	// OnProgress fires after every iteration transition. For owner
	// executions this is the state-record progress write; guests pass
	// their in-memory session update instead.
	OnProgress func()
}

// LoopNode runs one workflow node as a bounded loop of stream, judge, and
// maybe-retry steps.
type LoopNode struct {
	client        provider.Client
	log           *convo.Log
	judge         Judge
	model         ModelConfig
	maxIterations int
	logger        zerolog.Logger
}

// NewLoopNode creates a node runner. maxIterations <= 0 selects
// DefaultMaxIterations.
func NewLoopNode(client provider.Client, log *convo.Log, judge Judge, model ModelConfig, maxIterations int, logger zerolog.Logger) *LoopNode {
	observability.EnsureRegistered()
	if judge == nil {
		judge = OutputsJudge{}
	}
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &LoopNode{
		client:        client,
		log:           log,
		judge:         judge,
		model:         model,
		maxIterations: maxIterations,
		logger:        logger,
	}
}

// Run executes the node to acceptance, iteration exhaustion, or failure.
//
// Init either restores the stored cursor (crash recovery) or, for a fresh
// shared-session trigger, resets it and appends a transition marker to the
// conversation. Conversation history always replays in full; only the
// progress cursor is conditional.
func (n *LoopNode) Run(ctx context.Context, run NodeRun) (convo.Accumulator, error) {
	logger := n.logger.With().
		Str("session_id", run.SessionID).
		Str("node", run.Node.ID).
		Logger()

	cursor, err := n.initCursor(ctx, run, logger)
	if err != nil {
		return convo.Accumulator{}, err
	}

	ceiling := run.Node.MaxIterations
	if ceiling <= 0 {
		ceiling = n.maxIterations
	}

	for {
		// Cooperative cancellation between iterations.
		if err := ctx.Err(); err != nil {
			return cursor.Accumulator, err
		}
		if cursor.Iterations >= ceiling {
			logger.Error().Int("iterations", cursor.Iterations).Msg("Iteration budget exhausted")
			return cursor.Accumulator, fmt.Errorf("%w: node %q after %d iterations", ErrIterationLimit, run.Node.ID, cursor.Iterations)
		}

		before := cursor.Accumulator
		recoverable, err := n.streamOnce(ctx, run, &cursor.Accumulator)
		if err != nil {
			return cursor.Accumulator, err
		}

		// Judging. An exhausted-retry stream with nothing accumulated is
		// a connectivity failure, not "the model had nothing to add":
		// escalate to the outer backoff path without spending an
		// iteration of the judge budget.
		if recoverable != nil && cursor.Accumulator.Empty() {
			logger.Warn().Err(recoverable).Msg("Provider retries exhausted with empty response")
			return cursor.Accumulator, fmt.Errorf("%w: %v", ErrConnectivity, recoverable)
		}

		if err := n.recordTurn(ctx, run, turnDelta(before, cursor.Accumulator)); err != nil {
			return cursor.Accumulator, err
		}

		cursor.Iterations++
		if err := n.log.SaveCursor(run.SessionID, cursor); err != nil {
			return cursor.Accumulator, fmt.Errorf("failed to save cursor: %w", err)
		}
		if run.OnProgress != nil {
			run.OnProgress()
		}
		observability.RecordNodeIteration(run.Node.ID)

		verdict, reason := n.judge.Evaluate(run.Node, cursor.Accumulator)
		if verdict == VerdictAccept {
			logger.Debug().Int("iterations", cursor.Iterations).Msg("Node accepted")
			// The cursor is per-node progress: clear it so the next node
			// (or next run) starts clean.
			if err := n.log.ResetCursor(run.SessionID); err != nil {
				return cursor.Accumulator, fmt.Errorf("failed to reset cursor: %w", err)
			}
			return cursor.Accumulator, nil
		}

		logger.Debug().
			Int("iteration", cursor.Iterations).
			Str("reason", reason).
			Msg("Judge requested retry")
	}
}

// initCursor implements the Init state: crash-recovery restore unless this
// is a fresh shared-session trigger, in which case the cursor is reset and
// a transition marker appended strictly before the first provider call.
func (n *LoopNode) initCursor(ctx context.Context, run NodeRun, logger zerolog.Logger) (convo.Cursor, error) {
	if run.Fresh {
		if err := n.log.ResetCursor(run.SessionID); err != nil {
			return convo.Cursor{}, fmt.Errorf("failed to reset cursor: %w", err)
		}
		if err := n.log.AppendTransitionMarker(ctx, run.SessionID, run.EntryPointID); err != nil {
			return convo.Cursor{}, fmt.Errorf("failed to append transition marker: %w", err)
		}
		logger.Info().Str("entry_point", run.EntryPointID).Msg("Fresh shared-session trigger, cursor reset")
		return convo.Cursor{}, nil
	}

	cursor, err := n.log.LoadCursor(run.SessionID)
	if err != nil {
		return convo.Cursor{}, fmt.Errorf("failed to load cursor: %w", err)
	}
	if !cursor.Zero() {
		logger.Info().Int("iterations", cursor.Iterations).Msg("Restored cursor from prior run")
	}
	return cursor, nil
}

// streamOnce drives one provider call, folding events into the
// accumulator. It returns the recoverable error, if the stream ended with
// one, and a hard error for fatal failures.
func (n *LoopNode) streamOnce(ctx context.Context, run NodeRun, acc *convo.Accumulator) (recoverable error, err error) {
	req, err := n.buildRequest(run, *acc)
	if err != nil {
		return nil, err
	}

	for event := range n.client.Stream(ctx, req) {
		switch event.Type {
		case provider.EventContentDelta:
			acc.Content += event.Delta
		case provider.EventToolCall:
			n.applyToolCall(run, acc, event.ToolCall)
		case provider.EventRecoverableError:
			recoverable = event.Err
		case provider.EventFatalError:
			return nil, fmt.Errorf("%w: %v", ErrFatalProvider, event.Err)
		case provider.EventDone:
		}
	}
	return recoverable, nil
}

// applyToolCall folds a tool call into the execution state. The built-ins
// mutate memory and outputs; anything else is recorded for the transcript.
func (n *LoopNode) applyToolCall(run NodeRun, acc *convo.Accumulator, call *provider.ToolCall) {
	switch call.Name {
	case toolSetMemory:
		key, _ := call.Arguments["key"].(string)
		if key != "" && run.Memory != nil {
			run.Memory[key] = call.Arguments["value"]
		}
	case toolEmitOutput:
		key, _ := call.Arguments["key"].(string)
		if key != "" {
			if acc.Outputs == nil {
				acc.Outputs = make(map[string]any)
			}
			acc.Outputs[key] = call.Arguments["value"]
		}
	}

	acc.ToolCalls = append(acc.ToolCalls, convo.ToolCallRecord{
		ID:        call.ID,
		Name:      call.Name,
		Arguments: call.Arguments,
	})
}

// turnDelta isolates what one iteration added on top of the restored
// accumulator, so the transcript records each turn once.
func turnDelta(before, after convo.Accumulator) convo.Accumulator {
	delta := convo.Accumulator{}
	if len(after.Content) > len(before.Content) {
		delta.Content = after.Content[len(before.Content):]
	}
	if len(after.ToolCalls) > len(before.ToolCalls) {
		delta.ToolCalls = after.ToolCalls[len(before.ToolCalls):]
	}
	return delta
}

// recordTurn appends the assistant's turn to the conversation.
func (n *LoopNode) recordTurn(ctx context.Context, run NodeRun, acc convo.Accumulator) error {
	if acc.Empty() {
		return nil
	}
	message := convo.Message{
		Role:      "assistant",
		Content:   acc.Content,
		ToolCalls: acc.ToolCalls,
	}
	if err := n.log.AppendWithContext(ctx, run.SessionID, message); err != nil {
		return fmt.Errorf("failed to record turn: %w", err)
	}
	return nil
}

func (n *LoopNode) buildRequest(run NodeRun, acc convo.Accumulator) (provider.Request, error) {
	entries, err := n.log.Load(run.SessionID)
	if err != nil {
		return provider.Request{}, fmt.Errorf("failed to load conversation: %w", err)
	}

	messages := make([]provider.Message, 0, len(entries))
	for _, entry := range entries {
		msg := provider.Message{
			Role:    entry.Message.Role,
			Content: entry.Message.Content,
		}
		for _, tc := range entry.Message.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, provider.ToolCall{
				ID:        tc.ID,
				Name:      tc.Name,
				Arguments: tc.Arguments,
			})
		}
		messages = append(messages, msg)
	}

	return provider.Request{
		Model:        n.model.Model,
		Messages:     messages,
		SystemPrompt: n.systemPrompt(run),
		Tools:        builtinTools(),
		Temperature:  n.model.Temperature,
		MaxTokens:    n.model.MaxTokens,
	}, nil
}

func (n *LoopNode) systemPrompt(run NodeRun) string {
	prompt := run.Metadata.IdentityPrompt
	if prompt != "" && run.Node.Prompt != "" {
		prompt += "\n\n"
	}
	prompt += run.Node.Prompt

	if len(run.Node.RequiredOutputs) > 0 {
		prompt += fmt.Sprintf("\n\nRecord each of these outputs with the %s tool before finishing: %v", toolEmitOutput, run.Node.RequiredOutputs)
	}
	if len(run.Memory) > 0 {
		if snapshot, err := json.Marshal(run.Memory); err == nil {
			prompt += fmt.Sprintf("\n\nSession memory:\n%s", snapshot)
		}
	}
	return prompt
}

func builtinTools() []provider.ToolDefinition {
	keyValueSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"key":   map[string]any{"type": "string"},
			"value": map[string]any{},
		},
		"required": []any{"key", "value"},
	}
	return []provider.ToolDefinition{
		{
			Name:        toolSetMemory,
			Description: "Store a session memory variable visible to later runs.",
			InputSchema: keyValueSchema,
		},
		{
			Name:        toolEmitOutput,
			Description: "Record a structured output required by the current step.",
			InputSchema: keyValueSchema,
		},
	}
}

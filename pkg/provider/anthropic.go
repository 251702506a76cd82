package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient implements Client for Anthropic Claude.
type AnthropicClient struct {
	client anthropic.Client
}

// NewAnthropicClient creates an Anthropic streaming client.
func NewAnthropicClient(apiKey string) *AnthropicClient {
	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
	}
}

// Name implements Client.
func (c *AnthropicClient) Name() string {
	return "anthropic"
}

// Stream implements Client.
func (c *AnthropicClient) Stream(ctx context.Context, req Request) <-chan StreamEvent {
	out := make(chan StreamEvent)

	go func() {
		defer close(out)

		params, err := buildAnthropicParams(req)
		if err != nil {
			out <- StreamEvent{Type: EventError, Err: NewError(c.Name(), KindInvalidRequest, err)}
			return
		}

		stream := c.client.Messages.NewStreaming(ctx, params)
		message := anthropic.Message{}

		for stream.Next() {
			event := stream.Current()
			if err := message.Accumulate(event); err != nil {
				out <- StreamEvent{Type: EventError, Err: c.classify(err)}
				return
			}

			switch eventVariant := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				switch delta := eventVariant.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if delta.Text != "" {
						out <- StreamEvent{Type: EventContentDelta, Delta: delta.Text}
					}
				}
			}
		}

		if err := stream.Err(); err != nil {
			out <- StreamEvent{Type: EventError, Err: c.classify(err)}
			return
		}

		// Tool calls arrive as complete blocks on the accumulated message.
		for _, block := range message.Content {
			switch b := block.AsAny().(type) {
			case anthropic.ToolUseBlock:
				var args map[string]any
				if err := json.Unmarshal([]byte(b.JSON.Input.Raw()), &args); err != nil {
					out <- StreamEvent{Type: EventError, Err: NewError(c.Name(), KindUnknown, fmt.Errorf("failed to parse tool input: %w", err))}
					return
				}
				out <- StreamEvent{Type: EventToolCall, ToolCall: &ToolCall{
					ID:        b.ID,
					Name:      b.Name,
					Arguments: args,
				}}
			}
		}

		out <- StreamEvent{Type: EventDone}
	}()

	return out
}

func (c *AnthropicClient) classify(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return NewError(c.Name(), ClassifyStatus(apierr.StatusCode), err)
	}
	return NewError(c.Name(), Classify(err), err)
}

func buildAnthropicParams(req Request) (anthropic.MessageNewParams, error) {
	messages := []anthropic.MessageParam{}

	for _, msg := range req.Messages {
		if msg.Role == "system" {
			continue // system prompt handled separately
		}

		if msg.Role == "tool" {
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
			))
			continue
		}

		if msg.Role == "assistant" && len(msg.ToolCalls) > 0 {
			blocks := []anthropic.ContentBlockParamUnion{}
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, tc.Arguments, tc.Name))
			}
			messages = append(messages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: blocks,
			})
			continue
		}

		switch msg.Role {
		case "user":
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		case "assistant":
			messages = append(messages, anthropic.MessageParam{
				Role: anthropic.MessageParamRoleAssistant,
				Content: []anthropic.ContentBlockParamUnion{
					anthropic.NewTextBlock(msg.Content),
				},
			})
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}

	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	if len(req.Tools) > 0 {
		tools := []anthropic.ToolUnionParam{}
		for _, tool := range req.Tools {
			toolParam := anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: tool.InputSchema["properties"],
				},
			}
			if required, ok := tool.InputSchema["required"].([]any); ok {
				strs := make([]string, 0, len(required))
				for _, v := range required {
					if s, ok := v.(string); ok {
						strs = append(strs, s)
					}
				}
				toolParam.InputSchema.Required = strs
			}
			tools = append(tools, anthropic.ToolUnionParam{OfTool: &toolParam})
		}
		params.Tools = tools
	}

	return params, nil
}

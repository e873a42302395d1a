package providers

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// anthropicAdapter drives Anthropic's Messages API.
type anthropicAdapter struct {
	client *anthropic.Client
	config Config
}

func newAnthropicAdapter(config Config) (*anthropicAdapter, error) {
	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	client := anthropic.NewClient(opts...)
	return &anthropicAdapter{client: &client, config: config}, nil
}

func (a *anthropicAdapter) name() string { return string(ProviderTypeAnthropic) }

func (a *anthropicAdapter) generate(ctx context.Context, req *turnRequest) (*turn, error) {
	params := a.buildParams(req)

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic generate: %w", err)
	}

	result := &turn{}
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			result.text += b.Text
		case anthropic.ToolUseBlock:
			args, _ := b.Input.MarshalJSON()
			result.toolCalls = append(result.toolCalls, ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: string(args),
			})
		}
	}
	return result, nil
}

func (a *anthropicAdapter) stream(ctx context.Context, req *turnRequest, emit func(string) error) (*turn, error) {
	params := a.buildParams(req)

	stream := a.client.Messages.NewStreaming(ctx, params)

	result := &turn{}
	toolCallForIndex := make(map[int64]*ToolCall)
	var toolOrder []int64

	for stream.Next() {
		event := stream.Current()

		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if ev.ContentBlock.Type == "tool_use" {
				tb := ev.ContentBlock.AsAny().(anthropic.ToolUseBlock)
				toolCallForIndex[ev.Index] = &ToolCall{ID: tb.ID, Name: tb.Name}
				toolOrder = append(toolOrder, ev.Index)
			}
		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text == "" {
					continue
				}
				result.text += delta.Text
				if err := emit(delta.Text); err != nil {
					return nil, err
				}
			case anthropic.InputJSONDelta:
				if call := toolCallForIndex[ev.Index]; call != nil {
					call.Arguments += delta.PartialJSON
				}
			}
		}
	}

	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic stream: %w", err)
	}

	for _, idx := range toolOrder {
		result.toolCalls = append(result.toolCalls, *toolCallForIndex[idx])
	}
	return result, nil
}

func (a *anthropicAdapter) buildParams(req *turnRequest) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.config.Model),
		MaxTokens: int64(a.config.MaxTokens),
		System: []anthropic.TextBlockParam{
			{Text: req.system},
		},
		Messages: convertAnthropicMessages(req.messages),
		Tools:    convertAnthropicTools(req.tools),
	}

	if a.config.Temperature > 0 {
		params.Temperature = anthropic.Float(a.config.Temperature)
	}
	if req.memoryKey != "" {
		params.Metadata = anthropic.MetadataParam{
			UserID: anthropic.String(req.memoryKey),
		}
	}

	return params
}

func convertAnthropicMessages(messages []Message) []anthropic.MessageParam {
	result := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case RoleUser, RoleSystem:
			// System content is carried in params.System; a stray system
			// message in history is delivered as user context.
			result = append(result, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))

		case RoleAssistant:
			if len(msg.ToolCalls) > 0 {
				blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.ToolCalls)+1)
				if msg.Content != "" {
					blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
				}
				for _, tc := range msg.ToolCalls {
					blocks = append(blocks, anthropic.ContentBlockParamUnion{
						OfToolUse: &anthropic.ToolUseBlockParam{
							ID:    tc.ID,
							Name:  tc.Name,
							Input: tc.Arguments,
						},
					})
				}
				result = append(result, anthropic.NewAssistantMessage(blocks...))
			} else {
				result = append(result, anthropic.NewAssistantMessage(
					anthropic.NewTextBlock(msg.Content),
				))
			}

		case RoleTool:
			result = append(result, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
			))
		}
	}

	return result
}

func convertAnthropicTools(tools []Tool) []anthropic.ToolUnionParam {
	result := make([]anthropic.ToolUnionParam, len(tools))
	for i, tool := range tools {
		result[i] = anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: buildAnthropicSchema(tool.Parameters),
			},
		}
	}
	return result
}

func buildAnthropicSchema(params map[string]any) anthropic.ToolInputSchemaParam {
	return anthropic.ToolInputSchemaParam{
		Type:       "object",
		Properties: params["properties"],
		Required:   extractRequiredFields(params),
	}
}

func extractRequiredFields(params map[string]any) []string {
	req, ok := params["required"].([]any)
	if !ok {
		return nil
	}
	result := make([]string, 0, len(req))
	for _, r := range req {
		if s, ok := r.(string); ok {
			result = append(result, s)
		}
	}
	return result
}

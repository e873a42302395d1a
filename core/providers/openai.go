package providers

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
)

// openaiAdapter drives OpenAI's Responses API.
type openaiAdapter struct {
	client *openai.Client
	config Config
}

func newOpenAIAdapter(config Config) (*openaiAdapter, error) {
	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	client := openai.NewClient(opts...)
	return &openaiAdapter{client: &client, config: config}, nil
}

func (a *openaiAdapter) name() string { return string(ProviderTypeOpenAI) }

func (a *openaiAdapter) generate(ctx context.Context, req *turnRequest) (*turn, error) {
	params := a.buildResponseParams(req)

	result, err := a.client.Responses.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai generate: %w", err)
	}

	return &turn{
		text:      result.OutputText(),
		toolCalls: extractToolCalls(result),
	}, nil
}

func (a *openaiAdapter) stream(ctx context.Context, req *turnRequest, emit func(string) error) (*turn, error) {
	params := a.buildResponseParams(req)

	stream := a.client.Responses.NewStreaming(ctx, params)

	result := &turn{}
	toolCallBuilders := make(map[string]*ToolCall)
	var toolOrder []string

	for stream.Next() {
		event := stream.Current()

		switch ev := event.AsAny().(type) {
		case responses.ResponseTextDeltaEvent:
			if ev.Delta == "" {
				continue
			}
			result.text += ev.Delta
			if err := emit(ev.Delta); err != nil {
				return nil, err
			}
		case responses.ResponseOutputItemAddedEvent:
			if ev.Item.Type != "function_call" {
				continue
			}
			if _, exists := toolCallBuilders[ev.Item.ID]; !exists {
				toolCallBuilders[ev.Item.ID] = &ToolCall{ID: ev.Item.ID, Name: ev.Item.Name}
				toolOrder = append(toolOrder, ev.Item.ID)
			}
		case responses.ResponseFunctionCallArgumentsDeltaEvent:
			call, exists := toolCallBuilders[ev.ItemID]
			if !exists {
				call = &ToolCall{ID: ev.ItemID}
				toolCallBuilders[ev.ItemID] = call
				toolOrder = append(toolOrder, ev.ItemID)
			}
			call.Arguments += ev.Delta
		case responses.ResponseErrorEvent:
			return nil, fmt.Errorf("openai stream: %s", ev.Message)
		}
	}

	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai stream: %w", err)
	}

	for _, id := range toolOrder {
		result.toolCalls = append(result.toolCalls, *toolCallBuilders[id])
	}
	return result, nil
}

func (a *openaiAdapter) buildResponseParams(req *turnRequest) responses.ResponseNewParams {
	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(a.config.Model),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: convertResponseMessages(req.messages, req.system),
		},
		MaxOutputTokens: openai.Int(int64(a.config.MaxTokens)),
	}

	if a.config.Temperature > 0 {
		params.Temperature = openai.Float(a.config.Temperature)
	}
	if req.memoryKey != "" {
		params.User = openai.String(req.memoryKey)
	}
	if len(req.tools) > 0 {
		params.Tools = convertResponseTools(req.tools)
	}

	return params
}

func convertResponseMessages(messages []Message, system string) responses.ResponseInputParam {
	result := make(responses.ResponseInputParam, 0, len(messages)+1)

	if system != "" {
		result = append(result, responses.ResponseInputItemParamOfMessage(system, responses.EasyInputMessageRoleSystem))
	}

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			result = append(result, responses.ResponseInputItemParamOfMessage(msg.Content, responses.EasyInputMessageRoleSystem))
		case RoleUser:
			result = append(result, responses.ResponseInputItemParamOfMessage(msg.Content, responses.EasyInputMessageRoleUser))
		case RoleAssistant:
			if msg.Content != "" {
				result = append(result, responses.ResponseInputItemParamOfMessage(msg.Content, responses.EasyInputMessageRoleAssistant))
			}
			for _, tc := range msg.ToolCalls {
				result = append(result, responses.ResponseInputItemParamOfFunctionCall(tc.Arguments, tc.ID, tc.Name))
			}
		case RoleTool:
			result = append(result, responses.ResponseInputItemParamOfFunctionCallOutput(msg.ToolCallID, msg.Content))
		}
	}

	return result
}

func convertResponseTools(tools []Tool) []responses.ToolUnionParam {
	result := make([]responses.ToolUnionParam, len(tools))
	for i, tool := range tools {
		result[i] = responses.ToolParamOfFunction(tool.Name, ensureObjectType(tool.Parameters), true)
		if tool.Description != "" {
			desc := openai.String(tool.Description)
			function := result[i].OfFunction
			function.Description = desc
			result[i].OfFunction = function
		}
	}
	return result
}

func extractToolCalls(result *responses.Response) []ToolCall {
	var toolCalls []ToolCall
	for _, item := range result.Output {
		switch item.Type {
		case "function_call":
			toolCalls = append(toolCalls, ToolCall{
				ID:        item.ID,
				Name:      item.Name,
				Arguments: item.Arguments,
			})
		}
	}
	return toolCalls
}

func ensureObjectType(params map[string]any) map[string]any {
	if params == nil {
		return map[string]any{"type": "object"}
	}
	if _, hasType := params["type"]; !hasType {
		params["type"] = "object"
	}
	return params
}

// Package providers builds the conversational runtime bound to each agent:
// an LLM-backed chat loop augmented with wallet tools that execute against
// the agent's chain signer. The router consumes the ConvRuntime and Builder
// interfaces only; the OpenAI and Anthropic SDKs stay behind the adapter
// seam so tests run without network access.
package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/movegrid/movegrid/core/chain"
	"github.com/movegrid/movegrid/core/conversation"
)

// ConvRuntime is a live conversational context for one agent.
type ConvRuntime interface {
	// Reply produces a single assistant reply for the given history. The
	// last history entry is the inbound user message.
	Reply(ctx context.Context, history []conversation.Message) (string, error)

	// ReplyStream produces the reply incrementally, invoking emit for each
	// text fragment as it arrives, and returns the full concatenated reply
	// once the stream completes.
	ReplyStream(ctx context.Context, history []conversation.Message, emit func(fragment string) error) (string, error)
}

// Builder constructs conversational runtimes scoped to a chain signer.
type Builder interface {
	Build(ctx context.Context, signer chain.Signer, memoryKey string) (ConvRuntime, error)
}

// ProviderType selects the upstream LLM vendor.
type ProviderType string

const (
	ProviderTypeOpenAI    ProviderType = "openai"
	ProviderTypeAnthropic ProviderType = "anthropic"
)

// Config configures the conversational runtime builder.
type Config struct {
	// Type selects the vendor adapter.
	Type ProviderType `json:"type" yaml:"type"`

	// APIKey authenticates against the vendor API.
	APIKey string `json:"api_key" yaml:"api_key"`

	// BaseURL overrides the default API endpoint (proxies, gateways).
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// Model is the model identifier sent upstream.
	Model string `json:"model" yaml:"model"`

	// MaxTokens caps generation length per turn.
	MaxTokens int `json:"max_tokens" yaml:"max_tokens"`

	// Temperature is the sampling temperature.
	Temperature float64 `json:"temperature" yaml:"temperature"`

	// Timeout bounds each upstream call.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// SystemPrompt is prepended to every exchange.
	SystemPrompt string `json:"system_prompt" yaml:"system_prompt"`

	// MaxToolRounds bounds how many tool-execution rounds a single reply
	// may take before the loop is cut off.
	MaxToolRounds int `json:"max_tool_rounds" yaml:"max_tool_rounds"`
}

// DefaultConfig returns builder defaults; the API key must still be supplied.
func DefaultConfig() Config {
	return Config{
		Type:          ProviderTypeOpenAI,
		Model:         "gpt-4o-mini",
		MaxTokens:     4096,
		Temperature:   0.7,
		Timeout:       2 * time.Minute,
		SystemPrompt:  defaultSystemPrompt,
		MaxToolRounds: 4,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("api_key is required")
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	switch c.Type {
	case ProviderTypeOpenAI, ProviderTypeAnthropic:
	default:
		return fmt.Errorf("unknown provider type %q", c.Type)
	}
	return nil
}

const defaultSystemPrompt = "You are a wallet assistant for the Aptos network. " +
	"You can check balances, send transfers, and verify signatures for the " +
	"wallet you are bound to. Use the provided tools for any on-chain " +
	"operation; never invent balances or transaction hashes."

// Role identifies the author of a prompt message. RoleTool exists only
// inside the tool loop; conversation history never contains it.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is one prompt message handed to a vendor adapter.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// Tool describes a callable function exposed to the model.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolCall is a model-requested invocation of a tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// turn is the outcome of one upstream round: the text produced and any tool
// calls the model requested before stopping.
type turn struct {
	text      string
	toolCalls []ToolCall
}

// adapter is the vendor seam. stream emits text fragments as they arrive and
// still returns the completed turn.
type adapter interface {
	name() string
	generate(ctx context.Context, req *turnRequest) (*turn, error)
	stream(ctx context.Context, req *turnRequest, emit func(fragment string) error) (*turn, error)
}

type turnRequest struct {
	system    string
	messages  []Message
	tools     []Tool
	memoryKey string
}

func historyToMessages(history []conversation.Message) []Message {
	out := make([]Message, 0, len(history))
	for _, msg := range history {
		out = append(out, Message{Role: Role(msg.Role), Content: msg.Content})
	}
	return out
}

package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/movegrid/movegrid/core/chain"
	"github.com/movegrid/movegrid/core/conversation"
	apperr "github.com/movegrid/movegrid/core/errors"
)

// RuntimeBuilder constructs ConvRuntimes from a validated Config. One
// builder serves all agents; each Build call produces a runtime scoped to a
// single signer and memory key.
type RuntimeBuilder struct {
	config Config
}

// NewRuntimeBuilder validates the config and returns a builder.
func NewRuntimeBuilder(config Config) (*RuntimeBuilder, error) {
	if config.Model == "" {
		config.Model = DefaultConfig().Model
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = DefaultConfig().MaxTokens
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.MaxToolRounds == 0 {
		config.MaxToolRounds = DefaultConfig().MaxToolRounds
	}
	if config.SystemPrompt == "" {
		config.SystemPrompt = defaultSystemPrompt
	}

	if err := config.Validate(); err != nil {
		return nil, apperr.Wrapf(apperr.KindRuntimeInit, "providers.NewRuntimeBuilder", err,
			"conversational runtime configuration is invalid")
	}

	return &RuntimeBuilder{config: config}, nil
}

// Build constructs the tool-augmented conversational runtime for one signer.
func (b *RuntimeBuilder) Build(_ context.Context, signer chain.Signer, memoryKey string) (ConvRuntime, error) {
	const op = "providers.Build"

	var a adapter
	var err error
	switch b.config.Type {
	case ProviderTypeOpenAI:
		a, err = newOpenAIAdapter(b.config)
	case ProviderTypeAnthropic:
		a, err = newAnthropicAdapter(b.config)
	default:
		err = fmt.Errorf("unknown provider type %q", b.config.Type)
	}
	if err != nil {
		return nil, apperr.Wrapf(apperr.KindRuntimeInit, op, err, "failed to construct %s runtime", b.config.Type)
	}

	system := b.config.SystemPrompt +
		fmt.Sprintf("\nThe wallet address you control is %s.", signer.Address())

	return &convRuntime{
		adapter:       a,
		executor:      &toolExecutor{signer: signer},
		tools:         walletTools(),
		system:        system,
		memoryKey:     memoryKey,
		timeout:       b.config.Timeout,
		maxToolRounds: b.config.MaxToolRounds,
	}, nil
}

var _ Builder = (*RuntimeBuilder)(nil)

// convRuntime drives the generate/execute-tools loop for one agent.
type convRuntime struct {
	adapter       adapter
	executor      *toolExecutor
	tools         []Tool
	system        string
	memoryKey     string
	timeout       time.Duration
	maxToolRounds int
}

func (r *convRuntime) Reply(ctx context.Context, history []conversation.Message) (string, error) {
	return r.run(ctx, history, nil)
}

func (r *convRuntime) ReplyStream(ctx context.Context, history []conversation.Message, emit func(string) error) (string, error) {
	return r.run(ctx, history, emit)
}

// run performs up to maxToolRounds upstream turns, executing requested tools
// between turns. With a non-nil emit, every turn's text streams out as it
// arrives; the concatenation of all turns is the persisted reply.
func (r *convRuntime) run(ctx context.Context, history []conversation.Message, emit func(string) error) (string, error) {
	op := fmt.Sprintf("providers.%s.Reply", r.adapter.name())

	messages := historyToMessages(history)
	var reply strings.Builder

	for round := 0; ; round++ {
		req := &turnRequest{
			system:    r.system,
			messages:  messages,
			tools:     r.tools,
			memoryKey: r.memoryKey,
		}

		turnCtx, cancel := context.WithTimeout(ctx, r.timeout)
		var result *turn
		var err error
		if emit != nil {
			result, err = r.adapter.stream(turnCtx, req, emit)
		} else {
			result, err = r.adapter.generate(turnCtx, req)
		}
		cancel()
		if err != nil {
			return "", apperr.ClassifyUpstream(op, err)
		}

		if result.text != "" {
			if reply.Len() > 0 {
				reply.WriteString("\n")
				if emit != nil {
					if err := emit("\n"); err != nil {
						return "", err
					}
				}
			}
			reply.WriteString(result.text)
		}

		if len(result.toolCalls) == 0 {
			break
		}
		if round+1 >= r.maxToolRounds {
			// The model is still asking for tools past the budget; return
			// what we have rather than looping forever.
			break
		}

		messages = append(messages, Message{
			Role:      RoleAssistant,
			Content:   result.text,
			ToolCalls: result.toolCalls,
		})
		for _, call := range result.toolCalls {
			messages = append(messages, Message{
				Role:       RoleTool,
				Content:    r.executor.execute(ctx, call),
				ToolCallID: call.ID,
			})
		}
	}

	return reply.String(), nil
}

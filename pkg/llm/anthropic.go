package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	anthropic "github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"
)

// defaultAnthropicMaxTokens bounds completions when the request does not
// specify a budget; the Messages API requires an explicit value.
const defaultAnthropicMaxTokens = 4096

// AnthropicProvider talks to the Anthropic Messages API.
type AnthropicProvider struct {
	client *anthropic.Client
	model  string
	logger *zap.Logger
}

// AnthropicConfig holds configuration for creating an Anthropic provider.
type AnthropicConfig struct {
	Model  string
	APIKey string
}

// NewAnthropicProvider creates a provider for the Anthropic Messages API.
func NewAnthropicProvider(cfg *AnthropicConfig, logger *zap.Logger) (*AnthropicProvider, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	return &AnthropicProvider{
		client: anthropic.NewClient(cfg.APIKey),
		model:  cfg.Model,
		logger: logger.Named("llm-anthropic"),
	}, nil
}

// Name identifies the provider.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Model returns the default model name.
func (p *AnthropicProvider) Model() string { return p.model }

// Complete performs one messages call.
func (p *AnthropicProvider) Complete(ctx context.Context, req *Request) (*Completion, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	messages := make([]anthropic.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := anthropic.RoleUser
		if m.Role == RoleAssistant {
			role = anthropic.RoleAssistant
		}
		messages = append(messages, anthropic.Message{
			Role:    role,
			Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(m.Content)},
		})
	}

	areq := anthropic.MessagesRequest{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if req.SystemPrompt != "" {
		areq.System = req.SystemPrompt
	}
	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		areq.Temperature = &temp
	}
	for _, tool := range req.Tools {
		areq.Tools = append(areq.Tools, anthropic.ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.Parameters,
		})
	}

	p.logger.Debug("LLM request",
		zap.String("model", model),
		zap.Int("message_count", len(messages)),
		zap.Int("tool_count", len(req.Tools)))

	start := time.Now()

	resp, err := p.client.CreateMessages(ctx, areq)
	if err != nil {
		p.logger.Error("LLM request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, ClassifyError(err)
	}

	completion := &Completion{
		TokensIn:     resp.Usage.InputTokens,
		TokensOut:    resp.Usage.OutputTokens,
		Model:        string(resp.Model),
		FinishReason: finishReasonFromStop(resp.StopReason),
	}

	for _, block := range resp.Content {
		switch block.Type {
		case anthropic.MessagesContentTypeText:
			if block.Text != nil && completion.Content == "" {
				completion.Content = *block.Text
			}
		case anthropic.MessagesContentTypeToolUse:
			if block.MessageContentToolUse != nil && completion.FunctionCall == nil {
				args, _ := json.Marshal(block.MessageContentToolUse.Input)
				completion.FunctionCall = &FunctionCall{
					Name:      block.MessageContentToolUse.Name,
					Arguments: string(args),
				}
			}
		}
	}

	p.logger.Info("LLM request completed",
		zap.Int("input_tokens", resp.Usage.InputTokens),
		zap.Int("output_tokens", resp.Usage.OutputTokens),
		zap.Duration("elapsed", time.Since(start)))

	return completion, nil
}

// finishReasonFromStop maps Anthropic stop reasons onto the gateway's
// OpenAI-style finish reasons.
func finishReasonFromStop(reason anthropic.MessagesStopReason) string {
	switch reason {
	case anthropic.MessagesStopReasonEndTurn, anthropic.MessagesStopReasonStopSequence:
		return "stop"
	case anthropic.MessagesStopReasonMaxTokens:
		return "length"
	case anthropic.MessagesStopReasonToolUse:
		return "tool_calls"
	default:
		return string(reason)
	}
}

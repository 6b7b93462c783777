package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lucidata-ai/lucid-engine/pkg/retry"
)

// textToolCallPattern matches tool calls emitted as text by models without
// native function calling: <tool_call>{"name": ..., "arguments": {...}}</tool_call>
var textToolCallPattern = regexp.MustCompile(`<tool_call>\s*(\{[\s\S]*?\})\s*</tool_call>`)

// GatewayConfig bounds a single gateway call.
type GatewayConfig struct {
	// CallTimeout caps the wall time of one Complete call including retries.
	CallTimeout time.Duration
	// MaxAttempts is the total attempt count per call (default 3).
	MaxAttempts int
}

// DefaultGatewayConfig returns the defaults from the interface contract:
// 3 attempts within a 30 second wall-time cap.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		CallTimeout: 30 * time.Second,
		MaxAttempts: 3,
	}
}

// Gateway fronts a Provider with retries, a circuit breaker, and a wall-time
// cap. It never panics on semantic failure; every outcome is a structured
// *Error or a Completion.
type Gateway struct {
	provider Provider
	breaker  *CircuitBreaker
	cfg      GatewayConfig
	logger   *zap.Logger
}

// NewGateway wraps a provider.
func NewGateway(provider Provider, cfg GatewayConfig, logger *zap.Logger) *Gateway {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultGatewayConfig().CallTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultGatewayConfig().MaxAttempts
	}
	return &Gateway{
		provider: provider,
		breaker:  NewCircuitBreaker(DefaultCircuitBreakerConfig()),
		cfg:      cfg,
		logger:   logger.Named("llm-gateway"),
	}
}

// Name identifies the active provider.
func (g *Gateway) Name() string { return g.provider.Name() }

// Model returns the configured model name.
func (g *Gateway) Model() string { return g.provider.Model() }

// Complete generates a completion with retries and circuit breaking.
// Empty content with a stop finish is surfaced as ErrorTypeEmptyResponse so
// the caller decides the fallback.
func (g *Gateway) Complete(ctx context.Context, req *Request) (*Completion, error) {
	completion, err := g.call(ctx, req)
	if err != nil {
		return nil, err
	}

	if completion.Content == "" && completion.FunctionCall == nil && completion.FinishReason == "stop" {
		return nil, NewError(ErrorTypeEmptyResponse, "provider returned empty content", false, nil)
	}

	return completion, nil
}

// CompleteWithTools generates a completion offering req.Tools. A returned
// function call is validated against its tool schema; models without native
// tool calling are accommodated by parsing text-form tool calls.
func (g *Gateway) CompleteWithTools(ctx context.Context, req *Request) (*Completion, error) {
	if len(req.Tools) == 0 {
		return nil, NewError(ErrorTypeBadToolCall, "no tools offered", false, nil)
	}

	completion, err := g.call(ctx, req)
	if err != nil {
		return nil, err
	}

	if completion.FunctionCall == nil && completion.Content != "" {
		if fc := parseTextToolCall(completion.Content); fc != nil {
			completion.FunctionCall = fc
			completion.Content = ""
		}
	}

	if completion.FunctionCall != nil {
		tool := FindTool(req.Tools, completion.FunctionCall.Name)
		if tool == nil {
			return nil, NewError(ErrorTypeBadToolCall,
				fmt.Sprintf("model called unknown tool %q", completion.FunctionCall.Name), false, nil)
		}
		if err := tool.ValidateCall(completion.FunctionCall); err != nil {
			return nil, NewError(ErrorTypeBadToolCall, "invalid tool arguments", false, err)
		}
		return completion, nil
	}

	if completion.Content == "" {
		return nil, NewError(ErrorTypeEmptyResponse, "provider returned neither content nor tool call", false, nil)
	}

	return completion, nil
}

// call runs the provider under the breaker, retry policy, and wall cap.
func (g *Gateway) call(ctx context.Context, req *Request) (*Completion, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
	defer cancel()

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = g.cfg.MaxAttempts

	completion, err := retry.DoWithResult(callCtx, retryCfg, func() (*Completion, error) {
		if breakerErr := g.breaker.Allow(); breakerErr != nil {
			return nil, breakerErr
		}

		c, callErr := g.provider.Complete(callCtx, req)
		if callErr != nil {
			g.breaker.RecordFailure()
			return nil, callErr
		}

		g.breaker.RecordSuccess()
		return c, nil
	})
	if err != nil {
		return nil, ClassifyError(err)
	}
	return completion, nil
}

// parseTextToolCall extracts the first text-form tool call, if any.
func parseTextToolCall(content string) *FunctionCall {
	match := textToolCallPattern.FindStringSubmatch(content)
	if len(match) < 2 {
		return nil
	}

	var call struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(match[1]), &call); err != nil {
		return nil
	}
	if call.Name == "" {
		return nil
	}

	argsJSON, err := json.Marshal(call.Arguments)
	if err != nil {
		return nil
	}

	return &FunctionCall{Name: call.Name, Arguments: string(argsJSON)}
}

// CleanModelOutput removes thinking blocks and tool call markup from model
// output intended for display.
func CleanModelOutput(content string) string {
	thinkRegex := regexp.MustCompile(`<think>[\s\S]*?</think>`)
	content = thinkRegex.ReplaceAllString(content, "")

	content = textToolCallPattern.ReplaceAllString(content, "")

	multiNewline := regexp.MustCompile(`\n{3,}`)
	content = multiNewline.ReplaceAllString(content, "\n\n")

	return strings.TrimSpace(content)
}

package llm

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lucidata-ai/lucid-engine/pkg/config"
)

// NewFromConfig builds the gateway for the configured provider.
func NewFromConfig(cfg *config.LLMConfig, logger *zap.Logger) (*Gateway, error) {
	var provider Provider
	var err error

	switch strings.ToLower(cfg.Provider) {
	case "openai", "":
		provider, err = NewOpenAIProvider(&OpenAIConfig{
			Endpoint: cfg.Endpoint,
			Model:    cfg.Model,
			APIKey:   cfg.APIKey,
		}, logger)
	case "anthropic":
		provider, err = NewAnthropicProvider(&AnthropicConfig{
			Model:  cfg.Model,
			APIKey: cfg.APIKey,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s provider: %w", cfg.Provider, err)
	}

	gwCfg := DefaultGatewayConfig()
	if cfg.RequestTimeoutSec > 0 {
		gwCfg.CallTimeout = time.Duration(cfg.RequestTimeoutSec) * time.Second
	}
	if cfg.MaxAttempts > 0 {
		gwCfg.MaxAttempts = cfg.MaxAttempts
	}

	return NewGateway(provider, gwCfg, logger), nil
}

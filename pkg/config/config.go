package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for lucid-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (API keys, passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8443"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// LLM provider configuration
	LLM LLMConfig `yaml:"llm"`

	// Redis backend for cache and rate limiting (optional; in-process
	// fallbacks are used when host is empty or the backend is down)
	Redis RedisConfig `yaml:"redis"`

	// Workflow execution limits
	Workflow WorkflowConfig `yaml:"workflow"`

	// Rate limiting windows
	RateLimits RateLimitConfig `yaml:"rate_limits"`

	// Cache TTLs per namespace
	CacheTTL CacheTTLConfig `yaml:"cache_ttl"`

	// Monthly AI credit allowances per plan (-1 means unlimited)
	PlanCredits PlanCreditsConfig `yaml:"plan_credits"`

	// Engine persistence for conversations and usage records. Falls back
	// to the in-memory store when no URL is set.
	Database DatabaseConfig `yaml:"database"`

	// DataSourcesFile points at a YAML file listing the queryable data
	// sources to seed the registry with at startup.
	DataSourcesFile string `yaml:"data_sources_file" env:"DATA_SOURCES_FILE" env-default:""`

	// Feature flags
	EnableStreaming       bool `yaml:"enable_streaming" env:"ENABLE_STREAMING" env-default:"true"`
	EnableAIResponseCache bool `yaml:"enable_ai_response_cache" env:"ENABLE_AI_RESPONSE_CACHE" env-default:"true"`
	EnableFunctionCalling bool `yaml:"enable_function_calling" env:"ENABLE_FUNCTION_CALLING" env-default:"true"`

	// Identity verification
	Auth AuthConfig `yaml:"auth"`
}

// LLMConfig holds provider endpoints and model selection.
type LLMConfig struct {
	// Provider selects the gateway backend: "openai" (any OpenAI-compatible
	// endpoint) or "anthropic".
	Provider string `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"`
	Endpoint string `yaml:"endpoint" env:"LLM_ENDPOINT" env-default:"https://api.openai.com/v1"`
	Model    string `yaml:"model" env:"LLM_MODEL" env-default:"gpt-4o"`
	APIKey   string `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML

	// RequestTimeoutSec caps the wall time of a single completion call
	// including retries.
	RequestTimeoutSec int `yaml:"request_timeout_sec" env:"LLM_REQUEST_TIMEOUT_SEC" env-default:"30"`
	MaxAttempts       int `yaml:"max_attempts" env:"LLM_MAX_ATTEMPTS" env-default:"3"`
}

// RedisConfig holds the shared key-value backend settings.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// Addr returns the host:port address, or empty when unconfigured.
func (c *RedisConfig) Addr() string {
	if c.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WorkflowConfig bounds a single orchestration run.
type WorkflowConfig struct {
	// MaxSchemaTokens is the upper bound for pruned schema size in a prompt.
	MaxSchemaTokens int `yaml:"max_schema_tokens" env:"MAX_SCHEMA_TOKENS" env-default:"4000"`
	// DefaultTimeoutSec applies per stage and per datasource query.
	DefaultTimeoutSec int `yaml:"default_timeout_sec" env:"DEFAULT_TIMEOUT_SEC" env-default:"30"`
	// StageTimeoutSec is the node-level timeout wrapping each agent.
	StageTimeoutSec int `yaml:"stage_timeout_sec" env:"STAGE_TIMEOUT_SEC" env-default:"60"`
	// DefaultMaxRows caps executor results in standard analysis mode.
	DefaultMaxRows int `yaml:"default_max_rows" env:"DEFAULT_MAX_ROWS" env-default:"1000"`
	// RetryBudgetPerStage caps recovery re-entries per stage.
	RetryBudgetPerStage int `yaml:"retry_budget_per_stage" env:"RETRY_BUDGET_PER_STAGE" env-default:"2"`
	// EventBuffer is the capacity of the per-request outbound frame queue.
	EventBuffer int `yaml:"event_buffer" env:"EVENT_BUFFER" env-default:"64"`
}

// RateLimitConfig holds sliding-window request limits per identifier.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" env:"RATE_REQUESTS_PER_MINUTE" env-default:"60"`
	RequestsPerHour   int `yaml:"requests_per_hour" env:"RATE_REQUESTS_PER_HOUR" env-default:"1000"`
	RequestsPerDay    int `yaml:"requests_per_day" env:"RATE_REQUESTS_PER_DAY" env-default:"10000"`
	Burst             int `yaml:"burst" env:"RATE_BURST" env-default:"100"`
}

// CacheTTLConfig holds per-namespace cache lifetimes.
type CacheTTLConfig struct {
	SchemaHours int `yaml:"schema_hours" env:"CACHE_SCHEMA_HOURS" env-default:"24"`
	QueryHours  int `yaml:"query_hours" env:"CACHE_QUERY_HOURS" env-default:"1"`
	AIHours     int `yaml:"ai_hours" env:"CACHE_AI_HOURS" env-default:"1"`
}

// PlanCreditsConfig holds the monthly AI credit allowance per plan.
// -1 means unlimited.
type PlanCreditsConfig struct {
	Free       int64 `yaml:"free" env:"PLAN_CREDITS_FREE" env-default:"10"`
	Pro        int64 `yaml:"pro" env:"PLAN_CREDITS_PRO" env-default:"1000"`
	Team       int64 `yaml:"team" env:"PLAN_CREDITS_TEAM" env-default:"10000"`
	Enterprise int64 `yaml:"enterprise" env:"PLAN_CREDITS_ENTERPRISE" env-default:"-1"`
}

// ForPlan resolves the credit allowance for a plan name.
func (p *PlanCreditsConfig) ForPlan(plan string) int64 {
	switch strings.ToLower(plan) {
	case "pro":
		return p.Pro
	case "team":
		return p.Team
	case "enterprise":
		return p.Enterprise
	default:
		return p.Free
	}
}

// DatabaseConfig holds the engine's own Postgres connection.
type DatabaseConfig struct {
	URL string `yaml:"-" env:"DATABASE_URL"` // Secret - not in YAML
}

// AuthConfig holds identity verification settings.
type AuthConfig struct {
	// EnableVerification controls whether bearer tokens are validated.
	// Set to false for local development without an auth server.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`

	// JWKSURL is the JSON Web Key Set endpoint of the identity provider.
	JWKSURL string `yaml:"jwks_url" env:"AUTH_JWKS_URL" env-default:""`

	// Issuer is the expected token issuer.
	Issuer string `yaml:"issuer" env:"AUTH_ISSUER" env-default:""`
}

// Load reads configuration from config.yaml with environment variable
// overrides. The version parameter is injected at build time and set on the
// returned Config. Secrets (LLM_API_KEY, REDIS_PASSWORD) must come from
// environment variables (yaml:"-" fields).
func Load(version string) (*Config, error) {
	cfg := &Config{Version: version}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(c.LLM.Provider) {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	if c.Workflow.RetryBudgetPerStage < 0 {
		return fmt.Errorf("retry_budget_per_stage must be >= 0")
	}
	if c.Workflow.DefaultMaxRows <= 0 {
		return fmt.Errorf("default_max_rows must be > 0")
	}
	if c.RateLimits.RequestsPerMinute <= 0 {
		return fmt.Errorf("requests_per_minute must be > 0")
	}
	return nil
}

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("test")
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Version)
	assert.Equal(t, "8443", cfg.Port)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 4000, cfg.Workflow.MaxSchemaTokens)
	assert.Equal(t, 30, cfg.Workflow.DefaultTimeoutSec)
	assert.Equal(t, 1000, cfg.Workflow.DefaultMaxRows)
	assert.Equal(t, 2, cfg.Workflow.RetryBudgetPerStage)
	assert.Equal(t, 60, cfg.RateLimits.RequestsPerMinute)
	assert.Equal(t, 1000, cfg.RateLimits.RequestsPerHour)
	assert.Equal(t, 10000, cfg.RateLimits.RequestsPerDay)
	assert.Equal(t, 100, cfg.RateLimits.Burst)
	assert.Equal(t, 24, cfg.CacheTTL.SchemaHours)
	assert.Equal(t, 1, cfg.CacheTTL.QueryHours)
	assert.True(t, cfg.EnableStreaming)
	assert.True(t, cfg.EnableAIResponseCache)
	assert.True(t, cfg.EnableFunctionCalling)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "anthropic")
	t.Setenv("MAX_SCHEMA_TOKENS", "2000")
	t.Setenv("RATE_REQUESTS_PER_MINUTE", "5")

	cfg, err := Load("test")
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, 2000, cfg.Workflow.MaxSchemaTokens)
	assert.Equal(t, 5, cfg.RateLimits.RequestsPerMinute)
}

func TestLoad_RejectsUnknownProvider(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "bedrock")

	_, err := Load("test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown llm provider")
}

func TestPlanCredits_ForPlan(t *testing.T) {
	p := PlanCreditsConfig{Free: 10, Pro: 1000, Team: 10000, Enterprise: -1}

	tests := []struct {
		plan string
		want int64
	}{
		{"free", 10},
		{"pro", 1000},
		{"team", 10000},
		{"enterprise", -1},
		{"something-else", 10},
		{"PRO", 1000},
	}

	for _, tt := range tests {
		t.Run(tt.plan, func(t *testing.T) {
			assert.Equal(t, tt.want, p.ForPlan(tt.plan))
		})
	}
}

func TestRedisConfig_Addr(t *testing.T) {
	assert.Empty(t, (&RedisConfig{}).Addr())
	assert.Equal(t, "localhost:6379", (&RedisConfig{Host: "localhost", Port: 6379}).Addr())
}

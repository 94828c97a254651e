package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPipelineConfig(t *testing.T) {
	cfg := DefaultPipelineConfig()

	assert.Equal(t, 3, cfg.MaxRevisionRounds)
	assert.Equal(t, 15, cfg.MaxBulletsPerRole)
	assert.Equal(t, 50, cfg.MaxEvidenceItemsInjected)
	assert.Equal(t, 2*time.Minute, cfg.RoundTimeout)
	assert.Equal(t, 30*time.Minute, cfg.OverallTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestDefaultSSEConfig(t *testing.T) {
	cfg := DefaultSSEConfig()

	assert.Equal(t, 5, cfg.MaxPerUser)
	assert.Equal(t, 10*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 20, cfg.RestoreMessageLimit)
	assert.NoError(t, cfg.Validate())
}

func TestProcessingConfigClampsPerUserCap(t *testing.T) {
	cfg := DefaultProcessingConfig()
	cfg.MaxSessions = 4
	cfg.MaxSessionsPerUser = 10

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 4, cfg.MaxSessionsPerUser)
}

func TestValidateRejectsBadBounds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{
			name:   "zero revision rounds",
			mutate: func(c *Config) { c.Pipeline.MaxRevisionRounds = 0 },
			errMsg: "max_revision_rounds",
		},
		{
			name:   "sse per-user cap below one",
			mutate: func(c *Config) { c.SSE.MaxPerUser = 0 },
			errMsg: "max_per_user",
		},
		{
			name:   "total below per-user",
			mutate: func(c *Config) { c.SSE.MaxTotalConnections = 2 },
			errMsg: "max_total_connections",
		},
		{
			name:   "gate queue count cap below one",
			mutate: func(c *Config) { c.GateQueue.MaxBufferedResponses = 0 },
			errMsg: "max_buffered_responses",
		},
		{
			name:   "redis rate limit without addr",
			mutate: func(c *Config) { c.Features.RedisRateLimit = true },
			errMsg: "REDIS_ADDR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Pipeline:   DefaultPipelineConfig(),
				SSE:        DefaultSSEConfig(),
				Processing: DefaultProcessingConfig(),
				Guards:     DefaultGuardConfig(),
				GateQueue:  DefaultGateQueueConfig(),
				LLM:        DefaultLLMConfig(),
				Pricing:    DefaultPricingConfig(),
				Features:   &FeatureGates{},
			}
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadReadsEnvironmentOverrides(t *testing.T) {
	t.Setenv("MAX_TOTAL_SSE_CONNECTIONS", "250")
	t.Setenv("MAX_PROCESSING_SESSIONS", "100")
	t.Setenv("MAX_PROCESSING_SESSIONS_PER_USER", "3")
	t.Setenv("PROCESSING_TTL_MS", "60000")
	t.Setenv("FEATURE_BLUEPRINT_APPROVAL", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 250, cfg.SSE.MaxTotalConnections)
	assert.Equal(t, 100, cfg.Processing.MaxSessions)
	assert.Equal(t, 3, cfg.Processing.MaxSessionsPerUser)
	assert.Equal(t, time.Minute, cfg.Processing.TTL)
	assert.False(t, cfg.Features.BlueprintApproval)
}

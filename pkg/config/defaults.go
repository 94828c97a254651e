package config

import "time"

// DefaultPipelineConfig returns the coordinator and agent-loop bounds.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		MaxRevisionRounds:        3,
		MaxBulletsPerRole:        15,
		MaxEvidenceItemsInjected: 50,
		StrategistMaxRounds:      30,
		CraftsmanMaxRounds:       25,
		ProducerMaxRounds:        15,
		RoundTimeout:             2 * time.Minute,
		OverallTimeout:           30 * time.Minute,
		GatePollInterval:         2 * time.Second,
	}
}

// DefaultSSEConfig returns the event stream transport bounds.
func DefaultSSEConfig() *SSEConfig {
	return &SSEConfig{
		MaxPerUser:          5,
		MaxTotalConnections: 1000,
		HeartbeatInterval:   10 * time.Second,
		WriteTimeout:        10 * time.Second,
		SendBuffer:          64,
		RestoreMessageLimit: 20,
	}
}

// DefaultProcessingConfig returns the in-flight message-processing caps.
func DefaultProcessingConfig() *ProcessingConfig {
	return &ProcessingConfig{
		MaxSessions:        2000,
		MaxSessionsPerUser: 6,
		TTL:                15 * time.Minute,
		SweepInterval:      time.Minute,
	}
}

// DefaultGuardConfig returns rate and idempotency guard bounds.
func DefaultGuardConfig() *GuardConfig {
	return &GuardConfig{
		MessageRatePerMinute:      20,
		SSEConnectRatePerMinute:   10,
		MaxRateUsers:              10_000,
		IdempotencyMaxEntries:     20_000,
		IdempotencyTTL:            5 * time.Minute,
		IdempotencyKeyMaxLen:      128,
		MaxMessageBodyBytes:       64 * 1024,
		MaxCreateSessionBodyBytes: 512 * 1024,
	}
}

// DefaultGateQueueConfig returns the buffered gate-response caps.
func DefaultGateQueueConfig() *GateQueueConfig {
	return &GateQueueConfig{
		MaxBufferedResponses:           50,
		MaxBufferedResponsesTotalBytes: 256 * 1024,
		MaxBufferedResponseItemBytes:   16 * 1024,
	}
}

// DefaultLLMConfig returns the model tier selection. The light model carries
// scoring and summarization calls, the mid model drives section writing, the
// primary model drives strategy and quality review.
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		LightModel:   "claude-3-5-haiku-latest",
		MidModel:     "claude-sonnet-4-5",
		PrimaryModel: "claude-sonnet-4-5",
		MaxTokens:    8192,
	}
}

// DefaultPricingConfig returns per-million-token USD prices for the tiers.
func DefaultPricingConfig() *PricingConfig {
	return &PricingConfig{
		LightInput:    0.80,
		LightOutput:   4.00,
		MidInput:      3.00,
		MidOutput:     15.00,
		PrimaryInput:  3.00,
		PrimaryOutput: 15.00,
	}
}

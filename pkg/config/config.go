// Package config holds all runtime configuration for the resume pipeline
// server. Values come from the environment with validated defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the root configuration object assembled at startup.
type Config struct {
	HTTPPort  string
	AuthToken string

	Pipeline   *PipelineConfig
	SSE        *SSEConfig
	Processing *ProcessingConfig
	Guards     *GuardConfig
	GateQueue  *GateQueueConfig
	LLM        *LLMConfig
	Pricing    *PricingConfig
	Features   *FeatureGates
}

// PipelineConfig bounds the coordinator and the per-agent loops.
type PipelineConfig struct {
	// MaxRevisionRounds caps how many times the quality review may send a
	// section back to the writer.
	MaxRevisionRounds int

	// MaxBulletsPerRole bounds the master-resume projection injected into
	// the strategist's initial message.
	MaxBulletsPerRole int

	// MaxEvidenceItemsInjected bounds evidence items across all sources in
	// the initial message.
	MaxEvidenceItemsInjected int

	// Per-agent loop limits.
	StrategistMaxRounds int
	CraftsmanMaxRounds  int
	ProducerMaxRounds   int

	RoundTimeout   time.Duration
	OverallTimeout time.Duration

	// GatePollInterval is the DB-poll fallback cadence while a run waits at
	// a gate. The in-process notify channel is the primary wakeup path.
	GatePollInterval time.Duration
}

// SSEConfig bounds the event stream transport.
type SSEConfig struct {
	MaxPerUser          int
	MaxTotalConnections int
	HeartbeatInterval   time.Duration
	WriteTimeout        time.Duration

	// SendBuffer is the per-connection outbound frame buffer. A client that
	// cannot drain this many frames is treated as disconnected.
	SendBuffer int

	// RestoreMessageLimit caps the chat messages replayed in session_restore.
	RestoreMessageLimit int
}

// ProcessingConfig bounds in-flight message processing.
type ProcessingConfig struct {
	MaxSessions        int
	MaxSessionsPerUser int
	TTL                time.Duration
	SweepInterval      time.Duration
}

// GuardConfig bounds per-user request rates and idempotency key retention.
type GuardConfig struct {
	MessageRatePerMinute    int
	SSEConnectRatePerMinute int
	MaxRateUsers            int

	IdempotencyMaxEntries int
	IdempotencyTTL        time.Duration
	IdempotencyKeyMaxLen  int

	MaxMessageBodyBytes       int
	MaxCreateSessionBodyBytes int

	RedisAddr string
}

// GateQueueConfig bounds the buffered gate-response queue persisted on the
// session row.
type GateQueueConfig struct {
	MaxBufferedResponses           int
	MaxBufferedResponsesTotalBytes int
	MaxBufferedResponseItemBytes   int
}

// LLMConfig selects models per agent tier.
type LLMConfig struct {
	APIKey       string
	LightModel   string
	MidModel     string
	PrimaryModel string
	MaxTokens    int
}

// PricingConfig carries per-million-token prices for the three model tiers,
// used for the blended cost estimate.
type PricingConfig struct {
	LightInput    float64
	LightOutput   float64
	MidInput      float64
	MidOutput     float64
	PrimaryInput  float64
	PrimaryOutput float64
}

// FeatureGates toggles optional behaviour.
type FeatureGates struct {
	BlueprintApproval bool
	RedisBus          bool
	RedisRateLimit    bool
	SelfReviewRouting bool
}

// Load assembles the full configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:   getEnv("HTTP_PORT", "8080"),
		AuthToken:  os.Getenv("AUTH_TOKEN"),
		Pipeline:   DefaultPipelineConfig(),
		SSE:        DefaultSSEConfig(),
		Processing: DefaultProcessingConfig(),
		Guards:     DefaultGuardConfig(),
		GateQueue:  DefaultGateQueueConfig(),
		LLM:        DefaultLLMConfig(),
		Pricing:    DefaultPricingConfig(),
		Features:   LoadFeatureGates(),
	}

	cfg.SSE.MaxTotalConnections = getEnvInt("MAX_TOTAL_SSE_CONNECTIONS", cfg.SSE.MaxTotalConnections)
	cfg.Processing.MaxSessions = getEnvInt("MAX_PROCESSING_SESSIONS", cfg.Processing.MaxSessions)
	cfg.Processing.MaxSessionsPerUser = getEnvInt("MAX_PROCESSING_SESSIONS_PER_USER", cfg.Processing.MaxSessionsPerUser)
	if ms := getEnvInt("PROCESSING_TTL_MS", 0); ms > 0 {
		cfg.Processing.TTL = time.Duration(ms) * time.Millisecond
	}
	cfg.Guards.MaxRateUsers = getEnvInt("MAX_SSE_RATE_USERS", cfg.Guards.MaxRateUsers)
	cfg.Guards.MaxMessageBodyBytes = getEnvInt("MAX_MESSAGE_BODY_BYTES", cfg.Guards.MaxMessageBodyBytes)
	cfg.Guards.MaxCreateSessionBodyBytes = getEnvInt("MAX_CREATE_SESSION_BODY_BYTES", cfg.Guards.MaxCreateSessionBodyBytes)
	cfg.Guards.RedisAddr = getEnv("REDIS_ADDR", "")
	cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints. The per-user processing cap is
// clamped to the global cap rather than rejected.
func (c *Config) Validate() error {
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if err := c.SSE.Validate(); err != nil {
		return fmt.Errorf("sse: %w", err)
	}
	if err := c.Processing.Validate(); err != nil {
		return fmt.Errorf("processing: %w", err)
	}
	if err := c.GateQueue.Validate(); err != nil {
		return fmt.Errorf("gate queue: %w", err)
	}
	if c.Features.RedisRateLimit && c.Guards.RedisAddr == "" {
		return fmt.Errorf("FEATURE_REDIS_RATE_LIMIT is enabled but REDIS_ADDR is not set")
	}
	return nil
}

// Validate checks the pipeline bounds.
func (p *PipelineConfig) Validate() error {
	if p == nil {
		return fmt.Errorf("pipeline configuration is nil")
	}
	if p.MaxRevisionRounds < 1 || p.MaxRevisionRounds > 10 {
		return fmt.Errorf("max_revision_rounds must be between 1 and 10, got %d", p.MaxRevisionRounds)
	}
	if p.StrategistMaxRounds < 1 || p.CraftsmanMaxRounds < 1 || p.ProducerMaxRounds < 1 {
		return fmt.Errorf("agent max rounds must be at least 1")
	}
	if p.RoundTimeout <= 0 || p.OverallTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	return nil
}

// Validate checks the SSE bounds.
func (s *SSEConfig) Validate() error {
	if s == nil {
		return fmt.Errorf("sse configuration is nil")
	}
	if s.MaxPerUser < 1 {
		return fmt.Errorf("max_per_user must be at least 1, got %d", s.MaxPerUser)
	}
	if s.MaxTotalConnections < s.MaxPerUser {
		return fmt.Errorf("max_total_connections (%d) must be >= max_per_user (%d)",
			s.MaxTotalConnections, s.MaxPerUser)
	}
	if s.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive")
	}
	return nil
}

// Validate clamps the per-user cap to the global cap.
func (p *ProcessingConfig) Validate() error {
	if p == nil {
		return fmt.Errorf("processing configuration is nil")
	}
	if p.MaxSessions < 1 {
		return fmt.Errorf("max_sessions must be at least 1, got %d", p.MaxSessions)
	}
	if p.MaxSessionsPerUser < 1 {
		return fmt.Errorf("max_sessions_per_user must be at least 1, got %d", p.MaxSessionsPerUser)
	}
	if p.MaxSessionsPerUser > p.MaxSessions {
		p.MaxSessionsPerUser = p.MaxSessions
	}
	if p.TTL <= 0 {
		return fmt.Errorf("processing TTL must be positive")
	}
	return nil
}

// Validate checks the gate-queue byte and count caps.
func (g *GateQueueConfig) Validate() error {
	if g == nil {
		return fmt.Errorf("gate queue configuration is nil")
	}
	if g.MaxBufferedResponses < 1 {
		return fmt.Errorf("max_buffered_responses must be at least 1, got %d", g.MaxBufferedResponses)
	}
	if g.MaxBufferedResponseItemBytes < 64 {
		return fmt.Errorf("max_buffered_response_item_bytes must be at least 64, got %d", g.MaxBufferedResponseItemBytes)
	}
	if g.MaxBufferedResponsesTotalBytes < g.MaxBufferedResponseItemBytes {
		return fmt.Errorf("total byte cap (%d) must be >= per-item cap (%d)",
			g.MaxBufferedResponsesTotalBytes, g.MaxBufferedResponseItemBytes)
	}
	return nil
}

// LoadFeatureGates reads the feature toggle environment variables.
func LoadFeatureGates() *FeatureGates {
	return &FeatureGates{
		BlueprintApproval: getEnvBool("FEATURE_BLUEPRINT_APPROVAL", true),
		RedisBus:          getEnvBool("FEATURE_REDIS_BUS", false),
		RedisRateLimit:    getEnvBool("FEATURE_REDIS_RATE_LIMIT", false),
		SelfReviewRouting: getEnvBool("FEATURE_SELF_REVIEW_ROUTING", false),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

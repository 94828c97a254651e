// Package usage accumulates per-session token counts across every LLM call
// made on behalf of a session, and converts them to a blended cost estimate.
package usage

import (
	"log/slog"
	"math"
	"sync"

	"github.com/Waconiajohn/resume-agent-sub002/pkg/config"
)

// Totals is a snapshot of a session's accumulated usage.
type Totals struct {
	UserID       string
	InputTokens  int64
	OutputTokens int64
}

// Tracker is the process-wide usage accumulator keyed by session id.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*Totals
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{sessions: make(map[string]*Totals)}
}

// Start installs an accumulator for a session. Starting an already-tracked
// session resets it; the coordinator only starts once per run.
func (t *Tracker) Start(sessionID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[sessionID] = &Totals{UserID: userID}
}

// Add records one LLM call's token counts. Calls for untracked sessions are
// dropped with a warning; this happens when an LLM wrapper outlives its run.
func (t *Tracker) Add(sessionID string, inputTokens, outputTokens int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	acc, ok := t.sessions[sessionID]
	if !ok {
		slog.Warn("Usage recorded for untracked session, dropping",
			"session_id", sessionID, "input_tokens", inputTokens, "output_tokens", outputTokens)
		return
	}
	acc.InputTokens += inputTokens
	acc.OutputTokens += outputTokens
}

// Snapshot returns the current totals without removing the accumulator.
func (t *Tracker) Snapshot(sessionID string) (Totals, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	acc, ok := t.sessions[sessionID]
	if !ok {
		return Totals{}, false
	}
	return *acc, true
}

// Stop removes the accumulator and returns the final totals.
func (t *Tracker) Stop(sessionID string) Totals {
	t.mu.Lock()
	defer t.mu.Unlock()
	acc, ok := t.sessions[sessionID]
	if !ok {
		return Totals{}
	}
	delete(t.sessions, sessionID)
	return *acc
}

// Active returns the number of tracked sessions.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// Blended per-tier weights for the cost estimate: most calls run on the
// light tier, fewer on mid, fewest on primary.
const (
	blendLight   = 0.5
	blendMid     = 0.3
	blendPrimary = 0.2
)

// BlendedCostUSD estimates run cost from token totals using tier-weighted
// per-million-token prices, rounded to 4 decimals.
func BlendedCostUSD(input, output int64, p *config.PricingConfig) float64 {
	blendedInput := blendLight*p.LightInput + blendMid*p.MidInput + blendPrimary*p.PrimaryInput
	blendedOutput := blendLight*p.LightOutput + blendMid*p.MidOutput + blendPrimary*p.PrimaryOutput

	cost := float64(input)/1e6*blendedInput + float64(output)/1e6*blendedOutput
	return math.Round(cost*10_000) / 10_000
}

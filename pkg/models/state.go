package models

import (
	"fmt"
	"sync"
)

// WorkflowMode selects how much user interaction the pipeline solicits.
type WorkflowMode string

// Workflow modes.
const (
	ModeFastDraft WorkflowMode = "fast_draft"
	ModeBalanced  WorkflowMode = "balanced"
	ModeDeepDive  WorkflowMode = "deep_dive"
)

// UserPreferences tunes the run.
type UserPreferences struct {
	WorkflowMode          WorkflowMode `json:"workflow_mode,omitempty"`
	ResumePriority        string       `json:"resume_priority,omitempty"`
	SeniorityDelta        int          `json:"seniority_delta,omitempty"`
	MinimumEvidenceTarget int          `json:"minimum_evidence_target,omitempty"`
}

// TokenUsage accumulates token counts and the blended cost estimate.
type TokenUsage struct {
	InputTokens      int64   `json:"input_tokens"`
	OutputTokens     int64   `json:"output_tokens"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// PipelineState is the single per-session value owned by the coordinator.
// All mutation goes through the update methods, which serialize access:
// the revision sub-loop may write sections while the producer loop is
// parked on a bus round-trip, and the SSE restore path reads snapshots.
type PipelineState struct {
	mu sync.RWMutex

	SessionID string
	UserID    string

	CurrentStage Stage

	Intake      *IntakeResult
	Positioning *PositioningResult
	Research    *ResearchResult
	GapAnalysis *GapAnalysisResult
	Architect   *Blueprint

	Sections         map[string]*Section
	ApprovedSections []string
	RevisionCounts   map[string]int

	Quality             *QualityReview
	InterviewTranscript []InterviewEntry

	Usage       TokenUsage
	Preferences UserPreferences
}

// NewPipelineState initializes state at the intake stage.
func NewPipelineState(sessionID, userID string, prefs UserPreferences) *PipelineState {
	if prefs.WorkflowMode == "" {
		prefs.WorkflowMode = ModeBalanced
	}
	return &PipelineState{
		SessionID:      sessionID,
		UserID:         userID,
		CurrentStage:   StageIntake,
		Sections:       make(map[string]*Section),
		RevisionCounts: make(map[string]int),
		Preferences:    prefs,
	}
}

// AdvanceStage moves to the next stage, enforcing monotonicity.
func (s *PipelineState) AdvanceStage(next Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.CurrentStage.CanTransition(next) {
		return fmt.Errorf("illegal stage transition %s -> %s", s.CurrentStage, next)
	}
	s.CurrentStage = next
	return nil
}

// Stage returns the current stage.
func (s *PipelineState) Stage() Stage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.CurrentStage
}

// Update runs fn with exclusive access to the state. Agent tools and the
// revision handler mutate state only through this method.
func (s *PipelineState) Update(fn func(*PipelineState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

// Read runs fn with shared access to the state.
func (s *PipelineState) Read(fn func(*PipelineState)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s)
}

// SetSection stores a written section under name.
func (s *PipelineState) SetSection(name string, sec *Section) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Sections[name] = sec
}

// Section returns the named section, or nil.
func (s *PipelineState) Section(name string) *Section {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Sections[name]
}

// ApproveSection marks a section immutable to automated revision. A section
// can only be approved after it has been written.
func (s *PipelineState) ApproveSection(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.Sections[name]; !ok {
		return fmt.Errorf("cannot approve unwritten section %q", name)
	}
	for _, a := range s.ApprovedSections {
		if a == name {
			return nil
		}
	}
	s.ApprovedSections = append(s.ApprovedSections, name)
	return nil
}

// IsApproved reports whether a section is user-approved.
func (s *PipelineState) IsApproved(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.ApprovedSections {
		if a == name {
			return true
		}
	}
	return false
}

// RevisionCount returns how many revision rounds a section has consumed.
func (s *PipelineState) RevisionCount(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.RevisionCounts[name]
}

// IncrementRevision bumps a section's revision count and returns the new value.
func (s *PipelineState) IncrementRevision(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RevisionCounts[name]++
	return s.RevisionCounts[name]
}

// AddUsage accumulates token counts. Counts never decrease.
func (s *PipelineState) AddUsage(input, output int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Usage.InputTokens += input
	s.Usage.OutputTokens += output
}

// SetUsage overwrites the usage totals with final numbers from the tracker.
// Rejects regressions so the monotonicity invariant holds.
func (s *PipelineState) SetUsage(u TokenUsage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.InputTokens >= s.Usage.InputTokens {
		s.Usage.InputTokens = u.InputTokens
	}
	if u.OutputTokens >= s.Usage.OutputTokens {
		s.Usage.OutputTokens = u.OutputTokens
	}
	s.Usage.EstimatedCostUSD = u.EstimatedCostUSD
}

// SectionNames returns the names of all written sections.
func (s *PipelineState) SectionNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.Sections))
	for name := range s.Sections {
		names = append(names, name)
	}
	return names
}

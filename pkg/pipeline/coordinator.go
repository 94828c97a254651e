// Package pipeline implements the coordinator that drives the three-agent
// resume pipeline: the Strategist plans, the Craftsman writes, the Producer
// reviews and routes revisions. The coordinator owns the per-session state,
// enforces stage ordering, and persists the outcome.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Waconiajohn/resume-agent-sub002/pkg/agent"
	"github.com/Waconiajohn/resume-agent-sub002/pkg/bus"
	"github.com/Waconiajohn/resume-agent-sub002/pkg/config"
	"github.com/Waconiajohn/resume-agent-sub002/pkg/events"
	"github.com/Waconiajohn/resume-agent-sub002/pkg/llm"
	"github.com/Waconiajohn/resume-agent-sub002/pkg/models"
	"github.com/Waconiajohn/resume-agent-sub002/pkg/session"
	"github.com/Waconiajohn/resume-agent-sub002/pkg/usage"
)

// GateArchitectReview is the blueprint approval gate name.
const GateArchitectReview = "architect_review"

// SessionPersister is the slice of the session service the coordinator
// writes through.
type SessionPersister interface {
	UpdateStatus(ctx context.Context, sessionID string, status models.SessionStatus, stage string) error
	UpdateUsage(ctx context.Context, sessionID string, usage models.TokenUsage) error
	SaveCheckpoint(ctx context.Context, sessionID string, cp *models.Checkpoint) error
}

// TranscriptLoader loads the session's answered interview questions for
// injection into the craftsman's opening message.
type TranscriptLoader interface {
	Transcript(ctx context.Context, sessionID string) ([]models.InterviewEntry, error)
}

// ResumeSaver merges run output into the user's master resume.
type ResumeSaver interface {
	Save(ctx context.Context, session *models.SessionRecord, resume *models.MasterResume) error
}

// ProfileSaver upserts the user's positioning profile.
type ProfileSaver interface {
	Upsert(ctx context.Context, userID string, positioningData map[string]any) error
}

// RunConfig carries one run's inputs and its transport callbacks.
type RunConfig struct {
	SessionID      string
	UserID         string
	RawResumeText  string
	JobDescription string
	CompanyName    string
	Preferences    models.UserPreferences

	// MasterResume, when present, is projected into the strategist's initial
	// message and its ID is preserved for the final merge.
	MasterResume   *models.MasterResume
	MasterResumeID string

	// Messages is the session's durable transcript; the coordinator appends
	// an assistant note at each phase boundary and checkpoints the whole log.
	Messages []models.ChatMessage

	Emit        Emitter
	WaitForUser WaitFunc
}

// Coordinator sequences Strategist, Craftsman, and Producer for a session.
type Coordinator struct {
	cfg      *config.Config
	client   llm.Client
	tracker  *usage.Tracker
	bus      *bus.Bus
	running  *session.RunningSet
	sessions  SessionPersister
	resumes   ResumeSaver
	profiles  ProfileSaver
	questions TranscriptLoader

	newAgents AgentFactory
}

// NewCoordinator wires the coordinator. Persistence collaborators may be nil;
// the corresponding writes are skipped (used by tests and dry runs).
func NewCoordinator(cfg *config.Config, client llm.Client, tracker *usage.Tracker, b *bus.Bus,
	running *session.RunningSet, sessions SessionPersister, resumes ResumeSaver, profiles ProfileSaver) *Coordinator {
	return &Coordinator{
		cfg:       cfg,
		client:    client,
		tracker:   tracker,
		bus:       b,
		running:   running,
		sessions:  sessions,
		resumes:   resumes,
		profiles:  profiles,
		newAgents: NewLoopAgents,
	}
}

// WithAgentFactory overrides how the run's agents are built.
func (c *Coordinator) WithAgentFactory(f AgentFactory) *Coordinator {
	c.newAgents = f
	return c
}

// WithTranscriptLoader wires the interview transcript source.
func (c *Coordinator) WithTranscriptLoader(l TranscriptLoader) *Coordinator {
	c.questions = l
	return c
}

// Run executes the full pipeline for one session and returns the final state.
// On any failure it aborts the shared cancellation token, stops usage
// tracking, emits pipeline_error, and returns the error.
func (c *Coordinator) Run(ctx context.Context, rc *RunConfig) (*models.PipelineState, error) {
	state := models.NewPipelineState(rc.SessionID, rc.UserID, rc.Preferences)
	c.tracker.Start(rc.SessionID, rc.UserID)
	c.running.Add(rc.SessionID)
	defer c.running.Remove(rc.SessionID)

	runCtx, cancel := context.WithTimeout(ctx, c.cfg.Pipeline.OverallTimeout)
	defer cancel()

	if err := c.run(runCtx, rc, state); err != nil {
		cancel()
		c.finishUsage(state)
		rc.Emit(events.Event{Type: events.TypePipelineError, Payload: events.PipelineErrorPayload{
			Stage: state.Stage(), Error: err.Error(),
		}})
		c.persistStatus(context.WithoutCancel(ctx), rc.SessionID, models.SessionFailed, state.Stage())
		return nil, err
	}
	return state, nil
}

func (c *Coordinator) run(ctx context.Context, rc *RunConfig, state *models.PipelineState) error {
	rt := &Runtime{
		State:    state,
		Emit:     rc.Emit,
		Bus:      c.bus,
		Wait:     rc.WaitForUser,
		Client:   llm.NewRecordingClient(c.client, c.tracker, rc.SessionID),
		Pipeline: c.cfg.Pipeline,
		LLM:      c.cfg.LLM,
	}
	agents := c.newAgents(rt)

	// Phase 1: Strategist.
	phaseStart := time.Now()
	rc.Emit(stageStart(models.StageIntake, "Analyzing your resume and the target role"))
	if _, err := agents.Strategist.Run(ctx, BuildStrategistMessages(rc, c.cfg.Pipeline)); err != nil {
		return fmt.Errorf("strategist failed: %w", err)
	}

	var missingIntake, missingBlueprint bool
	state.Read(func(s *models.PipelineState) {
		missingIntake = s.Intake == nil
		missingBlueprint = s.Architect == nil
	})
	if missingIntake {
		return errors.New("strategist completed without an intake result")
	}
	if missingBlueprint {
		return errors.New("strategist completed without a blueprint")
	}
	advanceTo(state, models.StageArchitect)
	c.savePositioningProfile(ctx, state)

	// Blueprint gate. The stage_complete for architect carries the final
	// positioning angle, so user edits land in exactly one emitted event.
	if c.cfg.Features.BlueprintApproval && state.Preferences.WorkflowMode != models.ModeFastDraft {
		advanceTo(state, models.StageArchitectReview)
		var blueprint *models.Blueprint
		state.Read(func(s *models.PipelineState) { blueprint = s.Architect })
		rc.Emit(events.Event{Type: events.TypeBlueprintReady, Payload: blueprint})

		resp, err := rc.WaitForUser(ctx, GateArchitectReview)
		if err != nil {
			return fmt.Errorf("blueprint review interrupted: %w", err)
		}
		applyBlueprintEdits(state, resp)
	}

	var completeMsg string
	var blueprint *models.Blueprint
	state.Read(func(s *models.PipelineState) {
		blueprint = s.Architect
		completeMsg = fmt.Sprintf("Blueprint ready for %s: %s",
			s.Architect.TargetRole, s.Architect.PositioningAngle)
	})
	rc.Emit(stageComplete(models.StageArchitect, completeMsg, phaseStart))
	c.checkpointTurn(ctx, rc, state, completeMsg, "blueprint", blueprint)

	// Phase 2: Craftsman.
	phaseStart = time.Now()
	advanceTo(state, models.StageSectionWriting)
	rc.Emit(stageStart(models.StageSectionWriting, "Writing your resume sections"))
	c.loadInterviewTranscript(ctx, rc, state)
	craftRes, err := agents.Craftsman.Run(ctx, BuildCraftsmanMessages(state))
	if err != nil {
		return fmt.Errorf("craftsman failed: %w", err)
	}
	harvestSections(state, craftRes.Scratchpad)
	if len(state.SectionNames()) == 0 {
		slog.Warn("Craftsman produced no sections, continuing to review",
			"session_id", rc.SessionID)
	}
	sectionsMsg := fmt.Sprintf("%d sections written", len(state.SectionNames()))
	rc.Emit(stageComplete(models.StageSectionWriting, sectionsMsg, phaseStart))
	c.checkpointTurn(ctx, rc, state, sectionsMsg, "", nil)

	if err := c.reviewSections(ctx, rc, state); err != nil {
		return err
	}

	// Phase 3: Producer, with the revision handler listening on the bus for
	// the duration of the loop only.
	advanceTo(state, models.StageQualityReview)
	rc.Emit(stageStart(models.StageQualityReview, "Reviewing draft quality"))
	handler := newRevisionHandler(ctx, rt, agents.Craftsman, c.cfg.Pipeline.MaxRevisionRounds)
	prodRes, err := func() (*agent.Result, error) {
		c.bus.Subscribe(agentCraftsman, handler.Handle)
		defer c.bus.Unsubscribe(agentCraftsman)
		return agents.Producer.Run(ctx, BuildProducerMessages(state))
	}()
	if err != nil {
		return fmt.Errorf("producer failed: %w", err)
	}
	emitQualityScores(rc.Emit, state, prodRes.Scratchpad)
	c.checkpointTurn(ctx, rc, state, "Quality review complete", "", nil)

	// Finalize.
	resume, validation := Finalize(state, time.Now().UTC().Year())
	c.finishUsage(state)
	advanceTo(state, models.StageComplete)
	c.checkpointTurn(ctx, rc, state, "Your resume is ready.", "resume", resume)
	c.persistRun(ctx, rc, state)
	c.saveMasterResume(ctx, rc, state, resume)

	rc.Emit(events.Event{Type: events.TypePipelineComplete, Payload: events.PipelineCompletePayload{
		SessionID:        rc.SessionID,
		ContactInfo:      contactMap(state),
		CompanyName:      rc.CompanyName,
		Resume:           resume,
		ExportValidation: validation,
	}})
	return nil
}

// checkpointTurn appends an assistant note to the durable transcript and
// writes the session checkpoint. On failure the error is logged and an error
// event asks the user to retry; the in-memory state stays authoritative.
func (c *Coordinator) checkpointTurn(ctx context.Context, rc *RunConfig, state *models.PipelineState, note, panelType string, panelData any) {
	rc.Messages = append(rc.Messages, models.ChatMessage{
		Role:      "assistant",
		Content:   note,
		Panel:     panelType,
		CreatedAt: time.Now().UTC(),
	})
	if c.sessions == nil {
		return
	}

	stage := state.Stage()
	status := models.SessionRunning
	if stage == models.StageComplete {
		status = models.SessionComplete
	}
	cp := &models.Checkpoint{
		Messages:       rc.Messages,
		CurrentPhase:   string(stage),
		LastPanelType:  panelType,
		PipelineStatus: string(status),
		PipelineStage:  string(stage),
	}
	if panelData != nil {
		if data, err := json.Marshal(panelData); err == nil {
			cp.LastPanelData = data
		}
	}
	if err := c.sessions.SaveCheckpoint(ctx, rc.SessionID, cp); err != nil {
		slog.Error("Session checkpoint failed",
			"session_id", rc.SessionID, "stage", stage, "error", err)
		rc.Emit(events.Event{Type: events.TypeError, Payload: events.ErrorPayload{
			Message: "Progress could not be saved. Please retry.",
		}})
	}
}

// loadInterviewTranscript folds the session's answered questions into the
// state before the craftsman runs. Best-effort.
func (c *Coordinator) loadInterviewTranscript(ctx context.Context, rc *RunConfig, state *models.PipelineState) {
	if c.questions == nil {
		return
	}
	entries, err := c.questions.Transcript(ctx, rc.SessionID)
	if err != nil {
		slog.Warn("Interview transcript load failed",
			"session_id", rc.SessionID, "error", err)
		return
	}
	if len(entries) == 0 {
		return
	}
	state.Update(func(s *models.PipelineState) { s.InterviewTranscript = entries })
}

// reviewSections walks the written sections in plan order and holds a
// section_review_<name> gate for each in deep_dive mode. An approval locks
// the section against automated revision; a response carrying replacement
// content is applied first.
func (c *Coordinator) reviewSections(ctx context.Context, rc *RunConfig, state *models.PipelineState) error {
	if state.Preferences.WorkflowMode != models.ModeDeepDive || rc.WaitForUser == nil {
		return nil
	}
	var names []string
	state.Read(func(s *models.PipelineState) { names = orderedSectionNames(s) })
	if len(names) == 0 {
		return nil
	}

	phaseStart := time.Now()
	advanceTo(state, models.StageSectionReview)
	rc.Emit(stageStart(models.StageSectionReview, "Reviewing each section with you"))
	for _, name := range names {
		resp, err := rc.WaitForUser(ctx, "section_review_"+name)
		if err != nil {
			return fmt.Errorf("section review for %s interrupted: %w", name, err)
		}
		applySectionReview(state, name, resp)
	}
	msg := fmt.Sprintf("%d sections reviewed", len(names))
	rc.Emit(stageComplete(models.StageSectionReview, msg, phaseStart))
	c.checkpointTurn(ctx, rc, state, msg, "", nil)
	return nil
}

// applySectionReview folds one section_review gate answer in. Accepted
// shapes: a bare true, or a map with an optional content replacement and an
// approved flag (absent means approved).
func applySectionReview(state *models.PipelineState, name string, resp any) {
	approved := false
	switch v := resp.(type) {
	case bool:
		approved = v
	case map[string]any:
		if content, ok := v["content"].(string); ok && content != "" {
			if sec := state.Section(name); sec != nil {
				edited := *sec
				edited.Content = content
				state.SetSection(name, &edited)
			}
		}
		flag, ok := v["approved"].(bool)
		approved = !ok || flag
	}
	if !approved {
		return
	}
	if err := state.ApproveSection(name); err != nil {
		slog.Warn("Section approval skipped", "section", name, "error", err)
	}
}

// finishUsage folds the tracker's final totals and the blended cost estimate
// into the state. Safe to call when the tracker entry is already gone.
func (c *Coordinator) finishUsage(state *models.PipelineState) {
	totals := c.tracker.Stop(state.SessionID)
	state.SetUsage(models.TokenUsage{
		InputTokens:      totals.InputTokens,
		OutputTokens:     totals.OutputTokens,
		EstimatedCostUSD: usage.BlendedCostUSD(totals.InputTokens, totals.OutputTokens, c.cfg.Pricing),
	})
}

// harvestSections merges every scratchpad key prefixed section_ whose value
// carries a content field into the pipeline state.
func harvestSections(state *models.PipelineState, sp *agent.Scratchpad) {
	for key, value := range sp.Snapshot() {
		name, ok := cutSectionPrefix(key)
		if !ok {
			continue
		}
		switch v := value.(type) {
		case map[string]any:
			content, _ := v["content"].(string)
			if content == "" {
				continue
			}
			state.SetSection(name, &models.Section{
				Content:               content,
				KeywordsUsed:          stringSlice(v["keywords_used"]),
				RequirementsAddressed: stringSlice(v["requirements_addressed"]),
				EvidenceIDsUsed:       stringSlice(v["evidence_ids_used"]),
			})
		case *models.Section:
			if v != nil && v.Content != "" {
				state.SetSection(name, v)
			}
		}
	}
}

func cutSectionPrefix(key string) (string, bool) {
	const prefix = "section_"
	if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
		return "", false
	}
	return key[len(prefix):], true
}

func stringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		var out []string
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// applyBlueprintEdits folds the architect_review response into the blueprint.
// Accepted shapes: a bare true (approve as-is), or a map with an edits object
// carrying positioning_angle and section_plan.order / section_order.
func applyBlueprintEdits(state *models.PipelineState, resp any) {
	m, ok := resp.(map[string]any)
	if !ok {
		return
	}
	edits, ok := m["edits"].(map[string]any)
	if !ok {
		return
	}
	state.Update(func(s *models.PipelineState) {
		if s.Architect == nil {
			return
		}
		if angle, ok := edits["positioning_angle"].(string); ok && angle != "" {
			s.Architect.PositioningAngle = angle
		}
		order := stringSlice(edits["section_order"])
		if plan, ok := edits["section_plan"].(map[string]any); ok {
			if planned := stringSlice(plan["order"]); len(planned) > 0 {
				order = planned
			}
		}
		if len(order) > 0 {
			s.Architect.SectionPlan.Order = order
		}
	})
}

// emitQualityScores re-emits the producer's verdict with detailed findings
// harvested from its scratchpad.
func emitQualityScores(emit Emitter, state *models.PipelineState, sp *agent.Scratchpad) {
	payload := events.QualityScoresPayload{Scores: map[string]float64{}}
	state.Read(func(s *models.PipelineState) {
		if s.Quality != nil {
			payload.Scores = s.Quality.Scores
		}
	})
	if raw, ok := sp.Get("quality_details"); ok {
		if details, ok := raw.(map[string]any); ok {
			payload.Details = &models.QualityDetails{
				NarrativeCoherence: stringOr(details["narrative_coherence"]),
				HumanizeIssues:     stringSlice(details["humanize_issues"]),
				CoherenceIssues:    stringSlice(details["coherence_issues"]),
				ATSFindings:        stringSlice(details["ats_findings"]),
			}
		}
	}
	emit(events.Event{Type: events.TypeQualityScores, Payload: payload})
}

func stringOr(v any) string {
	s, _ := v.(string)
	return s
}

func contactMap(state *models.PipelineState) map[string]string {
	out := map[string]string{}
	state.Read(func(s *models.PipelineState) {
		if s.Intake == nil {
			return
		}
		fields := map[string]string{
			"name":     s.Intake.Contact.Name,
			"email":    s.Intake.Contact.Email,
			"phone":    s.Intake.Contact.Phone,
			"location": s.Intake.Contact.Location,
			"linkedin": s.Intake.Contact.LinkedIn,
		}
		for k, v := range fields {
			if v != "" {
				out[k] = v
			}
		}
	})
	return out
}

// savePositioningProfile upserts the strategist's positioning analysis for
// reuse by future sessions. Best-effort.
func (c *Coordinator) savePositioningProfile(ctx context.Context, state *models.PipelineState) {
	if c.profiles == nil {
		return
	}
	var data map[string]any
	state.Read(func(s *models.PipelineState) {
		if s.Positioning == nil {
			return
		}
		data = map[string]any{
			"target_role":     s.Positioning.TargetRole,
			"angle":           s.Positioning.Angle,
			"strengths":       s.Positioning.Strengths,
			"differentiators": s.Positioning.Differentia,
		}
		if s.Positioning.Extra != nil {
			data["extra"] = s.Positioning.Extra
		}
	})
	if data == nil {
		return
	}
	if err := c.profiles.Upsert(ctx, state.UserID, data); err != nil {
		slog.Warn("Positioning profile save failed",
			"session_id", state.SessionID, "user_id", state.UserID, "error", err)
	}
}

// persistRun writes the final usage and status. Failures are logged and
// surfaced to the user as a transparency note; the run still succeeds.
func (c *Coordinator) persistRun(ctx context.Context, rc *RunConfig, state *models.PipelineState) {
	if c.sessions == nil {
		return
	}
	var u models.TokenUsage
	state.Read(func(s *models.PipelineState) { u = s.Usage })

	if err := c.sessions.UpdateUsage(ctx, rc.SessionID, u); err != nil {
		slog.Error("Session usage persist failed", "session_id", rc.SessionID, "error", err)
	}
	if err := c.sessions.UpdateStatus(ctx, rc.SessionID, models.SessionComplete, string(models.StageComplete)); err != nil {
		slog.Error("Session status persist failed", "session_id", rc.SessionID, "error", err)
		rc.Emit(transparency(models.StageComplete,
			"Your resume was generated but changes may not persist. Please retry."))
	}
}

func (c *Coordinator) persistStatus(ctx context.Context, sessionID string, status models.SessionStatus, stage models.Stage) {
	if c.sessions == nil {
		return
	}
	if err := c.sessions.UpdateStatus(ctx, sessionID, status, string(stage)); err != nil {
		slog.Error("Session status persist failed", "session_id", sessionID, "error", err)
	}
}

// saveMasterResume merges the run's output and evidence into the user's
// master resume. Strictly best-effort.
func (c *Coordinator) saveMasterResume(ctx context.Context, rc *RunConfig, state *models.PipelineState, resume *models.FinalResume) {
	if c.resumes == nil {
		return
	}
	merged := &models.MasterResume{
		Summary:         resume.Summary,
		Skills:          resume.Skills,
		RawText:         resume.FullText,
		SourceSessionID: rc.SessionID,
		EvidenceItems:   CollectEvidence(state, rc.SessionID),
	}
	state.Read(func(s *models.PipelineState) {
		if s.Intake != nil {
			merged.Contact = s.Intake.Contact
			merged.Experience = s.Intake.Roles
			merged.Education = s.Intake.Education
			merged.Certifications = s.Intake.Certifications
		}
	})
	record := &models.SessionRecord{ID: rc.SessionID, UserID: rc.UserID, MasterResumeID: rc.MasterResumeID}
	if err := c.resumes.Save(ctx, record, merged); err != nil {
		slog.Warn("Master resume save failed", "session_id", rc.SessionID, "error", err)
	}
}

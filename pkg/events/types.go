// Package events defines the typed server-sent events the pipeline emits and
// the per-session stream registry that fans them out to connected clients.
package events

import (
	"github.com/Waconiajohn/resume-agent-sub002/pkg/models"
)

// EventType tags an SSE frame; it is written as the frame's `event:` field.
type EventType string

const (
	TypeConnected               EventType = "connected"
	TypeSessionRestore          EventType = "session_restore"
	TypeStageStart              EventType = "stage_start"
	TypeStageComplete           EventType = "stage_complete"
	TypeTransparency            EventType = "transparency"
	TypeQuestionnaire           EventType = "questionnaire"
	TypeQualityScores           EventType = "quality_scores"
	TypeRevisionStart           EventType = "revision_start"
	TypeBlueprintReady          EventType = "blueprint_ready"
	TypeWorkflowReplanRequested EventType = "workflow_replan_requested"
	TypeWorkflowReplanStarted   EventType = "workflow_replan_started"
	TypeWorkflowReplanCompleted EventType = "workflow_replan_completed"
	TypePipelineComplete        EventType = "pipeline_complete"
	TypePipelineError           EventType = "pipeline_error"
	TypeError                   EventType = "error"
	TypeHeartbeat               EventType = "heartbeat"
)

// Event is one frame on a session's stream.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Payload   any       `json:"payload,omitempty"`
}

// ConnectedPayload acknowledges a new stream.
type ConnectedPayload struct {
	SessionID string `json:"session_id"`
}

// SessionRestorePayload replays durable session state on (re)connect.
// Messages excludes internal tool-result payloads and is capped by the
// configured restore limit.
type SessionRestorePayload struct {
	Messages               []map[string]any `json:"messages"`
	CurrentPhase           string           `json:"current_phase"`
	PendingToolCallID      string           `json:"pending_tool_call_id,omitempty"`
	PendingPhaseTransition string           `json:"pending_phase_transition,omitempty"`
	LastPanelType          string           `json:"last_panel_type,omitempty"`
	LastPanelData          map[string]any   `json:"last_panel_data,omitempty"`
	PipelineStatus         string           `json:"pipeline_status,omitempty"`
}

// StageStartPayload marks a stage beginning.
type StageStartPayload struct {
	Stage   models.Stage `json:"stage"`
	Message string       `json:"message"`
}

// StageCompletePayload marks a stage finishing.
type StageCompletePayload struct {
	Stage      models.Stage `json:"stage"`
	Message    string       `json:"message"`
	DurationMS int64        `json:"duration_ms"`
}

// TransparencyPayload is a human-readable progress note.
type TransparencyPayload struct {
	Stage   models.Stage `json:"stage"`
	Message string       `json:"message"`
}

// QualityScoresPayload carries the quality review outcome with optional
// detailed findings.
type QualityScoresPayload struct {
	Scores  map[string]float64     `json:"scores"`
	Details *models.QualityDetails `json:"details,omitempty"`
}

// RevisionStartPayload announces a revision batch.
type RevisionStartPayload struct {
	Instructions []models.RevisionInstruction `json:"instructions"`
}

// WorkflowReplanPayload carries the replan/restart protocol fields. The same
// shape serves the requested, started, and completed variants.
type WorkflowReplanPayload struct {
	Reason               string       `json:"reason"`
	BenchmarkEditVersion int          `json:"benchmark_edit_version"`
	RebuildFromStage     models.Stage `json:"rebuild_from_stage"`
	RequiresRestart      bool         `json:"requires_restart"`
	CurrentStage         models.Stage `json:"current_stage"`
}

// PipelineCompletePayload carries the structured final resume.
type PipelineCompletePayload struct {
	SessionID        string                   `json:"session_id"`
	ContactInfo      map[string]string        `json:"contact_info,omitempty"`
	CompanyName      string                   `json:"company_name"`
	Resume           *models.FinalResume      `json:"resume"`
	ExportValidation *models.ExportValidation `json:"export_validation"`
}

// PipelineErrorPayload reports a fatal run failure.
type PipelineErrorPayload struct {
	Stage models.Stage `json:"stage"`
	Error string       `json:"error"`
}

// ErrorPayload asks the client to act on a recoverable server-side problem.
type ErrorPayload struct {
	Message string `json:"message"`
}

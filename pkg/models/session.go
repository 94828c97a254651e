package models

import (
	"encoding/json"
	"time"
)

// SessionStatus is the lifecycle state of a session row.
type SessionStatus string

// Session statuses.
const (
	SessionActive    SessionStatus = "active"
	SessionRunning   SessionStatus = "running"
	SessionComplete  SessionStatus = "complete"
	SessionFailed    SessionStatus = "failed"
	SessionCancelled SessionStatus = "cancelled"
)

// ChatMessage is one entry in the session's durable message log.
type ChatMessage struct {
	Role      string          `json:"role"` // user, assistant, tool_result
	Content   string          `json:"content"`
	Panel     string          `json:"panel,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	Meta      json.RawMessage `json:"meta,omitempty"`
}

// SessionRecord mirrors the session row the coordinator reads and writes.
type SessionRecord struct {
	ID                     string
	UserID                 string
	Status                 SessionStatus
	CurrentPhase           string
	PipelineStage          string
	PipelineStatus         string
	Messages               []ChatMessage
	PendingToolCallID      string
	PendingPhaseTransition string
	PendingGate            string
	PendingGateData        map[string]any
	LastPanelType          string
	LastPanelData          json.RawMessage
	InputTokensUsed        int64
	OutputTokensUsed       int64
	EstimatedCostUSD       float64
	PositioningProfileID   string
	MasterResumeID         string
	UpdatedAt              time.Time
}

// Checkpoint is the durable subset written after every processing turn.
type Checkpoint struct {
	Messages               []ChatMessage
	CurrentPhase           string
	PendingToolCallID      string
	PendingPhaseTransition string
	LastPanelType          string
	LastPanelData          json.RawMessage
	PipelineStatus         string
	PipelineStage          string
}

// WorkflowArtifact is one append-only artifact row.
type WorkflowArtifact struct {
	SessionID    string          `json:"session_id"`
	NodeKey      string          `json:"node_key"`
	ArtifactType string          `json:"artifact_type"`
	Version      int             `json:"version"`
	Payload      json.RawMessage `json:"payload"`
	CreatedBy    string          `json:"created_by"`
	CreatedAt    time.Time       `json:"created_at"`
}

// QuestionAnswer is one persisted questionnaire answer, upserted by
// (session_id, question_id).
type QuestionAnswer struct {
	SessionID  string    `json:"session_id"`
	QuestionID string    `json:"question_id"`
	Question   string    `json:"question,omitempty"`
	Category   string    `json:"category,omitempty"`
	Answer     string    `json:"answer"`
	Skipped    bool      `json:"skipped"`
	Deferred   bool      `json:"deferred"`
	AnsweredAt time.Time `json:"answered_at"`
}

// StartRequest is the persisted pipeline_start_request artifact used by
// the restart endpoint to re-run a session with the same inputs.
type StartRequest struct {
	SessionID      string          `json:"session_id"`
	UserID         string          `json:"user_id"`
	RawResumeText  string          `json:"raw_resume_text"`
	JobDescription string          `json:"job_description"`
	CompanyName    string          `json:"company_name"`
	Preferences    UserPreferences `json:"preferences"`
	MasterResumeID string          `json:"master_resume_id,omitempty"`
}

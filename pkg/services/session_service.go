package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Waconiajohn/resume-agent-sub002/pkg/models"
)

// SessionService reads and writes the session row.
type SessionService struct {
	db *sql.DB
}

// NewSessionService creates the service.
func NewSessionService(db *sql.DB) *SessionService {
	return &SessionService{db: db}
}

// Create inserts a fresh session row.
func (s *SessionService) Create(ctx context.Context, rec *models.SessionRecord) error {
	messages, err := json.Marshal(rec.Messages)
	if err != nil {
		return fmt.Errorf("failed to marshal messages: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, status, current_phase, messages)
		VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, rec.UserID, rec.Status, rec.CurrentPhase, messages)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// Get loads a session row.
func (s *SessionService) Get(ctx context.Context, id string) (*models.SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, status, current_phase, pipeline_stage, pipeline_status,
		       messages, pending_tool_call_id, pending_phase_transition,
		       pending_gate, pending_gate_data, last_panel_type, last_panel_data,
		       input_tokens_used, output_tokens_used, estimated_cost_usd,
		       positioning_profile_id, master_resume_id, updated_at
		FROM sessions WHERE id = $1`, id)

	var (
		rec                               models.SessionRecord
		messages, gateData, panelData     []byte
		pendingToolCall, pendingPhase     sql.NullString
		pendingGate, panelType            sql.NullString
		positioningProfile, masterResume  sql.NullString
	)
	err := row.Scan(&rec.ID, &rec.UserID, &rec.Status, &rec.CurrentPhase,
		&rec.PipelineStage, &rec.PipelineStatus, &messages,
		&pendingToolCall, &pendingPhase, &pendingGate, &gateData,
		&panelType, &panelData,
		&rec.InputTokensUsed, &rec.OutputTokensUsed, &rec.EstimatedCostUSD,
		&positioningProfile, &masterResume, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}

	if len(messages) > 0 {
		if err := json.Unmarshal(messages, &rec.Messages); err != nil {
			return nil, fmt.Errorf("failed to decode session messages: %w", err)
		}
	}
	if len(gateData) > 0 {
		if err := json.Unmarshal(gateData, &rec.PendingGateData); err != nil {
			// A corrupt gate payload must not make the session unreadable.
			rec.PendingGateData = map[string]any{}
		}
	}
	rec.PendingToolCallID = pendingToolCall.String
	rec.PendingPhaseTransition = pendingPhase.String
	rec.PendingGate = pendingGate.String
	rec.LastPanelType = panelType.String
	rec.LastPanelData = panelData
	rec.PositioningProfileID = positioningProfile.String
	rec.MasterResumeID = masterResume.String
	return &rec, nil
}

// GetGateState loads just the pending gate name and payload.
func (s *SessionService) GetGateState(ctx context.Context, sessionID string) (string, map[string]any, error) {
	var gateName sql.NullString
	var data []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT pending_gate, pending_gate_data FROM sessions WHERE id = $1`,
		sessionID).Scan(&gateName, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return "", nil, fmt.Errorf("failed to load gate state: %w", err)
	}
	payload := map[string]any{}
	if len(data) > 0 {
		_ = json.Unmarshal(data, &payload)
	}
	return gateName.String, payload, nil
}

// SaveCheckpoint writes the durable processing-turn snapshot.
func (s *SessionService) SaveCheckpoint(ctx context.Context, sessionID string, cp *models.Checkpoint) error {
	messages, err := json.Marshal(cp.Messages)
	if err != nil {
		return fmt.Errorf("failed to marshal messages: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE sessions SET
			messages = $1,
			current_phase = $2,
			pending_tool_call_id = NULLIF($3, ''),
			pending_phase_transition = NULLIF($4, ''),
			last_panel_type = NULLIF($5, ''),
			last_panel_data = $6,
			pipeline_status = $7,
			pipeline_stage = $8,
			updated_at = now()
		WHERE id = $9`,
		messages, cp.CurrentPhase, cp.PendingToolCallID, cp.PendingPhaseTransition,
		cp.LastPanelType, nullableJSON(cp.LastPanelData), cp.PipelineStatus,
		cp.PipelineStage, sessionID)
	if err != nil {
		return fmt.Errorf("failed to checkpoint session %s: %w", sessionID, err)
	}
	return nil
}

// SetPendingGate installs a new pending gate and its payload.
func (s *SessionService) SetPendingGate(ctx context.Context, sessionID, gateName string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal gate payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE sessions SET pending_gate = $1, pending_gate_data = $2, updated_at = now()
		WHERE id = $3`,
		gateName, data, sessionID)
	if err != nil {
		return fmt.Errorf("failed to set pending gate: %w", err)
	}
	return nil
}

// UpdateGateData writes the gate payload conditionally: the update only
// applies while the session's pending gate is still expectedGate. Returns
// ErrGateMismatch when no row matched, which callers use to route late
// responses into the buffered queue instead.
func (s *SessionService) UpdateGateData(ctx context.Context, sessionID, expectedGate string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal gate payload: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET pending_gate_data = $1, updated_at = now()
		WHERE id = $2 AND pending_gate = $3`,
		data, sessionID, expectedGate)
	if err != nil {
		return fmt.Errorf("failed to update gate payload: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrGateMismatch
	}
	return nil
}

// SaveGatePayload writes the gate payload unconditionally. Used for queue
// maintenance while no specific gate is expected.
func (s *SessionService) SaveGatePayload(ctx context.Context, sessionID string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal gate payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE sessions SET pending_gate_data = $1, updated_at = now() WHERE id = $2`,
		data, sessionID)
	if err != nil {
		return fmt.Errorf("failed to save gate payload: %w", err)
	}
	return nil
}

// ClearPendingGate removes the gate name while keeping the payload, whose
// queue may still hold buffered responses.
func (s *SessionService) ClearPendingGate(ctx context.Context, sessionID string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal gate payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE sessions SET pending_gate = NULL, pending_gate_data = $1, updated_at = now()
		WHERE id = $2`,
		data, sessionID)
	if err != nil {
		return fmt.Errorf("failed to clear pending gate: %w", err)
	}
	return nil
}

// UpdateStatus writes the pipeline status and stage.
func (s *SessionService) UpdateStatus(ctx context.Context, sessionID string, status models.SessionStatus, stage string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = $1, pipeline_status = $2, pipeline_stage = $3, updated_at = now()
		WHERE id = $4`,
		status, string(status), stage, sessionID)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	return nil
}

// UpdateUsage writes final token totals and the cost estimate.
func (s *SessionService) UpdateUsage(ctx context.Context, sessionID string, usage models.TokenUsage) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET input_tokens_used = $1, output_tokens_used = $2,
			estimated_cost_usd = $3, updated_at = now()
		WHERE id = $4`,
		usage.InputTokens, usage.OutputTokens, usage.EstimatedCostUSD, sessionID)
	if err != nil {
		return fmt.Errorf("failed to update session usage: %w", err)
	}
	return nil
}

// LinkMasterResume points the session at its master resume row.
func (s *SessionService) LinkMasterResume(ctx context.Context, sessionID, resumeID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET master_resume_id = $1, updated_at = now() WHERE id = $2`,
		resumeID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to link master resume: %w", err)
	}
	return nil
}

// LinkPositioningProfile points the session at the user's positioning profile.
func (s *SessionService) LinkPositioningProfile(ctx context.Context, sessionID, profileID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET positioning_profile_id = $1, updated_at = now() WHERE id = $2`,
		profileID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to link positioning profile: %w", err)
	}
	return nil
}

// TouchLiveness bumps updated_at; the SSE heartbeat calls this only while
// the session is in the running set.
func (s *SessionService) TouchLiveness(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET updated_at = now() WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to touch session liveness: %w", err)
	}
	return nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}

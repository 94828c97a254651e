package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Waconiajohn/resume-agent-sub002/pkg/models"
)

func newMockDB(t *testing.T) (*SessionService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSessionService(db), mock
}

func TestGetSessionNotFound(t *testing.T) {
	svc, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT .+ FROM sessions WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSessionDecodesPayloads(t *testing.T) {
	svc, mock := newMockDB(t)
	cols := []string{
		"id", "user_id", "status", "current_phase", "pipeline_stage", "pipeline_status",
		"messages", "pending_tool_call_id", "pending_phase_transition",
		"pending_gate", "pending_gate_data", "last_panel_type", "last_panel_data",
		"input_tokens_used", "output_tokens_used", "estimated_cost_usd",
		"positioning_profile_id", "master_resume_id", "updated_at",
	}
	mock.ExpectQuery(`SELECT .+ FROM sessions WHERE id = \$1`).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"s1", "u1", "active", "pipeline", "architect", "running",
			[]byte(`[{"role":"user","content":"hi"}]`), nil, nil,
			"architect_review", []byte(`{"gate":"architect_review"}`), nil, nil,
			int64(100), int64(40), 0.05, nil, "mr-1", time.Now()))

	rec, err := svc.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "u1", rec.UserID)
	require.Len(t, rec.Messages, 1)
	assert.Equal(t, "hi", rec.Messages[0].Content)
	assert.Equal(t, "architect_review", rec.PendingGate)
	assert.Equal(t, "architect_review", rec.PendingGateData["gate"])
	assert.Equal(t, "mr-1", rec.MasterResumeID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateGateDataConditional(t *testing.T) {
	svc, mock := newMockDB(t)
	mock.ExpectExec(`UPDATE sessions SET pending_gate_data = .+ WHERE id = \$2 AND pending_gate = \$3`).
		WithArgs(sqlmock.AnyArg(), "s1", "architect_review").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := svc.UpdateGateData(context.Background(), "s1", "architect_review",
		map[string]any{"gate": "architect_review", "responded_at": "2026-01-01T00:00:00Z"})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateGateDataMismatch(t *testing.T) {
	svc, mock := newMockDB(t)
	mock.ExpectExec(`UPDATE sessions SET pending_gate_data = .+ AND pending_gate = \$3`).
		WithArgs(sqlmock.AnyArg(), "s1", "architect_review").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := svc.UpdateGateData(context.Background(), "s1", "architect_review", map[string]any{})
	assert.ErrorIs(t, err, ErrGateMismatch)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveCheckpoint(t *testing.T) {
	svc, mock := newMockDB(t)
	mock.ExpectExec(`UPDATE sessions SET\s+messages = \$1`).
		WithArgs(sqlmock.AnyArg(), "pipeline", "", "", "", nil, "running", "section_writing", "s1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := svc.SaveCheckpoint(context.Background(), "s1", &models.Checkpoint{
		Messages:       []models.ChatMessage{{Role: "user", Content: "hello"}},
		CurrentPhase:   "pipeline",
		PipelineStatus: "running",
		PipelineStage:  "section_writing",
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateUsage(t *testing.T) {
	svc, mock := newMockDB(t)
	mock.ExpectExec(`UPDATE sessions SET input_tokens_used = \$1`).
		WithArgs(int64(1000), int64(400), 0.0123, "s1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := svc.UpdateUsage(context.Background(), "s1", models.TokenUsage{
		InputTokens: 1000, OutputTokens: 400, EstimatedCostUSD: 0.0123,
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/Waconiajohn/resume-agent-sub002/pkg/events"
	"github.com/Waconiajohn/resume-agent-sub002/pkg/models"
)

// QuestionAnswerInput is one submitted questionnaire answer.
type QuestionAnswerInput struct {
	QuestionID string `json:"question_id"`
	Question   string `json:"question,omitempty"`
	Category   string `json:"category,omitempty"`
	Answer     string `json:"answer"`
	Skipped    bool   `json:"skipped"`
	Deferred   bool   `json:"deferred"`
}

// BatchSubmitRequest is the HTTP request body for
// POST /workflow/:sessionId/questions/batch-submit.
type BatchSubmitRequest struct {
	Answers []QuestionAnswerInput `json:"answers"`
}

// batchSubmitQuestionsHandler persists a batch of questionnaire answers and,
// when a questionnaire gate is pending, forwards the submission to it so the
// suspended pipeline resumes.
func (s *Server) batchSubmitQuestionsHandler(c *echo.Context) error {
	sessionID := c.Param("sessionId")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	var req BatchSubmitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.Answers) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "answers are required")
	}

	answers := make([]models.QuestionAnswer, 0, len(req.Answers))
	for _, a := range req.Answers {
		if a.QuestionID == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "question_id is required for every answer")
		}
		answers = append(answers, models.QuestionAnswer{
			SessionID:  sessionID,
			QuestionID: a.QuestionID,
			Question:   a.Question,
			Category:   a.Category,
			Answer:     a.Answer,
			Skipped:    a.Skipped,
			Deferred:   a.Deferred,
		})
	}
	if err := s.questions.UpsertBatch(c.Request().Context(), answers); err != nil {
		return mapServiceError(err)
	}

	resp := map[string]any{"status": "saved", "count": len(answers)}

	// Forwarding to the pending gate is best-effort: the answers are already
	// durable and the pipeline's poll fallback will find them if needed.
	sess, err := s.sessions.Get(c.Request().Context(), sessionID)
	if err == nil && strings.HasPrefix(sess.PendingGate, "questionnaire") {
		status, err := s.gates.Respond(c.Request().Context(), sessionID, sess.PendingGate,
			map[string]any{"answers": req.Answers})
		if err != nil {
			slog.Warn("Failed to forward answers to pending gate",
				"session_id", sessionID, "gate", sess.PendingGate, "error", err)
		} else {
			resp["delivery"] = string(status)
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// DeferQuestionsRequest is the HTTP request body for
// POST /workflow/:sessionId/questions/defer.
type DeferQuestionsRequest struct {
	QuestionIDs []string `json:"question_ids"`
}

// deferQuestionsHandler marks questions deferred without answers.
func (s *Server) deferQuestionsHandler(c *echo.Context) error {
	sessionID := c.Param("sessionId")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	var req DeferQuestionsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.QuestionIDs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "question_ids are required")
	}

	if err := s.questions.Defer(c.Request().Context(), sessionID, req.QuestionIDs); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "deferred", "count": len(req.QuestionIDs)})
}

// UpdatePreferencesRequest is the HTTP request body for
// POST /workflow/:sessionId/preferences.
type UpdatePreferencesRequest struct {
	WorkflowMode          *string `json:"workflow_mode,omitempty"`
	MinimumEvidenceTarget *int    `json:"minimum_evidence_target,omitempty"`
}

// updatePreferencesHandler records a preferences patch as a workflow artifact.
func (s *Server) updatePreferencesHandler(c *echo.Context) error {
	sessionID := c.Param("sessionId")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	var req UpdatePreferencesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.WorkflowMode == nil && req.MinimumEvidenceTarget == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "at least one preference field is required")
	}
	if req.WorkflowMode != nil {
		switch models.WorkflowMode(*req.WorkflowMode) {
		case models.ModeFastDraft, models.ModeBalanced, models.ModeDeepDive:
		default:
			return echo.NewHTTPError(http.StatusBadRequest,
				"workflow_mode must be fast_draft, balanced, or deep_dive")
		}
	}
	if req.MinimumEvidenceTarget != nil && *req.MinimumEvidenceTarget < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "minimum_evidence_target must not be negative")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return mapServiceError(err)
	}
	artifact := &models.WorkflowArtifact{
		SessionID:    sessionID,
		NodeKey:      "preferences",
		ArtifactType: "user_preferences",
		Payload:      payload,
		CreatedBy:    extractUser(c),
	}
	if err := s.artifacts.Append(c.Request().Context(), artifact); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "saved", "version": artifact.Version})
}

// BenchmarkAssumptionsRequest is the HTTP request body for
// POST /workflow/:sessionId/benchmark/assumptions.
type BenchmarkAssumptionsRequest struct {
	Assumptions    map[string]any `json:"assumptions"`
	ConfirmRebuild bool           `json:"confirm_rebuild"`
	Reason         string         `json:"reason,omitempty"`
}

// editBenchmarkHandler handles benchmark assumption edits. Edits made after
// section writing has started invalidate written sections, so they require an
// explicit confirm_rebuild and run the replan protocol.
func (s *Server) editBenchmarkHandler(c *echo.Context) error {
	sessionID := c.Param("sessionId")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	var req BenchmarkAssumptionsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.Assumptions) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "assumptions are required")
	}

	sess, err := s.sessions.Get(c.Request().Context(), sessionID)
	if err != nil {
		return mapServiceError(err)
	}

	currentStage := models.Stage(sess.PipelineStage)
	writingStarted := currentStage.Valid() &&
		currentStage.Index() >= models.StageSectionWriting.Index()

	if writingStarted && !req.ConfirmRebuild {
		s.streams.Publish(sessionID, events.Event{
			Type: events.TypeWorkflowReplanRequested,
			Payload: events.WorkflowReplanPayload{
				Reason:           req.Reason,
				RebuildFromStage: models.StageSectionWriting,
				RequiresRestart:  true,
				CurrentStage:     currentStage,
			},
		})
		return echo.NewHTTPError(http.StatusConflict,
			"section writing has started; benchmark edits require confirm_rebuild=true")
	}

	if writingStarted {
		s.streams.Publish(sessionID, events.Event{
			Type: events.TypeWorkflowReplanStarted,
			Payload: events.WorkflowReplanPayload{
				Reason:           req.Reason,
				RebuildFromStage: models.StageSectionWriting,
				RequiresRestart:  true,
				CurrentStage:     currentStage,
			},
		})
	}

	payload, err := json.Marshal(req.Assumptions)
	if err != nil {
		return mapServiceError(err)
	}
	artifact := &models.WorkflowArtifact{
		SessionID:    sessionID,
		NodeKey:      "benchmark_assumptions",
		ArtifactType: "benchmark_assumptions",
		Payload:      payload,
		CreatedBy:    extractUser(c),
	}
	if err := s.artifacts.Append(c.Request().Context(), artifact); err != nil {
		return mapServiceError(err)
	}

	if writingStarted {
		s.streams.Publish(sessionID, events.Event{
			Type: events.TypeWorkflowReplanCompleted,
			Payload: events.WorkflowReplanPayload{
				Reason:               req.Reason,
				BenchmarkEditVersion: artifact.Version,
				RebuildFromStage:     models.StageSectionWriting,
				RequiresRestart:      true,
				CurrentStage:         currentStage,
			},
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":                 "saved",
		"benchmark_edit_version": artifact.Version,
		"requires_restart":       writingStarted,
	})
}

// generateDraftNowHandler handles POST /workflow/:sessionId/generate-draft-now.
// It short-circuits the currently pending gate with an auto-response chosen by
// the gate's name prefix, letting the pipeline proceed straight to a draft.
func (s *Server) generateDraftNowHandler(c *echo.Context) error {
	sessionID := c.Param("sessionId")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	sess, err := s.sessions.Get(c.Request().Context(), sessionID)
	if err != nil {
		return mapServiceError(err)
	}
	if sess.PendingGate == "" {
		return echo.NewHTTPError(http.StatusConflict, "no gate is awaiting user input")
	}

	response, ok := autoResponseForGate(sess.PendingGate, sess.PendingGateData)
	if !ok {
		return echo.NewHTTPError(http.StatusConflict,
			"gate "+sess.PendingGate+" cannot be auto-answered")
	}

	status, err := s.gates.Respond(c.Request().Context(), sessionID, sess.PendingGate, response)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, GateResponseResult{Status: string(status), Gate: sess.PendingGate})
}

// autoResponseForGate picks the auto-response that unblocks the named gate.
func autoResponseForGate(gateName string, gateData map[string]any) (any, bool) {
	switch {
	case strings.HasPrefix(gateName, "positioning_q_"):
		return map[string]any{"deferred": true, "draft_now": true}, true
	case strings.HasPrefix(gateName, "questionnaire"):
		return skippedSubmission(gateData), true
	case gateName == "architect_review":
		return true, true
	case strings.HasPrefix(gateName, "section_review_"):
		return true, true
	case gateName == "positioning_profile_choice":
		return "fresh", true
	}
	return nil, false
}

// skippedSubmission synthesizes an all-skipped questionnaire submission from
// the questions stored in the gate payload, when present.
func skippedSubmission(gateData map[string]any) map[string]any {
	answers := []any{}
	if questions, ok := gateData["questions"].([]any); ok {
		for _, q := range questions {
			qm, ok := q.(map[string]any)
			if !ok {
				continue
			}
			id, _ := qm["question_id"].(string)
			if id == "" {
				id, _ = qm["id"].(string)
			}
			if id == "" {
				continue
			}
			answers = append(answers, map[string]any{"question_id": id, "skipped": true})
		}
	}
	return map[string]any{"answers": answers, "skipped_all": true}
}

// restartHandler handles POST /workflow/:sessionId/restart.
// It reloads the session's most recent pipeline_start_request artifact and
// launches a new run with the same inputs.
func (s *Server) restartHandler(c *echo.Context) error {
	sessionID := c.Param("sessionId")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	artifact, err := s.artifacts.LatestByType(c.Request().Context(), sessionID, "pipeline_start_request")
	if err != nil {
		return mapServiceError(err)
	}
	var start models.StartRequest
	if err := json.Unmarshal(artifact.Payload, &start); err != nil {
		slog.Error("Stored start request is not decodable",
			"session_id", sessionID, "version", artifact.Version, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "stored start request is corrupt")
	}

	if err := s.tracker.Acquire(sessionID, start.UserID); err != nil {
		return mapServiceError(err)
	}

	timeout := s.cfg.Pipeline.OverallTimeout + time.Minute
	go func() {
		defer s.tracker.Release(sessionID)
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.pipeline.Start(ctx, &start); err != nil {
			slog.Error("Pipeline restart failed",
				"session_id", sessionID, "user_id", start.UserID, "error", err)
		}
	}()

	return c.JSON(http.StatusAccepted, map[string]any{"status": "restarting", "version": artifact.Version})
}

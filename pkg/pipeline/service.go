package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Waconiajohn/resume-agent-sub002/pkg/events"
	"github.com/Waconiajohn/resume-agent-sub002/pkg/gate"
	"github.com/Waconiajohn/resume-agent-sub002/pkg/models"
)

// StartRequestArtifactType tags the persisted pipeline start request, which
// the restart endpoint replays.
const StartRequestArtifactType = "pipeline_start_request"

// Waiter suspends a run until the user answers the named gate.
type Waiter interface {
	WaitForUser(ctx context.Context, sessionID, gateName string) (any, error)
}

// Responder delivers a user answer to a pending gate.
type Responder interface {
	Respond(ctx context.Context, sessionID, gateName string, response any) (gate.DeliveryStatus, error)
}

// ResumeLoader loads a master resume for projection into a run.
type ResumeLoader interface {
	Get(ctx context.Context, id, userID string) (*models.MasterResume, error)
}

// ArtifactAppender persists workflow artifacts.
type ArtifactAppender interface {
	Append(ctx context.Context, a *models.WorkflowArtifact) error
}

// Checkpointer writes the durable processing-turn snapshot.
type Checkpointer interface {
	SaveCheckpoint(ctx context.Context, sessionID string, cp *models.Checkpoint) error
}

// Service bridges the HTTP layer to the coordinator. A session message either
// carries a start request, which launches a run, or free text, which answers
// the session's pending gate. Every turn is checkpointed to the session row
// so a reconnecting client can replay the transcript.
type Service struct {
	coord     *Coordinator
	streams   *events.StreamManager
	sessions  Checkpointer
	waiter    Waiter
	responder Responder
	resumes   ResumeLoader
	artifacts ArtifactAppender
}

// NewService wires the pipeline service. The checkpointer, resume loader, and
// artifact appender may be nil; the corresponding steps are skipped.
func NewService(coord *Coordinator, streams *events.StreamManager, sessions Checkpointer,
	waiter Waiter, responder Responder, resumes ResumeLoader, artifacts ArtifactAppender) *Service {
	return &Service{
		coord:     coord,
		streams:   streams,
		sessions:  sessions,
		waiter:    waiter,
		responder: responder,
		resumes:   resumes,
		artifacts: artifacts,
	}
}

// Process handles one message-processing turn. The user's message is appended
// to the durable transcript and checkpointed first; then a JSON body carrying
// raw_resume_text starts the pipeline, and anything else is routed to the
// session's pending gate.
func (s *Service) Process(ctx context.Context, sess *models.SessionRecord, content string) error {
	sess.Messages = append(sess.Messages, models.ChatMessage{
		Role:      "user",
		Content:   content,
		CreatedAt: time.Now().UTC(),
	})
	s.checkpointTurn(ctx, sess)

	var req models.StartRequest
	if err := json.Unmarshal([]byte(content), &req); err == nil && req.RawResumeText != "" {
		req.SessionID = sess.ID
		req.UserID = sess.UserID
		return s.start(ctx, &req, sess.Messages)
	}

	if sess.PendingGate != "" {
		status, err := s.responder.Respond(ctx, sess.ID, sess.PendingGate, content)
		if err != nil {
			return fmt.Errorf("failed to answer gate %s: %w", sess.PendingGate, err)
		}
		slog.Info("Message routed to pending gate",
			"session_id", sess.ID, "gate", sess.PendingGate, "delivery", status)
		return nil
	}
	return fmt.Errorf("message for session %s is neither a start request nor a gate answer", sess.ID)
}

// checkpointTurn writes the turn's durable fields back to the session row.
// On failure the error is logged and an error event asks the user to retry.
func (s *Service) checkpointTurn(ctx context.Context, sess *models.SessionRecord) {
	if s.sessions == nil {
		return
	}
	cp := &models.Checkpoint{
		Messages:               sess.Messages,
		CurrentPhase:           sess.CurrentPhase,
		PendingToolCallID:      sess.PendingToolCallID,
		PendingPhaseTransition: sess.PendingPhaseTransition,
		LastPanelType:          sess.LastPanelType,
		LastPanelData:          sess.LastPanelData,
		PipelineStatus:         sess.PipelineStatus,
		PipelineStage:          sess.PipelineStage,
	}
	if err := s.sessions.SaveCheckpoint(ctx, sess.ID, cp); err != nil {
		slog.Error("Turn checkpoint failed", "session_id", sess.ID, "error", err)
		s.streams.Emitter(sess.ID)(events.Event{Type: events.TypeError, Payload: events.ErrorPayload{
			Message: "Your message could not be saved. Please retry.",
		}})
	}
}

// Start launches a pipeline run from a start request. The request is recorded
// as an artifact first so the session can be restarted with the same inputs.
func (s *Service) Start(ctx context.Context, req *models.StartRequest) error {
	return s.start(ctx, req, nil)
}

func (s *Service) start(ctx context.Context, req *models.StartRequest, transcript []models.ChatMessage) error {
	if s.artifacts != nil {
		payload, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("failed to marshal start request: %w", err)
		}
		artifact := &models.WorkflowArtifact{
			SessionID:    req.SessionID,
			NodeKey:      "pipeline_start",
			ArtifactType: StartRequestArtifactType,
			Payload:      payload,
			CreatedBy:    req.UserID,
		}
		if err := s.artifacts.Append(ctx, artifact); err != nil {
			// The run can proceed; only a later restart is affected.
			slog.Warn("Failed to record start request",
				"session_id", req.SessionID, "error", err)
		}
	}

	rc := &RunConfig{
		SessionID:      req.SessionID,
		UserID:         req.UserID,
		RawResumeText:  req.RawResumeText,
		JobDescription: req.JobDescription,
		CompanyName:    req.CompanyName,
		Preferences:    req.Preferences,
		Messages:       transcript,
		Emit:           s.streams.Emitter(req.SessionID),
		WaitForUser: func(ctx context.Context, gateName string) (any, error) {
			return s.waiter.WaitForUser(ctx, req.SessionID, gateName)
		},
	}
	if req.MasterResumeID != "" && s.resumes != nil {
		mr, err := s.resumes.Get(ctx, req.MasterResumeID, req.UserID)
		if err != nil {
			slog.Warn("Failed to load master resume, starting without it",
				"session_id", req.SessionID, "master_resume_id", req.MasterResumeID, "error", err)
		} else {
			rc.MasterResume = mr
			rc.MasterResumeID = req.MasterResumeID
		}
	}

	_, err := s.coord.Run(ctx, rc)
	return err
}

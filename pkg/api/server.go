// Package api exposes the HTTP surface of the resume pipeline: the SSE event
// stream, message submission, gate responses, and the workflow control
// endpoints. Handlers depend on narrow interfaces over the service layer so
// they can be exercised with fakes.
package api

import (
	"context"

	echo "github.com/labstack/echo/v5"

	"github.com/Waconiajohn/resume-agent-sub002/pkg/config"
	"github.com/Waconiajohn/resume-agent-sub002/pkg/events"
	"github.com/Waconiajohn/resume-agent-sub002/pkg/gate"
	"github.com/Waconiajohn/resume-agent-sub002/pkg/guard"
	"github.com/Waconiajohn/resume-agent-sub002/pkg/models"
	"github.com/Waconiajohn/resume-agent-sub002/pkg/session"
)

// SessionStore is the slice of the session service the handlers read.
type SessionStore interface {
	Get(ctx context.Context, id string) (*models.SessionRecord, error)
	TouchLiveness(ctx context.Context, sessionID string) error
}

// GateResponder delivers user answers to pending gates.
type GateResponder interface {
	Respond(ctx context.Context, sessionID, gateName string, response any) (gate.DeliveryStatus, error)
}

// QuestionStore persists questionnaire answers.
type QuestionStore interface {
	UpsertBatch(ctx context.Context, answers []models.QuestionAnswer) error
	Defer(ctx context.Context, sessionID string, questionIDs []string) error
}

// ArtifactStore persists append-only workflow artifacts.
type ArtifactStore interface {
	Append(ctx context.Context, a *models.WorkflowArtifact) error
	LatestByType(ctx context.Context, sessionID, artifactType string) (*models.WorkflowArtifact, error)
}

// MessageProcessor runs one message-processing turn for a session. The
// handler invokes it asynchronously while holding the session's processing
// slot.
type MessageProcessor interface {
	Process(ctx context.Context, sess *models.SessionRecord, content string) error
}

// PipelineStarter launches a pipeline run from a persisted start request.
type PipelineStarter interface {
	Start(ctx context.Context, req *models.StartRequest) error
}

// Server holds the HTTP handlers and their collaborators.
type Server struct {
	cfg       *config.Config
	sessions  SessionStore
	gates     GateResponder
	questions QuestionStore
	artifacts ArtifactStore
	processor MessageProcessor
	pipeline  PipelineStarter
	streams   *events.StreamManager
	running   *session.RunningSet
	tracker   *session.ProcessingTracker
	limiter   guard.RateLimiter
	idem      *guard.IdempotencyCache
}

// Deps bundles the server's collaborators.
type Deps struct {
	Sessions  SessionStore
	Gates     GateResponder
	Questions QuestionStore
	Artifacts ArtifactStore
	Processor MessageProcessor
	Pipeline  PipelineStarter
	Streams   *events.StreamManager
	Running   *session.RunningSet
	Tracker   *session.ProcessingTracker
	Limiter   guard.RateLimiter
	Idem      *guard.IdempotencyCache
}

// NewServer creates the API server.
func NewServer(cfg *config.Config, d Deps) *Server {
	return &Server{
		cfg:       cfg,
		sessions:  d.Sessions,
		gates:     d.Gates,
		questions: d.Questions,
		artifacts: d.Artifacts,
		processor: d.Processor,
		pipeline:  d.Pipeline,
		streams:   d.Streams,
		running:   d.Running,
		tracker:   d.Tracker,
		limiter:   d.Limiter,
		idem:      d.Idem,
	}
}

// Routes registers all endpoints on the echo instance.
func (s *Server) Routes(e *echo.Echo) {
	e.Use(securityHeaders())
	e.GET("/health", s.healthHandler)

	g := e.Group("", s.bearerAuth())
	g.GET("/sessions/:id/sse", s.streamHandler)
	g.POST("/sessions/:id/messages", s.sendMessageHandler)
	g.POST("/sessions/:id/gate-response", s.gateResponseHandler)

	w := e.Group("/workflow", s.bearerAuth())
	w.POST("/:sessionId/questions/batch-submit", s.batchSubmitQuestionsHandler)
	w.POST("/:sessionId/questions/defer", s.deferQuestionsHandler)
	w.POST("/:sessionId/preferences", s.updatePreferencesHandler)
	w.POST("/:sessionId/benchmark/assumptions", s.editBenchmarkHandler)
	w.POST("/:sessionId/generate-draft-now", s.generateDraftNowHandler)
	w.POST("/:sessionId/restart", s.restartHandler)
}

package api

import (
	"context"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/Waconiajohn/resume-agent-sub002/pkg/guard"
)

// maxMessageContentChars caps the message body's content field.
const maxMessageContentChars = 50_000

// SendMessageRequest is the HTTP request body for POST /sessions/:id/messages.
type SendMessageRequest struct {
	Content        string `json:"content"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// SendMessageResponse is the HTTP response for POST /sessions/:id/messages.
type SendMessageResponse struct {
	Status string `json:"status"`
}

// sendMessageHandler handles POST /sessions/:id/messages.
// Guards run in order: body size, content length, message rate, idempotency,
// then the processing slot. The rate limit and the idempotency key are both
// scoped to the session's owner so a missing proxy header cannot split them
// across identities. Processing itself is asynchronous; the slot is released
// when it finishes.
func (s *Server) sendMessageHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	if max := s.cfg.Guards.MaxMessageBodyBytes; max > 0 && c.Request().ContentLength > int64(max) {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body exceeds maximum size")
	}

	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}
	if len(req.Content) > maxMessageContentChars {
		return echo.NewHTTPError(http.StatusBadRequest, "content exceeds maximum length of 50,000 characters")
	}

	sess, err := s.sessions.Get(c.Request().Context(), sessionID)
	if err != nil {
		return mapServiceError(err)
	}

	if !s.limiter.Allow(c.Request().Context(), sess.UserID, guard.ScopeMessage) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "message rate limit exceeded")
	}

	switch s.idem.Register(sess.UserID, req.IdempotencyKey) {
	case guard.IdempotencyInvalid:
		return echo.NewHTTPError(http.StatusBadRequest, "idempotency key exceeds maximum length")
	case guard.IdempotencyDuplicate:
		return c.JSON(http.StatusOK, SendMessageResponse{Status: "duplicate"})
	}

	if err := s.tracker.Acquire(sessionID, sess.UserID); err != nil {
		return mapServiceError(err)
	}

	content := req.Content
	go func() {
		defer s.tracker.Release(sessionID)
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Pipeline.OverallTimeout)
		defer cancel()
		if err := s.processor.Process(ctx, sess, content); err != nil {
			slog.Error("Message processing failed",
				"session_id", sessionID, "user_id", sess.UserID, "error", err)
		}
	}()

	return c.JSON(http.StatusAccepted, SendMessageResponse{Status: "processing"})
}

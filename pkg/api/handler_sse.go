package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/Waconiajohn/resume-agent-sub002/pkg/events"
	"github.com/Waconiajohn/resume-agent-sub002/pkg/guard"
	"github.com/Waconiajohn/resume-agent-sub002/pkg/models"
)

// streamHandler handles GET /sessions/:id/sse.
// It subscribes the caller to the session's event stream, replays durable
// state, and then forwards events until the client disconnects. A heartbeat
// frame is written on the configured interval; a heartbeat write failure is
// treated as a disconnect.
func (s *Server) streamHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}
	userID := extractUser(c)

	if !s.limiter.Allow(c.Request().Context(), userID, guard.ScopeSSEConnect) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "too many stream connection attempts")
	}

	sess, err := s.sessions.Get(c.Request().Context(), sessionID)
	if err != nil {
		return mapServiceError(err)
	}

	stream, err := s.streams.Subscribe(sessionID, userID)
	if errors.Is(err, events.ErrUserStreamCap) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "per-user stream limit reached")
	}
	if errors.Is(err, events.ErrGlobalStreamCap) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "stream capacity reached")
	}
	if err != nil {
		return mapServiceError(err)
	}
	defer s.streams.Unsubscribe(stream)

	w := c.Response()
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)

	if err := s.writeEvent(w, rc, events.Event{
		Type: events.TypeConnected, SessionID: sessionID,
		Payload: events.ConnectedPayload{SessionID: sessionID},
	}); err != nil {
		return nil
	}
	if err := s.writeEvent(w, rc, events.Event{
		Type: events.TypeSessionRestore, SessionID: sessionID,
		Payload: restorePayload(sess, s.cfg.SSE.RestoreMessageLimit),
	}); err != nil {
		return nil
	}

	ctx := c.Request().Context()
	heartbeat := time.NewTicker(s.cfg.SSE.HeartbeatInterval)
	defer heartbeat.Stop()

	// The liveness write stops permanently the first time the session is
	// found outside the running set: the run is over and a reconnecting tab
	// must not resurrect the row's updated_at.
	touchLiveness := true

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stream.Done():
			return nil
		case ev, ok := <-stream.Events():
			if !ok {
				return nil
			}
			if err := s.writeEvent(w, rc, ev); err != nil {
				slog.Debug("Stream write failed, closing",
					"session_id", sessionID, "stream_id", stream.ID, "error", err)
				return nil
			}
		case <-heartbeat.C:
			if err := s.writeEvent(w, rc, events.Event{Type: events.TypeHeartbeat, SessionID: sessionID}); err != nil {
				slog.Debug("Heartbeat write failed, closing",
					"session_id", sessionID, "stream_id", stream.ID, "error", err)
				return nil
			}
			if touchLiveness {
				if !s.running.Contains(sessionID) {
					touchLiveness = false
					continue
				}
				if err := s.sessions.TouchLiveness(ctx, sessionID); err != nil {
					slog.Warn("Failed to touch session liveness",
						"session_id", sessionID, "error", err)
				}
			}
		}
	}
}

// writeEvent frames one event as `event:` + `data:` and flushes it.
func (s *Server) writeEvent(w io.Writer, rc *http.ResponseController, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if s.cfg.SSE.WriteTimeout > 0 {
		// Not every ResponseWriter supports deadlines; a failure to set one
		// is not a write failure.
		_ = rc.SetWriteDeadline(time.Now().Add(s.cfg.SSE.WriteTimeout))
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return err
	}
	return rc.Flush()
}

// restorePayload assembles the session_restore frame: the last limit chat
// messages excluding internal tool results, plus the durable cursor fields.
func restorePayload(sess *models.SessionRecord, limit int) events.SessionRestorePayload {
	filtered := make([]map[string]any, 0, limit)
	for _, m := range sess.Messages {
		if m.Role == "tool_result" {
			continue
		}
		entry := map[string]any{
			"role":       m.Role,
			"content":    m.Content,
			"created_at": m.CreatedAt,
		}
		if m.Panel != "" {
			entry["panel"] = m.Panel
		}
		filtered = append(filtered, entry)
	}
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}

	var panelData map[string]any
	if len(sess.LastPanelData) > 0 {
		_ = json.Unmarshal(sess.LastPanelData, &panelData)
	}
	return events.SessionRestorePayload{
		Messages:               filtered,
		CurrentPhase:           sess.CurrentPhase,
		PendingToolCallID:      sess.PendingToolCallID,
		PendingPhaseTransition: sess.PendingPhaseTransition,
		LastPanelType:          sess.LastPanelType,
		LastPanelData:          panelData,
		PipelineStatus:         sess.PipelineStatus,
	}
}

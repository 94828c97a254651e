package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// HealthResponse is the GET /health response body.
type HealthResponse struct {
	Status             string `json:"status"`
	ActiveStreams      int    `json:"active_streams"`
	ProcessingSessions int    `json:"processing_sessions"`
	RunningPipelines   int    `json:"running_pipelines"`
}

// healthHandler handles GET /health. It is unauthenticated and reports only
// process-local counters, so it stays safe to expose to an orchestrator.
func (s *Server) healthHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:             "ok",
		ActiveStreams:      s.streams.ActiveStreams(),
		ProcessingSessions: s.tracker.Active(),
		RunningPipelines:   s.running.Len(),
	})
}

package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// GateResponseRequest is the HTTP request body for POST /sessions/:id/gate-response.
type GateResponseRequest struct {
	Gate     string `json:"gate"`
	Response any    `json:"response"`
}

// GateResponseResult reports where the response landed.
type GateResponseResult struct {
	Status string `json:"status"`
	Gate   string `json:"gate"`
}

// gateResponseHandler handles POST /sessions/:id/gate-response.
// Delivery is idempotent: an answer to an already answered gate reports
// "duplicate" without side effects, and an answer ahead of its gate is
// buffered durably.
func (s *Server) gateResponseHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	var req GateResponseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Gate == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "gate is required")
	}

	status, err := s.gates.Respond(c.Request().Context(), sessionID, req.Gate, req.Response)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, GateResponseResult{Status: string(status), Gate: req.Gate})
}

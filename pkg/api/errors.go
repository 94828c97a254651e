package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/Waconiajohn/resume-agent-sub002/pkg/services"
	"github.com/Waconiajohn/resume-agent-sub002/pkg/session"
)

// mapServiceError maps service-layer errors to HTTP error responses.
func mapServiceError(err error) *echo.HTTPError {
	if errors.Is(err, services.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	if errors.Is(err, session.ErrSessionBusy) {
		return echo.NewHTTPError(http.StatusConflict, "session is already processing a message")
	}
	if errors.Is(err, session.ErrUserCapacity) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "too many concurrent sessions for this user")
	}
	if errors.Is(err, session.ErrGlobalCapacity) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "server is at processing capacity")
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}

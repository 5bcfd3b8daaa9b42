package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"eventrides/internal/auth"
	"eventrides/internal/model"
	"eventrides/internal/service"
	"eventrides/internal/session"
	"eventrides/internal/store"
)

// ErrNoSession is returned for a valid token whose user has not signed in.
var ErrNoSession = errors.New("no session, sign in first")

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)
	if code == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(code, ErrorResponse{Error: err.Error()})
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// mapErrorToHTTPStatus maps service, model and store errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	switch {
	// Validation errors - Bad Request
	case errors.Is(err, service.ErrInvalidEventID),
		errors.Is(err, service.ErrInvalidRadius),
		errors.Is(err, model.ErrInvalidLocation),
		errors.Is(err, session.ErrInvalidIdentity):
		return http.StatusBadRequest

	// Authentication errors
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrMissingToken),
		errors.Is(err, session.ErrSessionClosed),
		errors.Is(err, ErrNoSession):
		return http.StatusUnauthorized

	// Forbidden/Business rule errors
	case errors.Is(err, session.ErrNoPublicProfile),
		errors.Is(err, model.ErrNotAssignedDriver),
		errors.Is(err, service.ErrNotOnRoster):
		return http.StatusForbidden

	// Not found errors
	case errors.Is(err, service.ErrEventNotFound),
		errors.Is(err, model.ErrEventUnknown),
		errors.Is(err, model.ErrRideNotFound),
		errors.Is(err, service.ErrNoRide),
		errors.Is(err, service.ErrNoDrive),
		errors.Is(err, service.ErrNotDriving):
		return http.StatusNotFound

	// Conflict errors
	case errors.Is(err, service.ErrRideExists),
		errors.Is(err, service.ErrDrivingElsewhere),
		errors.Is(err, model.ErrDriverBusy),
		errors.Is(err, model.ErrStaleQueueEntry),
		errors.Is(err, model.ErrInvalidTransition),
		errors.Is(err, model.ErrRideNotActive),
		errors.Is(err, session.ErrPublicProfileExists),
		errors.Is(err, session.ErrSchoolProfileExists),
		errors.Is(err, store.ErrConflict):
		return http.StatusConflict

	// Service unavailable
	case errors.Is(err, store.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable

	// Default to internal server error
	default:
		return http.StatusInternalServerError
	}
}

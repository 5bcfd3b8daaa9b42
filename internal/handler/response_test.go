package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"eventrides/internal/auth"
	"eventrides/internal/model"
	"eventrides/internal/service"
	"eventrides/internal/session"
	"eventrides/internal/store"
)

func TestMapErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{service.ErrInvalidEventID, http.StatusBadRequest},
		{model.ErrInvalidLocation, http.StatusBadRequest},
		{auth.ErrInvalidToken, http.StatusUnauthorized},
		{ErrNoSession, http.StatusUnauthorized},
		{session.ErrNoPublicProfile, http.StatusForbidden},
		{service.ErrNotOnRoster, http.StatusForbidden},
		{service.ErrEventNotFound, http.StatusNotFound},
		{model.ErrRideNotFound, http.StatusNotFound},
		{service.ErrRideExists, http.StatusConflict},
		{model.ErrStaleQueueEntry, http.StatusConflict},
		{model.ErrDriverBusy, http.StatusConflict},
		{store.ErrUnavailable, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
		{model.ErrMalformedDocument, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := mapErrorToHTTPStatus(tt.err); got != tt.want {
				t.Errorf("status = %d, want %d", got, tt.want)
			}
			wrapped := fmt.Errorf("ride abc: %w", tt.err)
			if got := mapErrorToHTTPStatus(wrapped); got != tt.want {
				t.Errorf("wrapped status = %d, want %d", got, tt.want)
			}
		})
	}
}

package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"eventrides/internal/domain"
	"eventrides/internal/service"
	"eventrides/internal/session"
)

// RideHandler handles HTTP requests for rides.
type RideHandler struct {
	rideService *service.RideService
	registry    *session.Registry
}

// NewRideHandler creates a new RideHandler.
func NewRideHandler(rideService *service.RideService, registry *session.Registry) *RideHandler {
	return &RideHandler{rideService: rideService, registry: registry}
}

// RequestRideRequest is the HTTP request body for requesting a ride.
type RequestRideRequest struct {
	EventUID string   `json:"eventUid"`
	Lat      *float64 `json:"lat"`
	Lon      *float64 `json:"lon"`
}

// RequestRide handles POST /v1/rides
func (h *RideHandler) RequestRide(c *gin.Context) {
	s, ok := currentSession(c, h.registry)
	if !ok {
		return
	}
	var req RequestRideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if req.Lat == nil || req.Lon == nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "lat and lon are required"})
		return
	}

	ride, err := h.rideService.RequestRide(c.Request.Context(), s, service.RequestRideRequest{
		EventUID: req.EventUID,
		Pickup:   domain.Location{Lat: *req.Lat, Lon: *req.Lon},
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusCreated, ride)
}

// GetRide handles GET /v1/rides/:id
func (h *RideHandler) GetRide(c *gin.Context) {
	ride, err := h.rideService.GetRide(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, ride)
}

// CancelRide handles POST /v1/rides/cancel
func (h *RideHandler) CancelRide(c *gin.Context) {
	s, ok := currentSession(c, h.registry)
	if !ok {
		return
	}
	rideUID, err := h.rideService.CancelRide(c.Request.Context(), s)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"rideUid": rideUID, "cancelled": true})
}

package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"eventrides/internal/domain"
	"eventrides/internal/service"
	"eventrides/internal/session"
)

const defaultPickupRadiusKm = 5.0

// DriveHandler handles HTTP requests for drivers.
type DriveHandler struct {
	driveService *service.DriveService
	rideService  *service.RideService
	registry     *session.Registry
}

// NewDriveHandler creates a new DriveHandler.
func NewDriveHandler(driveService *service.DriveService, rideService *service.RideService, registry *session.Registry) *DriveHandler {
	return &DriveHandler{driveService: driveService, rideService: rideService, registry: registry}
}

// StartDrivingRequest is the HTTP request body for joining an event roster.
type StartDrivingRequest struct {
	EventUID string `json:"eventUid"`
}

// StartDriving handles POST /v1/drive
func (h *DriveHandler) StartDriving(c *gin.Context) {
	s, ok := currentSession(c, h.registry)
	if !ok {
		return
	}
	var req StartDrivingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if err := h.driveService.StartDriving(c.Request.Context(), s, req.EventUID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// StopDriving handles DELETE /v1/drive
func (h *DriveHandler) StopDriving(c *gin.Context) {
	s, ok := currentSession(c, h.registry)
	if !ok {
		return
	}
	if err := h.driveService.StopDriving(c.Request.Context(), s); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// NextRider handles POST /v1/drive/next
func (h *DriveHandler) NextRider(c *gin.Context) {
	s, ok := currentSession(c, h.registry)
	if !ok {
		return
	}
	result, err := h.driveService.NextRider(c.Request.Context(), s)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, result)
}

// MarkConnected handles POST /v1/drive/connected
func (h *DriveHandler) MarkConnected(c *gin.Context) {
	s, ok := currentSession(c, h.registry)
	if !ok {
		return
	}
	rideUID, err := h.rideService.MarkConnected(c.Request.Context(), s)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"rideUid": rideUID, "status": domain.RideStatusConnected})
}

// EndDrive handles POST /v1/drive/end
func (h *DriveHandler) EndDrive(c *gin.Context) {
	s, ok := currentSession(c, h.registry)
	if !ok {
		return
	}
	rideUID, err := h.driveService.EndDrive(c.Request.Context(), s)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"rideUid": rideUID, "status": domain.RideStatusCompleted})
}

// NearbyPickups handles GET /v1/drive/pickups?lat=&lon=&radius_km=
func (h *DriveHandler) NearbyPickups(c *gin.Context) {
	s, ok := currentSession(c, h.registry)
	if !ok {
		return
	}
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lon, errLon := strconv.ParseFloat(c.Query("lon"), 64)
	if errLat != nil || errLon != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "lat and lon are required"})
		return
	}
	radius := defaultPickupRadiusKm
	if v := c.Query("radius_km"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid radius_km"})
			return
		}
		radius = r
	}

	pickups, err := h.driveService.NearbyPickups(c.Request.Context(), s, domain.Location{Lat: lat, Lon: lon}, radius)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"pickups": pickups})
}

package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"eventrides/internal/model"
	"eventrides/internal/service"
)

// EventHandler handles HTTP requests for events.
type EventHandler struct {
	events *service.EventDirectory
	drives *service.DriveService
}

// NewEventHandler creates a new EventHandler.
func NewEventHandler(events *service.EventDirectory, drives *service.DriveService) *EventHandler {
	return &EventHandler{events: events, drives: drives}
}

// CreateEventRequest is the HTTP request body for creating an event.
type CreateEventRequest struct {
	Title             string `json:"title"`
	OrganizationUID   string `json:"organizationUid,omitempty"`
	OrganizationTitle string `json:"organizationTitle,omitempty"`
}

// CreateEvent handles POST /v1/events
func (h *EventHandler) CreateEvent(c *gin.Context) {
	var req CreateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Title == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "title is required"})
		return
	}
	var org *model.Organization
	if req.OrganizationUID != "" {
		org = &model.Organization{UID: req.OrganizationUID, Title: req.OrganizationTitle}
	}
	event, err := h.events.Create(c.Request.Context(), org, req.Title)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusCreated, event.State())
}

// GetEvent handles GET /v1/events/:id
func (h *EventHandler) GetEvent(c *gin.Context) {
	event, err := h.events.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, event.State())
}

// GetRoster handles GET /v1/events/:id/drivers
func (h *EventHandler) GetRoster(c *gin.Context) {
	drivers, err := h.drives.Roster(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"drivers": drivers})
}

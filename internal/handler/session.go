package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"eventrides/internal/auth"
	"eventrides/internal/domain"
	"eventrides/internal/middleware"
	"eventrides/internal/model"
	"eventrides/internal/session"
)

// SessionHandler handles sign-in, sign-out and the signed-in user's own data.
type SessionHandler struct {
	source   *auth.Source
	registry *session.Registry
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(source *auth.Source, registry *session.Registry) *SessionHandler {
	return &SessionHandler{source: source, registry: registry}
}

// MeResponse is the HTTP response for the signed-in user.
type MeResponse struct {
	Profiles string          `json:"profiles"`
	User     model.UserState `json:"user"`
}

// PublicProfileRequest is the HTTP request body for attaching a public profile.
type PublicProfileRequest struct {
	DisplayName string `json:"displayName"`
	ProviderID  string `json:"providerId"`
}

// SchoolProfileRequest is the HTTP request body for attaching a school profile.
type SchoolProfileRequest struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"emailVerified"`
}

// TitleRequest carries the display title of a saved event or organization.
type TitleRequest struct {
	Title string `json:"title"`
}

// currentSession returns the caller's session or writes a 401.
func currentSession(c *gin.Context, registry *session.Registry) (*session.Session, bool) {
	id, ok := middleware.GetIdentity(c)
	if !ok {
		respondError(c, auth.ErrMissingToken)
		return nil, false
	}
	s, ok := registry.Get(id.UID)
	if !ok {
		respondError(c, ErrNoSession)
		return nil, false
	}
	return s, true
}

// SignIn handles POST /v1/session
func (h *SessionHandler) SignIn(c *gin.Context) {
	id, err := h.source.SignIn(middleware.BearerToken(c))
	if err != nil {
		respondError(c, err)
		return
	}
	s, ok := h.registry.Get(id.UID)
	if !ok {
		// The registry logs why the session could not start.
		respondError(c, ErrNoSession)
		return
	}
	if err := s.Wait(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusCreated, MeResponse{
		Profiles: s.Identity().Profiles().String(),
		User:     s.User().State(),
	})
}

// SignOut handles DELETE /v1/session
func (h *SessionHandler) SignOut(c *gin.Context) {
	id, _ := middleware.GetIdentity(c)
	h.source.SignOut(id.UID)
	c.Status(http.StatusNoContent)
}

// Me handles GET /v1/me
func (h *SessionHandler) Me(c *gin.Context) {
	s, ok := currentSession(c, h.registry)
	if !ok {
		return
	}
	respondJSON(c, http.StatusOK, MeResponse{
		Profiles: s.Identity().Profiles().String(),
		User:     s.User().State(),
	})
}

// SetPublicProfile handles PUT /v1/me/profiles/public
func (h *SessionHandler) SetPublicProfile(c *gin.Context) {
	s, ok := currentSession(c, h.registry)
	if !ok {
		return
	}
	var req PublicProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.DisplayName == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "displayName is required"})
		return
	}
	err := s.SetPublicProfile(c.Request.Context(), domain.PublicProfile{DisplayName: req.DisplayName, ProviderID: req.ProviderID})
	if err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SetSchoolProfile handles PUT /v1/me/profiles/school
func (h *SessionHandler) SetSchoolProfile(c *gin.Context) {
	s, ok := currentSession(c, h.registry)
	if !ok {
		return
	}
	var req SchoolProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "email is required"})
		return
	}
	err := s.SetSchoolProfile(c.Request.Context(), domain.SchoolProfile{Email: req.Email, EmailVerified: req.EmailVerified})
	if err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SaveEvent handles PUT /v1/me/saved-events/:id
func (h *SessionHandler) SaveEvent(c *gin.Context) {
	s, ok := currentSession(c, h.registry)
	if !ok {
		return
	}
	var req TitleRequest
	_ = c.ShouldBindJSON(&req)
	if err := s.SaveEvent(c.Request.Context(), domain.EventInfo{UID: c.Param("id"), Title: req.Title}); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UnsaveEvent handles DELETE /v1/me/saved-events/:id
func (h *SessionHandler) UnsaveEvent(c *gin.Context) {
	s, ok := currentSession(c, h.registry)
	if !ok {
		return
	}
	if err := s.UnsaveEvent(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// JoinOrganization handles PUT /v1/me/organizations/:id
func (h *SessionHandler) JoinOrganization(c *gin.Context) {
	s, ok := currentSession(c, h.registry)
	if !ok {
		return
	}
	var req TitleRequest
	_ = c.ShouldBindJSON(&req)
	if err := s.JoinOrganization(c.Request.Context(), domain.Membership{UID: c.Param("id"), Title: req.Title}); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// LeaveOrganization handles DELETE /v1/me/organizations/:id
func (h *SessionHandler) LeaveOrganization(c *gin.Context) {
	s, ok := currentSession(c, h.registry)
	if !ok {
		return
	}
	if err := s.LeaveOrganization(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

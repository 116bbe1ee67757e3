package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/GriffinCanCode/webterm/internal/api/middleware"
	"github.com/GriffinCanCode/webterm/internal/auth"
	"github.com/GriffinCanCode/webterm/internal/shared/utils"
	"github.com/GriffinCanCode/webterm/internal/store"
)

// CreateSessionRequest is the body of POST /sessions. A missing id is
// generated.
type CreateSessionRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MemberRequest is the body of PUT /sessions/:session_id/members/:user_id
type MemberRequest struct {
	Role store.Role `json:"role" binding:"required"`
}

// ListSessions returns the sessions the caller owns or belongs to
func (h *Handlers) ListSessions(c *gin.Context) {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	sessions, err := h.opts.Sessions.ListSessions(c.Request.Context(), p.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sessions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// CreateSession registers a session owned by the caller
func (h *Handlers) CreateSession(c *gin.Context) {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var req CreateSessionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if err := utils.ValidateID(req.ID, "id", true); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := utils.ValidateString(req.Name, "name", 0, utils.MaxIDLength, false); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	err := h.opts.Sessions.CreateSession(ctx, auth.SessionInfo{ID: req.ID, Name: req.Name, OwnerID: p.UserID})
	if errors.Is(err, store.ErrExists) {
		c.JSON(http.StatusConflict, gin.H{"error": "session already exists"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}

	info, err := h.opts.Directory.Session(ctx, req.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session lookup failed"})
		return
	}
	c.JSON(http.StatusCreated, info)
}

// PutMember grants a user a role in the session. Owners only.
func (h *Handlers) PutMember(c *gin.Context) {
	userID := c.Param("user_id")
	if err := utils.ValidateID(userID, "user_id", true); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var req MemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "role is required"})
		return
	}
	if req.Role != store.RoleMember && req.Role != store.RoleViewer {
		c.JSON(http.StatusBadRequest, gin.H{"error": "role must be member or viewer"})
		return
	}

	sessionID, ok := h.authorize(c, auth.PermissionManage)
	if !ok {
		return
	}
	if err := h.opts.Sessions.AddMember(c.Request.Context(), sessionID, userID, req.Role); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to add member"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "user_id": userID, "role": req.Role})
}

// DeleteMember revokes a user's membership. Owners only.
func (h *Handlers) DeleteMember(c *gin.Context) {
	userID := c.Param("user_id")
	if err := utils.ValidateID(userID, "user_id", true); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sessionID, ok := h.authorize(c, auth.PermissionManage)
	if !ok {
		return
	}
	err := h.opts.Sessions.RemoveMember(c.Request.Context(), sessionID, userID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not a member"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to remove member"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "user_id": userID, "removed": true})
}

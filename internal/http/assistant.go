package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/webterm/internal/api/middleware"
	"github.com/GriffinCanCode/webterm/internal/assistant"
	"github.com/GriffinCanCode/webterm/internal/auth"
	"github.com/GriffinCanCode/webterm/internal/protocol"
	"github.com/GriffinCanCode/webterm/internal/shared/utils"
	"github.com/GriffinCanCode/webterm/internal/terminal"
)

// MessageRequest is the body of POST /assistant/:session_id/messages
type MessageRequest struct {
	Message string `json:"message" binding:"required"`
	// Stream sends partial answers to the session's sockets; defaults to true
	Stream *bool `json:"stream"`
}

// assisted returns the session's assisted terminal and its assistant, if any
func (h *Handlers) assisted(sessionID string) (terminal.Manager, *assistant.Session) {
	mgr, found := h.opts.Terminals.Get(terminal.Key{SessionID: sessionID, Kind: terminal.KindAssisted})
	if !found {
		return nil, nil
	}
	sub, _ := mgr.Assistant().(*assistant.Session)
	return mgr, sub
}

// AssistantStatus reports whether a session's assistant is up
func (h *Handlers) AssistantStatus(c *gin.Context) {
	sessionID, ok := h.authorize(c, auth.PermissionView)
	if !ok {
		return
	}

	resp := gin.H{
		"session_id": sessionID,
		"available":  false,
		"terminal":   nil,
		"assistant":  nil,
	}
	if mgr, sub := h.assisted(sessionID); mgr != nil {
		resp["terminal"] = mgr.Info()
		if sub != nil {
			resp["assistant"] = sub.Info()
			resp["available"] = sub.Active()
		}
	}
	c.JSON(http.StatusOK, resp)
}

// AssistantMessages returns the conversation of a session's assisted terminal
func (h *Handlers) AssistantMessages(c *gin.Context) {
	sessionID, ok := h.authorize(c, auth.PermissionView)
	if !ok {
		return
	}

	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	_, sub := h.assisted(sessionID)
	if sub == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no assistant session"})
		return
	}

	messages := sub.History()
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"assistant":  sub.Info(),
		"messages":   messages,
	})
}

// SendAssistantMessage asks the session's assistant a question over HTTP.
// The exchange is broadcast to the session's sockets like a chat frame and
// the final answer is returned in the response.
func (h *Handlers) SendAssistantMessage(c *gin.Context) {
	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	if err := utils.ValidateMessage(req.Message); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sessionID, ok := h.authorize(c, auth.PermissionAttach)
	if !ok {
		return
	}
	if h.opts.Chat == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "assistant is not configured"})
		return
	}
	_, sub := h.assisted(sessionID)
	if sub == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no assistant session"})
		return
	}

	p, _ := middleware.PrincipalFrom(c)
	stream := true
	if req.Stream != nil {
		stream = *req.Stream
	}

	sent := h.opts.Chat.Stream(c.Request.Context(), assistant.Prompt{
		SessionID: sessionID,
		UserID:    p.UserID,
		Text:      req.Message,
		Stream:    stream,
		Session:   sub,
	})

	chunks := 0
	var final protocol.Envelope
	for _, env := range sent {
		switch {
		case protocol.IsChunk(env):
			chunks++
		case protocol.IsFinal(env):
			final = env
		}
	}

	code := http.StatusOK
	failed := final.Flag("error")
	if failed {
		code = http.StatusBadGateway
	}
	c.JSON(code, gin.H{
		"session_id": sessionID,
		"message":    final.Text("message"),
		"error":      failed,
		"chunks":     chunks,
	})
}

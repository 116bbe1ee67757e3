package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/webterm/internal/api/middleware"
	"github.com/GriffinCanCode/webterm/internal/assistant"
	"github.com/GriffinCanCode/webterm/internal/auth"
	"github.com/GriffinCanCode/webterm/internal/protocol"
	"github.com/GriffinCanCode/webterm/internal/shared/utils"
	"github.com/GriffinCanCode/webterm/internal/store"
	"github.com/GriffinCanCode/webterm/internal/terminal"
	"github.com/GriffinCanCode/webterm/internal/ws"
)

// Pinger reports whether a backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// SessionStore creates and lists session records and their members
type SessionStore interface {
	CreateSession(ctx context.Context, info auth.SessionInfo) error
	ListSessions(ctx context.Context, userID string) ([]auth.SessionInfo, error)
	AddMember(ctx context.Context, sessionID, userID string, role store.Role) error
	RemoveMember(ctx context.Context, sessionID, userID string) error
}

// Chat answers a prompt and broadcasts the answer to the session
type Chat interface {
	Stream(ctx context.Context, p assistant.Prompt) []protocol.Envelope
}

// Options wires the HTTP handlers
type Options struct {
	Terminals   *terminal.Registry
	Connections *ws.Registry
	Directory   auth.Directory
	Authorizer  auth.Authorizer
	Sessions    SessionStore
	Chat        Chat
	Store       Pinger
	Version     string
}

// Handlers contains all HTTP handlers
type Handlers struct {
	opts      Options
	startedAt time.Time
}

// NewHandlers creates a new handler set
func NewHandlers(opts Options) *Handlers {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &Handlers{opts: opts, startedAt: time.Now()}
}

// Root handles the service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "webterm",
		"version": h.opts.Version,
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	status, code := "healthy", http.StatusOK
	storeStatus := "ok"
	if h.opts.Store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.opts.Store.Ping(ctx); err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
			storeStatus = err.Error()
		}
	}

	c.JSON(code, gin.H{
		"status":         status,
		"store":          storeStatus,
		"connections":    h.opts.Connections.ConnectionCount(),
		"terminals":      h.opts.Terminals.Count(),
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
	})
}

// WSStatus reports live connection counts
func (h *Handlers) WSStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"active_connections": h.opts.Connections.ConnectionCount(),
		"active_sessions":    h.opts.Connections.ActiveSessions(),
		"status":             "operational",
	})
}

// TerminalStatus reports both terminals of a session
func (h *Handlers) TerminalStatus(c *gin.Context) {
	sessionID, ok := h.authorize(c, auth.PermissionView)
	if !ok {
		return
	}

	terminals := gin.H{}
	for _, kind := range terminal.Kinds {
		if mgr, found := h.opts.Terminals.Get(terminal.Key{SessionID: sessionID, Kind: kind}); found {
			terminals[string(kind)] = mgr.Info()
		} else {
			terminals[string(kind)] = nil
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id":  sessionID,
		"terminals":   terminals,
		"connections": h.opts.Connections.SessionConnectionCount(sessionID),
		"users":       h.opts.Connections.SessionUsers(sessionID),
	})
}

// TerminateTerminals tears down the selected terminals of a session.
// kind is basic, assisted or all (the default).
func (h *Handlers) TerminateTerminals(c *gin.Context) {
	kinds, err := parseKinds(c.Query("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sessionID, ok := h.authorize(c, auth.PermissionTerminate)
	if !ok {
		return
	}

	terminated, absent := h.opts.Terminals.Terminate(sessionID, kinds)

	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"terminated": kindNames(terminated),
		"absent":     kindNames(absent),
	})
}

// authorize checks the caller's permission on the :session_id parameter.
// Unknown sessions answer 403 like forbidden ones.
func (h *Handlers) authorize(c *gin.Context, perm auth.Permission) (string, bool) {
	sessionID := c.Param("session_id")
	if err := utils.ValidateID(sessionID, "session_id", true); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}

	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return "", false
	}

	ctx := c.Request.Context()
	if _, err := h.opts.Directory.Session(ctx, sessionID); err != nil {
		if errors.Is(err, auth.ErrSessionNotFound) {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "session lookup failed"})
		}
		return "", false
	}

	allowed, err := h.opts.Authorizer.Authorize(ctx, p, sessionID, perm)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "authorization failed"})
		return "", false
	}
	if !allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return "", false
	}
	return sessionID, true
}

func parseKinds(s string) ([]terminal.Kind, error) {
	if s == "" || s == "all" {
		return terminal.Kinds, nil
	}
	kind, err := terminal.ParseKind(s)
	if err != nil {
		return nil, err
	}
	return []terminal.Kind{kind}, nil
}

func kindNames(keys []terminal.Key) []string {
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, string(k.Kind))
	}
	return names
}

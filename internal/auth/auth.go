package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

var (
	ErrMissingCredential = errors.New("auth: missing credential")
	ErrInvalidToken      = errors.New("auth: invalid token")
	ErrSessionNotFound   = errors.New("auth: session not found")
	ErrForbidden         = errors.New("auth: forbidden")
	ErrNotEntitled       = errors.New("auth: plan does not include the assistant")
)

// Principal is an authenticated caller
type Principal struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
}

// Permission is the level of access requested on a session
type Permission string

const (
	PermissionView      Permission = "view"
	PermissionAttach    Permission = "attach"
	PermissionTerminate Permission = "terminate"
	// PermissionManage covers membership changes; owners only
	PermissionManage Permission = "manage"
)

// SessionInfo describes a logical session record
type SessionInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Verifier turns a bearer credential into a principal
type Verifier interface {
	Verify(ctx context.Context, credential string) (Principal, error)
}

// Directory resolves logical session records
type Directory interface {
	Session(ctx context.Context, sessionID string) (SessionInfo, error)
}

// Authorizer decides whether a principal may act on a session
type Authorizer interface {
	Authorize(ctx context.Context, p Principal, sessionID string, perm Permission) (bool, error)
}

// Entitlements answers plan questions
type Entitlements interface {
	AssistantEntitled(ctx context.Context, userID string) (bool, error)
}

// BearerToken extracts the credential from the Authorization header or,
// for browser WebSocket clients that cannot set headers, the token query
// parameter
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		const prefix = "Bearer "
		if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
			return strings.TrimSpace(h[len(prefix):])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

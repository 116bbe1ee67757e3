package paths

import (
	"fmt"
	"path/filepath"
)

// Default workspace root when none is configured
const DefaultRoot = "/tmp/webterm"

// Workspace subdirectories
const (
	Sessions = "sessions"
	Profiles = "profiles"
)

// Layout resolves directories under a workspace root
type Layout struct {
	Root string
}

// New returns a layout rooted at root, or at DefaultRoot when root is empty
func New(root string) Layout {
	if root == "" {
		root = DefaultRoot
	}
	return Layout{Root: filepath.Clean(root)}
}

// SessionDir returns the working directory shared by a session's terminals
// and its assistant
func (l Layout) SessionDir(sessionID string) string {
	return filepath.Join(l.Root, Sessions, sessionID)
}

// ProfilesDir returns the directory searched for assistant profiles
func (l Layout) ProfilesDir() string {
	return filepath.Join(l.Root, Profiles)
}

// Validate checks that a session id names exactly one directory under
// the sessions root
func (l Layout) Validate(sessionID string) error {
	if filepath.Dir(l.SessionDir(sessionID)) != filepath.Join(l.Root, Sessions) {
		return fmt.Errorf("session directory escapes workspace: %q", sessionID)
	}
	return nil
}

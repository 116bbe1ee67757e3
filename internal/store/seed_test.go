package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/webterm/internal/auth"
)

const demoSeed = `
sessions:
  - id: demo
    name: Demo
    owner: alice
    members:
      bob: member
      carol: viewer
subscriptions:
  - user: alice
    plan: pro
  - user: bob
    plan: free
    assistant_quota: 3
`

func TestApplySeed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(demoSeed), 0o600))
	seed, err := LoadSeed(path)
	require.NoError(t, err)

	stats, err := s.ApplySeed(ctx, seed)
	require.NoError(t, err)
	assert.Equal(t, SeedStats{Created: 1, Members: 2, Subscriptions: 2}, stats)

	info, err := s.Session(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, "Demo", info.Name)
	assert.Equal(t, "alice", info.OwnerID)

	ok, err := s.Authorize(ctx, auth.Principal{UserID: "bob"}, "demo", auth.PermissionAttach)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Authorize(ctx, auth.Principal{UserID: "carol"}, "demo", auth.PermissionAttach)
	require.NoError(t, err)
	assert.False(t, ok)

	entitled, err := s.AssistantEntitled(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, entitled)

	// Re-applying keeps the session and upserts the rest
	stats, err = s.ApplySeed(ctx, seed)
	require.NoError(t, err)
	assert.Equal(t, SeedStats{Existing: 1, Members: 2, Subscriptions: 2}, stats)
}

func TestApplySeedRefusesOwnerChange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, auth.SessionInfo{ID: "demo", OwnerID: "mallory"}))

	seed, err := ParseSeed([]byte(demoSeed))
	require.NoError(t, err)
	_, err = s.ApplySeed(ctx, seed)
	assert.ErrorContains(t, err, "owned by mallory")
}

func TestParseSeedRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown key", "sesions: []"},
		{"missing owner", "sessions:\n  - id: demo\n"},
		{"bad id", "sessions:\n  - id: ../etc\n    owner: alice\n"},
		{"unknown role", "sessions:\n  - id: demo\n    owner: alice\n    members:\n      bob: admin\n"},
		{"plan without user", "subscriptions:\n  - plan: pro\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSeed([]byte(tt.doc))
			assert.Error(t, err)
		})
	}

	_, err := LoadSeed(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

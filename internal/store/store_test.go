package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/webterm/internal/auth"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "webterm.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))

	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.CreateSession(ctx, auth.SessionInfo{ID: "S1", Name: "demo", OwnerID: "alice", CreatedAt: created}))

	info, err := s.Session(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, "demo", info.Name)
	assert.Equal(t, "alice", info.OwnerID)
	assert.True(t, created.Equal(info.CreatedAt))

	_, err = s.Session(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, auth.ErrSessionNotFound)

	// Duplicate ids are refused
	assert.ErrorIs(t, s.CreateSession(ctx, auth.SessionInfo{ID: "S1", OwnerID: "bob"}), ErrExists)
	assert.Error(t, s.CreateSession(ctx, auth.SessionInfo{ID: "S2"}))
}

func TestListSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.CreateSession(ctx, auth.SessionInfo{ID: "S1", OwnerID: "alice", CreatedAt: base}))
	require.NoError(t, s.CreateSession(ctx, auth.SessionInfo{ID: "S2", OwnerID: "bob", CreatedAt: base.Add(time.Hour)}))
	require.NoError(t, s.CreateSession(ctx, auth.SessionInfo{ID: "S3", OwnerID: "carol", CreatedAt: base.Add(2 * time.Hour)}))
	require.NoError(t, s.AddMember(ctx, "S2", "alice", RoleViewer))

	sessions, err := s.ListSessions(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "S2", sessions[0].ID)
	assert.Equal(t, "S1", sessions[1].ID)

	none, err := s.ListSessions(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAuthorize(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateSession(ctx, auth.SessionInfo{ID: "S1", OwnerID: "alice"}))
	require.NoError(t, s.AddMember(ctx, "S1", "bob", RoleMember))
	require.NoError(t, s.AddMember(ctx, "S1", "carol", RoleViewer))

	tests := []struct {
		user    string
		session string
		perm    auth.Permission
		want    bool
	}{
		{"alice", "S1", auth.PermissionAttach, true},
		{"alice", "S1", auth.PermissionTerminate, true},
		{"bob", "S1", auth.PermissionView, true},
		{"bob", "S1", auth.PermissionAttach, true},
		{"bob", "S1", auth.PermissionTerminate, false},
		{"carol", "S1", auth.PermissionView, true},
		{"carol", "S1", auth.PermissionAttach, false},
		{"dave", "S1", auth.PermissionView, false},
		{"alice", "missing", auth.PermissionView, false},
	}
	for _, tt := range tests {
		ok, err := s.Authorize(ctx, auth.Principal{UserID: tt.user}, tt.session, tt.perm)
		require.NoError(t, err)
		assert.Equal(t, tt.want, ok, "%s %s %s", tt.user, tt.session, tt.perm)
	}

	// Promotion replaces the previous role
	require.NoError(t, s.AddMember(ctx, "S1", "carol", RoleMember))
	ok, err := s.Authorize(ctx, auth.Principal{UserID: "carol"}, "S1", auth.PermissionAttach)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.RemoveMember(ctx, "S1", "bob"))
	ok, err = s.Authorize(ctx, auth.Principal{UserID: "bob"}, "S1", auth.PermissionView)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, s.RemoveMember(ctx, "S1", "bob"), ErrNotFound)
}

func TestAddMemberValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.AddMember(ctx, "missing", "bob", RoleMember), ErrNotFound)

	require.NoError(t, s.CreateSession(ctx, auth.SessionInfo{ID: "S1", OwnerID: "alice"}))
	assert.Error(t, s.AddMember(ctx, "S1", "bob", Role("admin")))
}

func TestAssistantEntitled(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetSubscription(ctx, Subscription{UserID: "pro-user", Plan: PlanPro}))
	require.NoError(t, s.SetSubscription(ctx, Subscription{UserID: "team-user", Plan: PlanTeam}))
	require.NoError(t, s.SetSubscription(ctx, Subscription{UserID: "free-user", Plan: PlanFree}))
	require.NoError(t, s.SetSubscription(ctx, Subscription{UserID: "trial-user", Plan: PlanFree, AssistantQuota: 5}))

	tests := map[string]bool{
		"pro-user":   true,
		"team-user":  true,
		"free-user":  false,
		"trial-user": true,
		"unknown":    false,
	}
	for user, want := range tests {
		got, err := s.AssistantEntitled(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, want, got, user)
	}

	// Downgrade takes effect on the next check
	require.NoError(t, s.SetSubscription(ctx, Subscription{UserID: "pro-user", Plan: PlanFree}))
	got, err := s.AssistantEntitled(ctx, "pro-user")
	require.NoError(t, err)
	assert.False(t, got)

	sub, err := s.Subscription(ctx, "trial-user")
	require.NoError(t, err)
	assert.Equal(t, 5, sub.AssistantQuota)

	_, err = s.Subscription(ctx, "unknown")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Error(t, s.SetSubscription(ctx, Subscription{UserID: "x"}))
}

func TestReopenKeepsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webterm.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.CreateSession(ctx, auth.SessionInfo{ID: "S1", OwnerID: "alice"}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Session(ctx, "S1")
	assert.NoError(t, err)
}

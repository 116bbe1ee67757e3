package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/GriffinCanCode/webterm/internal/auth"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrExists   = errors.New("store: already exists")
)

// Role is a member's standing inside a session
type Role string

const (
	RoleViewer Role = "viewer"
	RoleMember Role = "member"
)

// Plans that include the assistant
const (
	PlanFree = "free"
	PlanPro  = "pro"
	PlanTeam = "team"
)

// Subscription is a user's plan record
type Subscription struct {
	UserID         string
	Plan           string
	AssistantQuota int
	UpdatedAt      time.Time
}

// Store keeps session, membership and plan records in SQLite. It implements
// auth.Directory, auth.Authorizer and auth.Entitlements.
type Store struct {
	db *sql.DB
}

var (
	_ auth.Directory    = (*Store)(nil)
	_ auth.Authorizer   = (*Store)(nil)
	_ auth.Entitlements = (*Store)(nil)
)

// Open opens (creating if needed) the database at path
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite parent dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	s, err := NewFromDB(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewFromDB wraps an open database and applies the schema
func NewFromDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	statements := []string{
		"PRAGMA foreign_keys = ON;",
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			owner_id TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS session_members (
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (session_id, user_id),
			FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			user_id TEXT PRIMARY KEY,
			plan TEXT NOT NULL,
			assistant_quota INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL
		);`,
	}

	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("migrate sqlite schema: %w", err)
		}
	}
	return nil
}

// CreateSession inserts a session record. A zero CreatedAt is stamped now.
func (s *Store) CreateSession(ctx context.Context, info auth.SessionInfo) error {
	if info.ID == "" || info.OwnerID == "" {
		return errors.New("store: session needs an id and an owner")
	}
	if info.CreatedAt.IsZero() {
		info.CreatedAt = time.Now()
	}

	if _, err := s.Session(ctx, info.ID); err == nil {
		return fmt.Errorf("%w: session %s", ErrExists, info.ID)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(id, name, owner_id, created_at) VALUES (?, ?, ?, ?)`,
		info.ID, info.Name, info.OwnerID, formatTime(info.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Session implements auth.Directory
func (s *Store) Session(ctx context.Context, sessionID string) (auth.SessionInfo, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, owner_id, created_at FROM sessions WHERE id = ?`,
		sessionID,
	)

	var (
		info      auth.SessionInfo
		createdAt string
	)
	err := row.Scan(&info.ID, &info.Name, &info.OwnerID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.SessionInfo{}, fmt.Errorf("%w: %w", ErrNotFound, auth.ErrSessionNotFound)
	}
	if err != nil {
		return auth.SessionInfo{}, fmt.Errorf("scan session: %w", err)
	}

	info.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return auth.SessionInfo{}, fmt.Errorf("parse session created_at: %w", err)
	}
	return info, nil
}

// ListSessions returns the sessions a user owns or belongs to, newest first
func (s *Store) ListSessions(ctx context.Context, userID string) ([]auth.SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT s.id, s.name, s.owner_id, s.created_at
		 FROM sessions s
		 LEFT JOIN session_members m ON m.session_id = s.id
		 WHERE s.owner_id = ? OR m.user_id = ?
		 ORDER BY s.created_at DESC, s.id`,
		userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []auth.SessionInfo{}
	for rows.Next() {
		var (
			info      auth.SessionInfo
			createdAt string
		)
		if err := rows.Scan(&info.ID, &info.Name, &info.OwnerID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if info.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parse session created_at: %w", err)
		}
		sessions = append(sessions, info)
	}
	return sessions, rows.Err()
}

// AddMember grants userID a role in a session, replacing any previous role
func (s *Store) AddMember(ctx context.Context, sessionID, userID string, role Role) error {
	if role != RoleViewer && role != RoleMember {
		return fmt.Errorf("store: unknown role %q", role)
	}
	if _, err := s.Session(ctx, sessionID); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_members(session_id, user_id, role, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id, user_id) DO UPDATE SET role = excluded.role`,
		sessionID, userID, string(role), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

// RemoveMember revokes a membership
func (s *Store) RemoveMember(ctx context.Context, sessionID, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM session_members WHERE session_id = ? AND user_id = ?`,
		sessionID, userID,
	)
	if err != nil {
		return fmt.Errorf("delete member: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Authorize implements auth.Authorizer. Owners hold every permission;
// members may view and attach; viewers may only view. Only owners terminate
// or manage membership.
func (s *Store) Authorize(ctx context.Context, p auth.Principal, sessionID string, perm auth.Permission) (bool, error) {
	info, err := s.Session(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if info.OwnerID == p.UserID {
		return true, nil
	}

	var role string
	err = s.db.QueryRowContext(ctx,
		`SELECT role FROM session_members WHERE session_id = ? AND user_id = ?`,
		sessionID, p.UserID,
	).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("scan member: %w", err)
	}

	switch perm {
	case auth.PermissionView:
		return true, nil
	case auth.PermissionAttach:
		return Role(role) == RoleMember, nil
	default:
		return false, nil
	}
}

// SetSubscription upserts a user's plan
func (s *Store) SetSubscription(ctx context.Context, sub Subscription) error {
	if sub.UserID == "" || sub.Plan == "" {
		return errors.New("store: subscription needs a user and a plan")
	}
	if sub.UpdatedAt.IsZero() {
		sub.UpdatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions(user_id, plan, assistant_quota, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			plan = excluded.plan,
			assistant_quota = excluded.assistant_quota,
			updated_at = excluded.updated_at`,
		sub.UserID, sub.Plan, sub.AssistantQuota, formatTime(sub.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

// Subscription returns a user's plan record
func (s *Store) Subscription(ctx context.Context, userID string) (Subscription, error) {
	var (
		sub       Subscription
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, plan, assistant_quota, updated_at FROM subscriptions WHERE user_id = ?`,
		userID,
	).Scan(&sub.UserID, &sub.Plan, &sub.AssistantQuota, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Subscription{}, ErrNotFound
	}
	if err != nil {
		return Subscription{}, fmt.Errorf("scan subscription: %w", err)
	}
	if sub.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return Subscription{}, fmt.Errorf("parse subscription updated_at: %w", err)
	}
	return sub, nil
}

// AssistantEntitled implements auth.Entitlements: paid plans, or any plan
// with assistant quota left, qualify
func (s *Store) AssistantEntitled(ctx context.Context, userID string) (bool, error) {
	sub, err := s.Subscription(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	switch sub.Plan {
	case PlanPro, PlanTeam:
		return true, nil
	}
	return sub.AssistantQuota > 0, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

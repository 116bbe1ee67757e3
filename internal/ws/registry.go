package ws

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/webterm/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/webterm/internal/protocol"
	"github.com/GriffinCanCode/webterm/internal/shared/id"
)

var (
	ErrUnknownConnection = errors.New("ws: unknown connection")
	ErrDeliveryFailed    = errors.New("ws: delivery failed")
)

// RegistryConfig tunes per-connection write pumps
type RegistryConfig struct {
	QueueSize    int
	PingInterval time.Duration
	WriteWait    time.Duration
}

// DefaultRegistryConfig returns production defaults
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		QueueSize:    256,
		PingInterval: 30 * time.Second,
		WriteWait:    10 * time.Second,
	}
}

type idSet map[id.ConnectionID]struct{}

// Registry tracks every live client connection, indexed by id, by user and
// by session. Deliveries are resolved against the indexes at call time and
// enqueued while the registry lock is held, so frames for one session reach
// every subscriber in the same order.
type Registry struct {
	mu        sync.Mutex
	conns     map[id.ConnectionID]*Connection
	byUser    map[string]idSet
	bySession map[string]idSet

	cfg     RegistryConfig
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// NewRegistry creates an empty connection registry
func NewRegistry(cfg RegistryConfig, logger *zap.Logger) *Registry {
	def := DefaultRegistryConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		conns:     make(map[id.ConnectionID]*Connection),
		byUser:    make(map[string]idSet),
		bySession: make(map[string]idSet),
		cfg:       cfg,
		logger:    logger.Named("connections"),
	}
}

// WithMetrics attaches metrics collection
func (r *Registry) WithMetrics(metrics *monitoring.Metrics) *Registry {
	r.metrics = metrics
	return r
}

// Connect registers a transport under (userID, sessionID), starts its write
// pump and returns a fresh connection id
func (r *Registry) Connect(t Transport, userID, sessionID string) id.ConnectionID {
	cid := id.NewConnectionID()
	conn := newConnection(cid, t, userID, sessionID, r.cfg.QueueSize)

	r.mu.Lock()
	r.conns[cid] = conn
	index(r.byUser, userID, cid)
	index(r.bySession, sessionID, cid)
	r.mu.Unlock()

	go conn.writePump(r.cfg.PingInterval, r.cfg.WriteWait, r.logger)

	r.metrics.IncWSConnections()
	r.logger.Info("connection registered",
		zap.String("connection_id", cid.String()),
		zap.String("user_id", userID),
		zap.String("session_id", sessionID),
	)
	return cid
}

// Disconnect removes a connection from every index and stops its write pump.
// It never touches the session's terminals.
func (r *Registry) Disconnect(cid id.ConnectionID) bool {
	r.mu.Lock()
	conn, ok := r.conns[cid]
	if ok {
		delete(r.conns, cid)
		unindex(r.byUser, conn.UserID, cid)
		unindex(r.bySession, conn.SessionID, cid)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	conn.close()
	r.metrics.DecWSConnections()
	r.logger.Info("connection removed",
		zap.String("connection_id", cid.String()),
		zap.String("user_id", conn.UserID),
		zap.String("session_id", conn.SessionID),
	)
	return true
}

// Connection looks up a live connection
func (r *Registry) Connection(cid id.ConnectionID) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[cid]
	return c, ok
}

// SendToConnection delivers env to a single connection
func (r *Registry) SendToConnection(env protocol.Envelope, cid id.ConnectionID) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[cid]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, cid)
	}
	if !r.deliver(conn, data, env.Kind) {
		return fmt.Errorf("%w: %s", ErrDeliveryFailed, cid)
	}
	return nil
}

// SendToUser delivers env to every connection of a user and returns how many
// accepted it
func (r *Registry) SendToUser(env protocol.Envelope, userID string) int {
	return r.fanout(env, func() idSet { return r.byUser[userID] })
}

// BroadcastToSession delivers env to every connection subscribed to the
// session and returns how many accepted it
func (r *Registry) BroadcastToSession(env protocol.Envelope, sessionID string) int {
	return r.fanout(env, func() idSet { return r.bySession[sessionID] })
}

// BroadcastToAll delivers env to every connection
func (r *Registry) BroadcastToAll(env protocol.Envelope) int {
	return r.fanout(env, func() idSet {
		all := make(idSet, len(r.conns))
		for cid := range r.conns {
			all[cid] = struct{}{}
		}
		return all
	})
}

// fanout encodes once and enqueues to the targets resolved under the lock
func (r *Registry) fanout(env protocol.Envelope, targets func() idSet) int {
	data, err := protocol.Encode(env)
	if err != nil {
		r.logger.Error("failed to encode envelope", zap.String("type", string(env.Kind)), zap.Error(err))
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delivered := 0
	for cid := range targets() {
		conn, ok := r.conns[cid]
		if !ok {
			continue
		}
		if r.deliver(conn, data, env.Kind) {
			delivered++
		}
	}
	return delivered
}

// deliver enqueues to one connection. A connection that cannot keep up is
// closed; its client reconnects and gets the scrollback replay. Must be
// called with r.mu held.
func (r *Registry) deliver(conn *Connection, data []byte, kind protocol.Kind) bool {
	if conn.enqueue(data) {
		r.metrics.RecordWSMessage("outbound", string(kind))
		return true
	}

	r.metrics.IncWSDeliveryFailures()
	r.logger.Warn("dropping slow or closed connection",
		zap.String("connection_id", conn.ID.String()),
		zap.String("session_id", conn.SessionID),
	)
	conn.close()
	return false
}

// ConnectionCount returns the number of live connections
func (r *Registry) ConnectionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// ActiveSessions returns the sorted ids of sessions with at least one connection
func (r *Registry) ActiveSessions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions := make([]string, 0, len(r.bySession))
	for sid := range r.bySession {
		sessions = append(sessions, sid)
	}
	sort.Strings(sessions)
	return sessions
}

// SessionUsers returns the sorted distinct users connected to a session
func (r *Registry) SessionUsers(sessionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{})
	for cid := range r.bySession[sessionID] {
		if conn, ok := r.conns[cid]; ok {
			seen[conn.UserID] = struct{}{}
		}
	}
	users := make([]string, 0, len(seen))
	for u := range seen {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// SessionConnectionCount returns how many connections subscribe to a session
func (r *Registry) SessionConnectionCount(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bySession[sessionID])
}

// CloseAll closes and unregisters every connection
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[id.ConnectionID]*Connection)
	r.byUser = make(map[string]idSet)
	r.bySession = make(map[string]idSet)
	r.mu.Unlock()

	for _, conn := range conns {
		conn.close()
		r.metrics.DecWSConnections()
	}
	for _, conn := range conns {
		<-conn.pumpDone
	}
	r.logger.Info("all connections closed", zap.Int("count", len(conns)))
}

func index(m map[string]idSet, key string, cid id.ConnectionID) {
	set, ok := m[key]
	if !ok {
		set = make(idSet)
		m[key] = set
	}
	set[cid] = struct{}{}
}

func unindex(m map[string]idSet, key string, cid id.ConnectionID) {
	set, ok := m[key]
	if !ok {
		return
	}
	delete(set, cid)
	if len(set) == 0 {
		delete(m, key)
	}
}

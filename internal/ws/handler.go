package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/webterm/internal/assistant"
	"github.com/GriffinCanCode/webterm/internal/auth"
	"github.com/GriffinCanCode/webterm/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/webterm/internal/protocol"
	"github.com/GriffinCanCode/webterm/internal/shared/id"
	"github.com/GriffinCanCode/webterm/internal/shared/utils"
	"github.com/GriffinCanCode/webterm/internal/terminal"
)

// Launcher builds the manager for key. entitled carries the caller's plan
// check so assisted terminals can refuse before spawning anything.
type Launcher func(key terminal.Key, entitled bool) (terminal.Manager, error)

// Chat answers prompts on behalf of a session
type Chat interface {
	Stream(ctx context.Context, p assistant.Prompt) []protocol.Envelope
}

// HandlerOptions wires the real-time endpoint
type HandlerOptions struct {
	Gate        *auth.Gate
	Terminals   *terminal.Registry
	Connections *Registry
	Launch      Launcher
	Chat        Chat

	AllowedOrigins  []string
	FramesPerSecond int
	FrameBurst      int
	ReadLimit       int64
	PongWait        time.Duration
	StartTimeout    time.Duration
	ChatQueue       int

	Metrics *monitoring.Metrics
	Logger  *zap.Logger
}

// Handler serves GET /ws/:session_id
type Handler struct {
	opts     HandlerOptions
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHandler creates the real-time endpoint handler
func NewHandler(opts HandlerOptions) *Handler {
	if opts.FramesPerSecond <= 0 {
		opts.FramesPerSecond = 50
	}
	if opts.FrameBurst <= 0 {
		opts.FrameBurst = 100
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 1 << 20
	}
	if opts.PongWait <= 0 {
		opts.PongWait = 60 * time.Second
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = 30 * time.Second
	}
	if opts.ChatQueue <= 0 {
		opts.ChatQueue = 8
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	h := &Handler{opts: opts, logger: opts.Logger.Named("ws")}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// HandleConnection validates the caller, then upgrades and serves the socket.
// Nothing is upgraded unless every check passes.
func (h *Handler) HandleConnection(c *gin.Context) {
	sessionID := c.Param("session_id")
	if err := utils.ValidateID(sessionID, "session_id", true); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	kind, err := terminal.ParseKind(c.Query("kind"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	principal, info, err := h.opts.Gate.Admit(ctx, auth.BearerToken(c.Request), sessionID, auth.PermissionAttach)
	if err != nil {
		h.reject(c, sessionID, err)
		return
	}

	entitled := false
	if kind == terminal.KindAssisted {
		entitled, err = h.opts.Gate.AssistantEntitled(ctx, principal)
		if err == nil && !entitled {
			err = auth.ErrNotEntitled
		}
		if err != nil {
			h.reject(c, sessionID, err)
			return
		}
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}

	h.serve(conn, principal, info, terminal.Key{SessionID: sessionID, Kind: kind}, entitled)
}

// reject answers a failed admission. Unknown sessions and missing
// permissions look the same to the caller.
func (h *Handler) reject(c *gin.Context, sessionID string, err error) {
	status := http.StatusForbidden
	if errors.Is(err, auth.ErrMissingCredential) {
		status = http.StatusUnauthorized
	}
	h.logger.Info("connection refused",
		zap.String("session_id", sessionID),
		zap.Int("status", status),
		zap.Error(err),
	)
	c.AbortWithStatusJSON(status, gin.H{"error": http.StatusText(status)})
}

// session is the per-connection state of the read loop
type session struct {
	h         *Handler
	conn      *websocket.Conn
	cid       id.ConnectionID
	principal auth.Principal
	key       terminal.Key
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	chats  chan assistant.Prompt
	wg     sync.WaitGroup
}

func (h *Handler) serve(conn *websocket.Conn, principal auth.Principal, info auth.SessionInfo, key terminal.Key, entitled bool) {
	logger := h.logger.With(
		zap.String("session_id", key.SessionID),
		zap.String("kind", string(key.Kind)),
		zap.String("user_id", principal.UserID),
	)

	startCtx, cancelStart := context.WithTimeout(context.Background(), h.opts.StartTimeout)
	mgr, created, err := h.opts.Terminals.GetOrStart(startCtx, key, func(k terminal.Key) (terminal.Manager, error) {
		return h.opts.Launch(k, entitled)
	})
	cancelStart()
	if err != nil {
		logger.Warn("terminal unavailable", zap.Error(err))
		h.refuse(conn, protocol.Error(key.SessionID, "terminal", "Failed to start terminal: "+err.Error()))
		return
	}

	cid := h.opts.Connections.Connect(conn, principal.UserID, key.SessionID)
	s := &session{
		h:         h,
		conn:      conn,
		cid:       cid,
		principal: principal,
		key:       key,
		logger:    logger.With(zap.String("connection_id", cid.String())),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	defer s.close()

	s.send(protocol.System(key.SessionID, "Connected to terminal session", map[string]any{
		"connection_id": cid.String(),
		"session": map[string]any{
			"id":         info.ID,
			"name":       info.Name,
			"owner_id":   info.OwnerID,
			"created_at": info.CreatedAt.Format(time.RFC3339),
		},
		"terminal": terminalInfo(mgr.Info(), created),
	}))
	if scrollback := mgr.Scrollback(); len(scrollback) > 0 {
		s.send(protocol.TerminalOutput(key.SessionID, string(key.Kind), scrollback))
	}
	h.opts.Connections.BroadcastToSession(s.presence(protocol.EventJoin), key.SessionID)

	if key.Kind == terminal.KindAssisted && h.opts.Chat != nil {
		s.chats = make(chan assistant.Prompt, h.opts.ChatQueue)
		s.wg.Add(1)
		go s.chatWorker()
	}

	s.readLoop()
}

// refuse reports a failure on a socket that never got registered and closes it
func (h *Handler) refuse(conn *websocket.Conn, env protocol.Envelope) {
	defer conn.Close()
	if data, err := protocol.Encode(env); err == nil {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		conn.WriteMessage(websocket.TextMessage, data)
	}
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "terminal unavailable"))
}

func terminalInfo(info terminal.Info, created bool) map[string]any {
	return map[string]any{
		"kind":              string(info.Kind),
		"state":             info.State,
		"working_directory": info.WorkDir,
		"created":           created,
		"assistant_active":  info.AssistantActive,
	}
}

func (s *session) send(env protocol.Envelope) {
	if err := s.h.opts.Connections.SendToConnection(env, s.cid); err != nil {
		s.logger.Debug("send failed", zap.String("type", string(env.Kind)), zap.Error(err))
	}
}

func (s *session) fail(scope, message string) {
	s.send(protocol.Error(s.key.SessionID, scope, message))
}

func (s *session) presence(event string) protocol.Envelope {
	return protocol.Status(s.key.SessionID, s.principal.UserID, event, map[string]any{
		"connection_id": s.cid.String(),
		"users":         s.h.opts.Connections.SessionUsers(s.key.SessionID),
		"connections":   s.h.opts.Connections.SessionConnectionCount(s.key.SessionID),
	})
}

func (s *session) readLoop() {
	pongWait := s.h.opts.PongWait
	s.conn.SetReadLimit(s.h.opts.ReadLimit)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	limiter := rate.NewLimiter(rate.Limit(s.h.opts.FramesPerSecond), s.h.opts.FrameBurst)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))

		if !limiter.Allow() {
			s.fail("protocol", "Rate limit exceeded, frame dropped")
			continue
		}

		env, err := protocol.Decode(data)
		if err != nil {
			s.h.opts.Metrics.RecordWSMessage("inbound", "invalid")
			s.fail("protocol", err.Error())
			continue
		}
		s.h.opts.Metrics.RecordWSMessage("inbound", string(env.Kind))
		s.route(env)
	}
}

func (s *session) route(env protocol.Envelope) {
	switch env.Kind {
	case protocol.KindTerminal:
		s.handleTerminal(env)
	case protocol.KindChat:
		s.handleChat(env)
	default:
		s.logger.Debug("ignoring inbound frame", zap.String("type", string(env.Kind)))
	}
}

func (s *session) handleTerminal(env protocol.Envelope) {
	in, err := protocol.ParseTerminalInput(env)
	if err == nil {
		err = utils.ValidateTerminalInput(in.Command)
	}
	if err != nil {
		s.fail("protocol", err.Error())
		return
	}

	mgr, ok := s.h.opts.Terminals.Get(s.key)
	if !ok || mgr.State() != terminal.StateRunning {
		s.fail("terminal", "Terminal is not running")
		return
	}

	if in.HasResize() {
		if err := mgr.Resize(uint16(in.Cols), uint16(in.Rows)); err != nil {
			s.fail("terminal", "Resize failed: "+err.Error())
		}
	}
	if in.Command != "" {
		if err := mgr.Write([]byte(in.Command)); err != nil {
			s.fail("terminal", "Write failed: "+err.Error())
		}
	}
}

func (s *session) handleChat(env protocol.Envelope) {
	if s.chats == nil {
		s.fail("chat", "Chat is only available on assisted terminals")
		return
	}
	req, err := protocol.ParseChatRequest(env)
	if err == nil {
		err = utils.ValidateMessage(req.Message)
	}
	if err != nil {
		s.fail("protocol", err.Error())
		return
	}

	var sub *assistant.Session
	if mgr, ok := s.h.opts.Terminals.Get(s.key); ok {
		sub, _ = mgr.Assistant().(*assistant.Session)
	}

	prompt := assistant.Prompt{
		SessionID: s.key.SessionID,
		UserID:    s.principal.UserID,
		Text:      req.Message,
		Stream:    req.Stream,
		Session:   sub,
	}
	select {
	case s.chats <- prompt:
	default:
		s.fail("chat", "Assistant is busy, try again shortly")
	}
}

// chatWorker answers this connection's prompts one at a time so responses
// never interleave
func (s *session) chatWorker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case p, ok := <-s.chats:
			if !ok {
				return
			}
			s.h.opts.Chat.Stream(s.ctx, p)
		}
	}
}

// close unregisters the connection and stops its work. The terminal keeps
// running for other and future subscribers.
func (s *session) close() {
	s.h.opts.Connections.Disconnect(s.cid)
	s.cancel()
	s.wg.Wait()
	s.h.opts.Connections.BroadcastToSession(s.presence(protocol.EventLeave), s.key.SessionID)
	s.logger.Info("connection closed")
}

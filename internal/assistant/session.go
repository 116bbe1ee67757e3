package assistant

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Message senders recorded in a session's history
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
	SenderSystem    = "system"
	SenderError     = "error"
)

const defaultHistoryLimit = 500

// Message is one history entry
type Message struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionInfo is a snapshot of a session for status endpoints
type SessionInfo struct {
	SessionID    string    `json:"session_id"`
	WorkDir      string    `json:"working_directory"`
	Active       bool      `json:"is_active"`
	Backend      string    `json:"backend"`
	CreatedAt    time.Time `json:"created_at"`
	MessageCount int       `json:"message_count"`
}

// Session is the assistant half of an assisted terminal. It owns the
// conversation history; the backend does the answering.
type Session struct {
	id        string
	workDir   string
	backend   Backend
	profile   Profile
	createdAt time.Time
	limit     int
	logger    *zap.Logger

	mu       sync.Mutex
	active   bool
	messages []Message
}

// NewSession creates an inactive session
func NewSession(sessionID, workDir string, backend Backend, profile Profile, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		id:        sessionID,
		workDir:   workDir,
		backend:   backend,
		profile:   profile,
		createdAt: time.Now().UTC(),
		limit:     defaultHistoryLimit,
		logger:    logger.Named("assistant").With(zap.String("session_id", sessionID)),
	}
}

// Start prepares the working directory and activates the session
func (s *Session) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.backend == nil {
		err := fmt.Errorf("%w: no backend configured", ErrUnreachable)
		s.Record(SenderError, err.Error())
		return err
	}
	if err := os.MkdirAll(s.workDir, 0o755); err != nil {
		err = fmt.Errorf("create assistant working directory: %w", err)
		s.Record(SenderError, err.Error())
		return err
	}

	s.mu.Lock()
	s.active = true
	s.mu.Unlock()

	s.Record(SenderSystem, fmt.Sprintf("Assistant session started (backend: %s, working directory: %s)", s.backend.Name(), s.workDir))
	s.logger.Info("assistant session started", zap.String("backend", s.backend.Name()))
	return nil
}

// Close deactivates the session; safe to call repeatedly
func (s *Session) Close() error {
	s.mu.Lock()
	wasActive := s.active
	s.active = false
	s.mu.Unlock()

	if wasActive {
		s.Record(SenderSystem, "Assistant session stopped")
		s.logger.Info("assistant session stopped")
	}
	return nil
}

// Active reports whether prompts are accepted
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Session) ID() string       { return s.id }
func (s *Session) WorkDir() string  { return s.workDir }
func (s *Session) Profile() Profile { return s.profile }

// Backend returns the backend answering this session
func (s *Session) Backend() Backend { return s.backend }

// Record appends a history entry and returns it
func (s *Session) Record(sender, content string) Message {
	msg := Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}

	s.mu.Lock()
	s.messages = append(s.messages, msg)
	if over := len(s.messages) - s.limit; over > 0 {
		s.messages = append([]Message(nil), s.messages[over:]...)
	}
	s.mu.Unlock()
	return msg
}

// History returns a copy of the conversation, oldest first
func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Info returns a status snapshot
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := SessionInfo{
		SessionID:    s.id,
		WorkDir:      s.workDir,
		Active:       s.active,
		CreatedAt:    s.createdAt,
		MessageCount: len(s.messages),
	}
	if s.backend != nil {
		info.Backend = s.backend.Name()
	}
	return info
}

// request builds a backend request, refusing when the session is inactive
func (s *Session) request(prompt string) (Request, error) {
	if s == nil || !s.Active() {
		return Request{}, ErrInactive
	}
	return Request{
		SessionID: s.id,
		Prompt:    prompt,
		WorkDir:   s.workDir,
		Profile:   s.profile,
	}, nil
}

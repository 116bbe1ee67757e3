package terminal

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotEntitled rejects an assisted terminal before anything is spawned
	ErrNotEntitled = errors.New("assisted terminal requires an entitled plan")
	// ErrNotRunning is returned by I/O on a manager that is not running
	ErrNotRunning = errors.New("terminal not running")
	// ErrAlreadyStarted is returned when Start is called twice
	ErrAlreadyStarted = errors.New("terminal already started")
	// ErrUnknownKind rejects a terminal kind selector outside the vocabulary
	ErrUnknownKind = errors.New("unknown terminal kind")
	// ErrStartCancelled is returned to starters whose terminal was removed
	// before it finished starting
	ErrStartCancelled = errors.New("terminal removed while starting")
)

// Kind selects the terminal variant
type Kind string

const (
	KindBasic    Kind = "basic"
	KindAssisted Kind = "assisted"
)

// Kinds lists every terminal kind
var Kinds = []Kind{KindBasic, KindAssisted}

// ParseKind maps a client selector onto a Kind. An empty selector means basic.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "", string(KindBasic):
		return KindBasic, nil
	case string(KindAssisted), "claude":
		return KindAssisted, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Key identifies one terminal: a logical session plus a kind
type Key struct {
	SessionID string
	Kind      Kind
}

func (k Key) String() string {
	return k.SessionID + "/" + string(k.Kind)
}

// State is a manager's lifecycle position. Transitions only move forward.
type State int32

const (
	StateUninitialized State = iota
	StateStarting
	StateRunning
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// OutputFunc receives shell output. It runs on the manager's pump goroutine
// and must not block.
type OutputFunc func(key Key, data []byte)

// SubSession is the assistant conversation attached to an assisted terminal
type SubSession interface {
	Start(ctx context.Context) error
	Close() error
	Active() bool
}

// Manager is one live terminal. Plain and Assisted implement it.
type Manager interface {
	Key() Key
	State() State
	Start(ctx context.Context) error
	Write(data []byte) error
	Resize(cols, rows uint16) error
	Scrollback() []byte
	Terminate()
	Done() <-chan struct{}
	Info() Info
	// Assistant returns the attached sub-session, nil for plain terminals
	Assistant() SubSession
}

// Info is the public representation of a terminal
type Info struct {
	SessionID       string    `json:"session_id"`
	Kind            Kind      `json:"kind"`
	State           string    `json:"state"`
	WorkDir         string    `json:"working_directory"`
	CreatedAt       time.Time `json:"created_at"`
	PID             int       `json:"pid,omitempty"`
	Initialized     bool      `json:"initialized"`
	Alive           bool      `json:"alive"`
	AssistantActive bool      `json:"assistant_active"`
}

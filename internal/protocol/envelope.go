package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
)

// Kind is the envelope type tag carried in the "type" field
type Kind string

const (
	KindChat     Kind = "chat"
	KindTerminal Kind = "terminal"
	KindSystem   Kind = "system"
	KindStatus   Kind = "status"
	KindError    Kind = "error"
)

// Valid reports whether k belongs to the fixed vocabulary
func (k Kind) Valid() bool {
	switch k {
	case KindChat, KindTerminal, KindSystem, KindStatus, KindError:
		return true
	default:
		return false
	}
}

var (
	ErrMalformed   = errors.New("malformed envelope")
	ErrUnknownKind = errors.New("unknown envelope kind")
)

// naiveISO is accepted on decode for clients that omit the zone designator
const naiveISO = "2006-01-02T15:04:05.999999999"

// Envelope is the typed message exchanged over the real-time transport.
// Treat values as immutable once built.
type Envelope struct {
	Kind      Kind
	Data      map[string]any
	UserID    *string
	SessionID *string
	Timestamp time.Time
}

type wireEnvelope struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	UserID    *string        `json:"user_id"`
	SessionID *string        `json:"session_id"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// New builds an envelope stamped with the current UTC time
func New(kind Kind, data map[string]any, userID, sessionID *string) Envelope {
	if data == nil {
		data = map[string]any{}
	}
	return Envelope{
		Kind:      kind,
		Data:      data,
		UserID:    userID,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
	}
}

// Session returns the session id or "" when unset
func (e Envelope) Session() string {
	if e.SessionID == nil {
		return ""
	}
	return *e.SessionID
}

// User returns the user id or "" when unset
func (e Envelope) User() string {
	if e.UserID == nil {
		return ""
	}
	return *e.UserID
}

// Text returns a data field as a string, "" if absent or not a string
func (e Envelope) Text(key string) string {
	s, _ := e.Data[key].(string)
	return s
}

// Flag returns a data field as a bool, false if absent or not a bool
func (e Envelope) Flag(key string) bool {
	b, _ := e.Data[key].(bool)
	return b
}

// Encode serializes the envelope as one JSON text frame
func Encode(e Envelope) ([]byte, error) {
	if !e.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}

	data := e.Data
	if data == nil {
		data = map[string]any{}
	}

	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return sonic.Marshal(wireEnvelope{
		Type:      string(e.Kind),
		Data:      data,
		UserID:    e.UserID,
		SessionID: e.SessionID,
		Timestamp: ts.UTC().Format(time.RFC3339Nano),
	})
}

// Decode parses one JSON text frame. Unknown kinds are rejected.
func Decode(raw []byte) (Envelope, error) {
	var w wireEnvelope
	if err := sonic.Unmarshal(raw, &w); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if w.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	kind := Kind(w.Type)
	if !kind.Valid() {
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownKind, w.Type)
	}

	ts, err := parseTimestamp(w.Timestamp)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: timestamp: %v", ErrMalformed, err)
	}

	if w.Data == nil {
		w.Data = map[string]any{}
	}

	return Envelope{
		Kind:      kind,
		Data:      w.Data,
		UserID:    w.UserID,
		SessionID: w.SessionID,
		Timestamp: ts,
	}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.ParseInLocation(naiveISO, s, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

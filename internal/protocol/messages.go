package protocol

import (
	"fmt"
	"math"
	"strings"
)

// Sender values carried by chat envelopes
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

// Status events broadcast when participants come and go
const (
	EventJoin  = "join"
	EventLeave = "leave"
)

func ptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// UserChat echoes a participant's prompt to the whole session
func UserChat(sessionID, userID, text string) Envelope {
	return New(KindChat, map[string]any{
		"message":   text,
		"sender":    SenderUser,
		"streaming": false,
	}, ptr(userID), ptr(sessionID))
}

// Chunk is one partial assistant increment
func Chunk(sessionID, text string) Envelope {
	return New(KindChat, map[string]any{
		"message_chunk": text,
		"streaming":     true,
	}, nil, ptr(sessionID))
}

// Final terminates an assistant response. When failed is set, text
// describes the failure instead of carrying an answer.
func Final(sessionID, text string, failed bool) Envelope {
	data := map[string]any{
		"message":   text,
		"streaming": false,
		"complete":  true,
		"sender":    SenderAssistant,
	}
	if failed {
		data["error"] = true
	}
	return New(KindChat, data, nil, ptr(sessionID))
}

// IsFinal reports whether e terminates an assistant response
func IsFinal(e Envelope) bool {
	return e.Kind == KindChat && e.Flag("complete")
}

// IsChunk reports whether e is a partial assistant increment
func IsChunk(e Envelope) bool {
	return e.Kind == KindChat && e.Flag("streaming")
}

// TerminalOutput carries raw shell output under the same key clients use for
// input. terminal names the shell kind that produced it so a session's
// subscribers can tell the basic and assisted shells apart.
//
// Output is replaced with U+FFFD wherever it is not valid UTF-8, since a
// text frame carrying invalid UTF-8 makes browsers drop the socket.
func TerminalOutput(sessionID, terminal string, output []byte) Envelope {
	data := map[string]any{"command": strings.ToValidUTF8(string(output), "\uFFFD")}
	if terminal != "" {
		data["terminal"] = terminal
	}
	return New(KindTerminal, data, nil, ptr(sessionID))
}

// Error reports a failure. scope names the pipeline that failed
// ("protocol", "terminal", "chat", "session").
func Error(sessionID, scope, message string) Envelope {
	return New(KindError, map[string]any{
		"message": message,
		"scope":   scope,
	}, nil, ptr(sessionID))
}

// System carries server notices such as the welcome message
func System(sessionID, message string, extra map[string]any) Envelope {
	data := map[string]any{"message": message}
	for k, v := range extra {
		data[k] = v
	}
	return New(KindSystem, data, nil, ptr(sessionID))
}

// Status announces a presence change inside a session
func Status(sessionID, userID, event string, extra map[string]any) Envelope {
	data := map[string]any{"event": event}
	for k, v := range extra {
		data[k] = v
	}
	return New(KindStatus, data, ptr(userID), ptr(sessionID))
}

// ChatRequest is the client→server chat payload
type ChatRequest struct {
	Message string
	Stream  bool
}

// ParseChatRequest reads a chat payload; stream defaults to true
func ParseChatRequest(e Envelope) (ChatRequest, error) {
	msg, ok := e.Data["message"].(string)
	if !ok || msg == "" {
		return ChatRequest{}, fmt.Errorf("%w: chat message must be a non-empty string", ErrMalformed)
	}

	req := ChatRequest{Message: msg, Stream: true}
	if v, present := e.Data["stream"]; present {
		b, ok := v.(bool)
		if !ok {
			return ChatRequest{}, fmt.Errorf("%w: stream must be a boolean", ErrMalformed)
		}
		req.Stream = b
	}
	return req, nil
}

// MaxWindowDimension bounds resize requests; larger values are rejected
// rather than wrapped into the kernel's 16-bit window size
const MaxWindowDimension = 4096

func windowDimension(v any) (int, bool) {
	f, ok := v.(float64)
	if !ok || f < 1 || f > MaxWindowDimension || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

// TerminalInput is the client→server terminal payload
type TerminalInput struct {
	Command string
	Cols    int
	Rows    int
}

// HasResize reports whether the frame asked for a window size change
func (t TerminalInput) HasResize() bool {
	return t.Cols > 0 && t.Rows > 0
}

// ParseTerminalInput reads raw input bytes plus an optional
// {"resize": {"cols": n, "rows": n}} field.
func ParseTerminalInput(e Envelope) (TerminalInput, error) {
	var in TerminalInput

	if v, present := e.Data["command"]; present {
		cmd, ok := v.(string)
		if !ok {
			return in, fmt.Errorf("%w: command must be a string", ErrMalformed)
		}
		in.Command = cmd
	}

	if v, present := e.Data["resize"]; present {
		size, ok := v.(map[string]any)
		if !ok {
			return in, fmt.Errorf("%w: resize must be an object", ErrMalformed)
		}
		cols, okc := windowDimension(size["cols"])
		rows, okr := windowDimension(size["rows"])
		if !okc || !okr {
			return in, fmt.Errorf("%w: resize needs whole cols and rows between 1 and %d", ErrMalformed, MaxWindowDimension)
		}
		in.Cols, in.Rows = cols, rows
	}

	if in.Command == "" && !in.HasResize() {
		return in, fmt.Errorf("%w: terminal frame carries neither command nor resize", ErrMalformed)
	}
	return in, nil
}

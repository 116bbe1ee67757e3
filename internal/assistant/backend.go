package assistant

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Request is one prompt sent to a backend
type Request struct {
	SessionID string
	Prompt    string
	WorkDir   string
	Profile   Profile
}

// DeltaFunc receives each increment of a streamed answer in order. Returning
// an error stops the stream.
type DeltaFunc func(delta string) error

// Backend is an external assistant
type Backend interface {
	Name() string
	// Stream delivers the answer incrementally through onDelta
	Stream(ctx context.Context, req Request, onDelta DeltaFunc) error
	// Complete blocks until the whole answer is available
	Complete(ctx context.Context, req Request) (string, error)
}

// EchoBackend answers without any external assistant. It is used when no
// backend is configured and in tests.
type EchoBackend struct {
	// Delay is slept between streamed words
	Delay time.Duration
}

func (e *EchoBackend) Name() string { return "echo" }

func (e *EchoBackend) reply(prompt string) string {
	return fmt.Sprintf("Assistant (mock): received %q. Configure ASSISTANT_BACKEND to connect a real assistant.", prompt)
}

// Complete implements Backend
func (e *EchoBackend) Complete(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return e.reply(req.Prompt), nil
}

// Stream implements Backend, emitting the reply word by word
func (e *EchoBackend) Stream(ctx context.Context, req Request, onDelta DeltaFunc) error {
	words := strings.SplitAfter(e.reply(req.Prompt), " ")
	for _, w := range words {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := onDelta(w); err != nil {
			return err
		}
		if e.Delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.Delay):
			}
		}
	}
	return nil
}

package assistant

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/webterm/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/webterm/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/webterm/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/webterm/internal/protocol"
)

// Chunk is one unit of an assistant response. Every response is zero or
// more partial chunks followed by exactly one Final chunk.
type Chunk struct {
	Text     string
	Final    bool
	Failed   bool
	Category Category
}

// Broadcaster fans envelopes out to a session's subscribers
type Broadcaster interface {
	BroadcastToSession(env protocol.Envelope, sessionID string) int
}

// Prompt is a chat request from one participant of a session
type Prompt struct {
	SessionID string
	UserID    string
	Text      string
	Stream    bool
	Session   *Session
}

// AdapterOptions configures an Adapter
type AdapterOptions struct {
	Breaker *resilience.Breaker
	// Timeout bounds a single response; zero means no limit
	Timeout time.Duration
	// Streaming disables incremental answers server-wide when false
	Streaming bool
	Tracer    *tracing.Tracer
	Metrics   *monitoring.Metrics
	Logger    *zap.Logger
}

// Adapter turns prompts into ordered chat envelopes for a session
type Adapter struct {
	out    Broadcaster
	opts   AdapterOptions
	policy *bluemonday.Policy
	logger *zap.Logger
}

// NewAdapter creates an adapter broadcasting through out
func NewAdapter(out Broadcaster, opts AdapterOptions) *Adapter {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		out:    out,
		opts:   opts,
		policy: bluemonday.StrictPolicy(),
		logger: logger.Named("assistant"),
	}
}

// NewBreaker builds the breaker guarding assistant calls. Only failures that
// say something about the backend's health count against it.
func NewBreaker(metrics *monitoring.Metrics) *resilience.Breaker {
	return resilience.New("assistant", resilience.Settings{
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, _ resilience.State, to resilience.State) {
			metrics.SetBreakerState(name, int(to))
		},
		IsSuccessful: func(err error) bool {
			switch Classify(err) {
			case CategoryNone, CategoryCancelled, CategoryQuota, CategoryMalformed:
				return true
			}
			return false
		},
	})
}

// Produce runs the prompt against the session's backend. The returned
// channel always ends with exactly one Final chunk and is then closed.
// Partial texts concatenated in order are a prefix of the final text.
func (a *Adapter) Produce(ctx context.Context, p Prompt) <-chan Chunk {
	ch := make(chan Chunk, 16)

	go func() {
		defer close(ch)

		req, err := p.Session.request(p.Text)
		if err != nil {
			ch <- failure("", err)
			return
		}

		if a.opts.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, a.opts.Timeout)
			defer cancel()
		}

		backend := p.Session.Backend()
		var (
			partial strings.Builder
			full    string
		)

		call := func() error {
			if !a.streaming(p) {
				text, err := backend.Complete(ctx, req)
				full = text
				return err
			}
			return backend.Stream(ctx, req, func(delta string) error {
				if delta == "" {
					return nil
				}
				select {
				case ch <- Chunk{Text: delta}:
					partial.WriteString(delta)
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
		}

		if a.opts.Breaker != nil {
			err = a.opts.Breaker.Execute(call)
		} else {
			err = call()
		}

		if err != nil {
			ch <- failure(partial.String(), err)
			return
		}
		if a.streaming(p) {
			full = partial.String()
		}
		ch <- Chunk{Text: full, Final: true}
	}()

	return ch
}

func (a *Adapter) streaming(p Prompt) bool {
	return p.Stream && a.opts.Streaming
}

// failure builds the terminating chunk for a failed response. Text already
// streamed stays in front so the final text still extends the partials.
func failure(partial string, err error) Chunk {
	text := Describe(err)
	if partial != "" {
		text = partial + "\n\n" + text
	}
	return Chunk{Text: text, Final: true, Failed: true, Category: Classify(err)}
}

// Stream broadcasts the prompt to the session, then every chunk of the
// answer, and returns the envelopes in the order they were sent.
func (a *Adapter) Stream(ctx context.Context, p Prompt) []protocol.Envelope {
	mode := "complete"
	if a.streaming(p) {
		mode = "stream"
	}
	logger := a.logger.With(
		zap.String("session_id", p.SessionID),
		zap.String("user_id", p.UserID),
		zap.String("mode", mode),
	)

	var span *tracing.Span
	if a.opts.Tracer != nil {
		span, ctx = a.opts.Tracer.StartSpan(ctx, "assistant."+mode)
		span.SetTag("session_id", p.SessionID)
		span.SetTag("user_id", p.UserID)
	}

	emitted := make([]protocol.Envelope, 0, 8)
	emit := func(env protocol.Envelope) {
		a.out.BroadcastToSession(env, p.SessionID)
		emitted = append(emitted, env)
	}

	emit(protocol.UserChat(p.SessionID, p.UserID, a.sanitize(p.Text)))
	if p.Session != nil {
		p.Session.Record(SenderUser, p.Text)
	}

	timer := monitoring.NewTimer(a.opts.Metrics, mode)
	chunks := 0
	var final Chunk

	for c := range a.Produce(ctx, p) {
		if !c.Final {
			chunks++
			a.opts.Metrics.IncAssistantChunks()
			emit(protocol.Chunk(p.SessionID, c.Text))
			continue
		}
		final = c
		emit(protocol.Final(p.SessionID, c.Text, c.Failed))
	}

	outcome := "ok"
	if final.Failed {
		outcome = string(final.Category)
	}
	elapsed := timer.Stop(outcome)

	if span != nil {
		span.SetTag("outcome", outcome)
		if final.Failed {
			a.opts.Tracer.End(span, 502, errors.New(final.Text))
		} else {
			a.opts.Tracer.End(span, 200, nil)
		}
	}

	if p.Session != nil {
		sender := SenderAssistant
		if final.Failed {
			sender = SenderError
		}
		p.Session.Record(sender, final.Text)
	}

	if final.Failed {
		logger.Warn("assistant response failed",
			zap.String("category", string(final.Category)),
			zap.Int("chunks", chunks),
			zap.Duration("elapsed", elapsed),
		)
	} else {
		logger.Info("assistant response complete",
			zap.Int("chunks", chunks),
			zap.Duration("elapsed", elapsed),
		)
	}
	return emitted
}

// sanitize strips markup from the copy of a prompt shown to other participants
func (a *Adapter) sanitize(text string) string {
	if !strings.ContainsRune(text, '<') {
		return text
	}
	return a.policy.Sanitize(text)
}

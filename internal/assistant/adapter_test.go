package assistant

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/webterm/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/webterm/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/webterm/internal/protocol"
)

// recorder is a Broadcaster that keeps everything it was asked to send
type recorder struct {
	mu   sync.Mutex
	sent []protocol.Envelope
}

func (r *recorder) BroadcastToSession(env protocol.Envelope, sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, env)
	return 1
}

func (r *recorder) envelopes() []protocol.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Envelope(nil), r.sent...)
}

// scriptedBackend replays fixed deltas and then fails with err, if set
type scriptedBackend struct {
	deltas []string
	err    error
	calls  atomic.Int32
}

func (s *scriptedBackend) Name() string { return "scripted" }

func (s *scriptedBackend) Stream(ctx context.Context, _ Request, onDelta DeltaFunc) error {
	s.calls.Add(1)
	for _, d := range s.deltas {
		if err := onDelta(d); err != nil {
			return err
		}
	}
	return s.err
}

func (s *scriptedBackend) Complete(ctx context.Context, _ Request) (string, error) {
	s.calls.Add(1)
	if s.err != nil {
		return "", s.err
	}
	return strings.Join(s.deltas, ""), nil
}

func activeSession(t *testing.T, b Backend) *Session {
	t.Helper()
	s := NewSession("S1", t.TempDir(), b, DefaultProfile(), nil)
	require.NoError(t, s.Start(context.Background()))
	return s
}

func partialText(envs []protocol.Envelope) string {
	var sb strings.Builder
	for _, e := range envs {
		if protocol.IsChunk(e) {
			sb.WriteString(e.Data["message_chunk"].(string))
		}
	}
	return sb.String()
}

// assertResponseShape checks: user prompt, partials, exactly one final, last
func assertResponseShape(t *testing.T, envs []protocol.Envelope) protocol.Envelope {
	t.Helper()
	require.GreaterOrEqual(t, len(envs), 2)
	assert.Equal(t, protocol.SenderUser, envs[0].Data["sender"])

	finals := 0
	for i, e := range envs[1:] {
		if protocol.IsFinal(e) {
			finals++
			assert.Equal(t, len(envs)-2, i, "final chunk must be last")
		} else {
			assert.True(t, protocol.IsChunk(e))
		}
	}
	require.Equal(t, 1, finals)
	return envs[len(envs)-1]
}

func TestAdapterStreamOrdering(t *testing.T) {
	out := &recorder{}
	a := NewAdapter(out, AdapterOptions{Streaming: true})
	sess := activeSession(t, &scriptedBackend{deltas: []string{"po", "", "ng"}})

	emitted := a.Stream(context.Background(), Prompt{SessionID: "S1", UserID: "alice", Text: "ping", Stream: true, Session: sess})

	assert.Equal(t, emitted, out.envelopes())
	require.Len(t, emitted, 4)
	assert.Equal(t, "ping", emitted[0].Data["message"])
	assert.Equal(t, "alice", *emitted[0].UserID)

	final := assertResponseShape(t, emitted)
	assert.Equal(t, "pong", final.Data["message"])
	assert.Nil(t, final.Data["error"])
	assert.Equal(t, "pong", partialText(emitted))

	history := sess.History()
	assert.Equal(t, SenderUser, history[len(history)-2].Sender)
	assert.Equal(t, "ping", history[len(history)-2].Content)
	assert.Equal(t, SenderAssistant, history[len(history)-1].Sender)
	assert.Equal(t, "pong", history[len(history)-1].Content)
}

func TestAdapterNonStreaming(t *testing.T) {
	tests := []struct {
		name            string
		serverStreaming bool
		promptStreaming bool
	}{
		{"prompt asks for one reply", true, false},
		{"streaming disabled", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAdapter(&recorder{}, AdapterOptions{Streaming: tt.serverStreaming})
			sess := activeSession(t, &scriptedBackend{deltas: []string{"po", "ng"}})

			emitted := a.Stream(context.Background(), Prompt{SessionID: "S1", Text: "ping", Stream: tt.promptStreaming, Session: sess})
			require.Len(t, emitted, 2)
			final := assertResponseShape(t, emitted)
			assert.Equal(t, "pong", final.Data["message"])
		})
	}
}

func TestAdapterFailureBecomesFinalChunk(t *testing.T) {
	a := NewAdapter(&recorder{}, AdapterOptions{Streaming: true})
	sess := activeSession(t, &scriptedBackend{deltas: []string{"par", "tial"}, err: ErrQuotaExceeded})

	emitted := a.Stream(context.Background(), Prompt{SessionID: "S1", Text: "ping", Stream: true, Session: sess})

	final := assertResponseShape(t, emitted)
	assert.Equal(t, true, final.Data["error"])
	text := final.Data["message"].(string)
	assert.True(t, strings.HasPrefix(text, partialText(emitted)))
	assert.Contains(t, text, "quota exceeded")

	history := sess.History()
	assert.Equal(t, SenderError, history[len(history)-1].Sender)
}

func TestAdapterInactiveSession(t *testing.T) {
	a := NewAdapter(&recorder{}, AdapterOptions{Streaming: true})
	b := &scriptedBackend{deltas: []string{"x"}}
	sess := NewSession("S1", t.TempDir(), b, DefaultProfile(), nil)

	for _, s := range []*Session{sess, nil} {
		emitted := a.Stream(context.Background(), Prompt{SessionID: "S1", Text: "ping", Stream: true, Session: s})
		final := assertResponseShape(t, emitted)
		assert.Equal(t, true, final.Data["error"])
		assert.Contains(t, final.Data["message"], "no active assistant")
	}
	assert.Equal(t, int32(0), b.calls.Load())
}

func TestAdapterTimeout(t *testing.T) {
	a := NewAdapter(&recorder{}, AdapterOptions{Streaming: true, Timeout: 20 * time.Millisecond})
	sess := activeSession(t, &EchoBackend{Delay: 50 * time.Millisecond})

	emitted := a.Stream(context.Background(), Prompt{SessionID: "S1", Text: "a b c d", Stream: true, Session: sess})
	final := assertResponseShape(t, emitted)
	assert.Equal(t, true, final.Data["error"])
	assert.Contains(t, final.Data["message"], "timed out")
}

func TestAdapterSanitizesBroadcastPrompt(t *testing.T) {
	a := NewAdapter(&recorder{}, AdapterOptions{Streaming: true})
	sess := activeSession(t, &EchoBackend{})

	emitted := a.Stream(context.Background(), Prompt{SessionID: "S1", Text: "hi <script>alert(1)</script>", Session: sess})
	shown := emitted[0].Data["message"].(string)
	assert.NotContains(t, shown, "<script>")
	assert.Contains(t, shown, "hi")

	// The assistant and the history still see the original text
	var userEntry Message
	for _, m := range sess.History() {
		if m.Sender == SenderUser {
			userEntry = m
		}
	}
	assert.Equal(t, "hi <script>alert(1)</script>", userEntry.Content)
}

func TestAdapterBreakerOpensOnUnreachable(t *testing.T) {
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	breaker := NewBreaker(metrics)
	a := NewAdapter(&recorder{}, AdapterOptions{Streaming: true, Breaker: breaker, Metrics: metrics})
	b := &scriptedBackend{err: ErrUnreachable}
	sess := activeSession(t, b)

	for i := 0; i < 5; i++ {
		a.Stream(context.Background(), Prompt{SessionID: "S1", Text: "ping", Stream: true, Session: sess})
	}
	assert.Equal(t, resilience.StateOpen, breaker.State())
	assert.Equal(t, float64(resilience.StateOpen), testutil.ToFloat64(metrics.BreakerState.WithLabelValues("assistant")))

	emitted := a.Stream(context.Background(), Prompt{SessionID: "S1", Text: "ping", Stream: true, Session: sess})
	final := assertResponseShape(t, emitted)
	assert.Contains(t, final.Data["message"], "unreachable")
	assert.Equal(t, int32(5), b.calls.Load())
	assert.Equal(t, 6.0, testutil.ToFloat64(metrics.AssistantStreams.WithLabelValues("stream", "unreachable")))
}

func TestBreakerIgnoresCallerSideFailures(t *testing.T) {
	breaker := NewBreaker(nil)
	for i := 0; i < 10; i++ {
		breaker.Execute(func() error { return ErrQuotaExceeded })
	}
	assert.Equal(t, resilience.StateClosed, breaker.State())
}

func TestProduceAlwaysEndsWithOneFinal(t *testing.T) {
	a := NewAdapter(&recorder{}, AdapterOptions{Streaming: true})
	sess := activeSession(t, &EchoBackend{})

	var partial strings.Builder
	var finals []Chunk
	for c := range a.Produce(context.Background(), Prompt{SessionID: "S1", Text: "ping", Stream: true, Session: sess}) {
		if c.Final {
			finals = append(finals, c)
			continue
		}
		require.Empty(t, finals, "partial after final")
		partial.WriteString(c.Text)
	}
	require.Len(t, finals, 1)
	assert.Equal(t, partial.String(), finals[0].Text)
}

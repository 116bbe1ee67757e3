package terminal

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// outputSink collects pump output for assertions
type outputSink struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *outputSink) write(_ Key, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.Write(data)
}

func (s *outputSink) contains(sub string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Contains(s.buf.String(), sub)
}

func testOptions(t *testing.T, sessionID string, sink *outputSink) Options {
	opts := Options{
		Key:         Key{SessionID: sessionID},
		WorkDir:     t.TempDir(),
		Shell:       "/bin/sh",
		PollTimeout: 10 * time.Millisecond,
		InitDelay:   10 * time.Millisecond,
		KillGrace:   time.Second,
	}
	if sink != nil {
		opts.Output = sink.write
	}
	return opts
}

// fakeSubSession records lifecycle calls made by an assisted terminal
type fakeSubSession struct {
	mu       sync.Mutex
	startErr error
	started  bool
	closed   bool
	onClose  func()
}

func (f *fakeSubSession) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}

func (f *fakeSubSession) Close() error {
	f.mu.Lock()
	hook := f.onClose
	f.closed = true
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (f *fakeSubSession) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started && !f.closed
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"", KindBasic, false},
		{"basic", KindBasic, false},
		{"assisted", KindAssisted, false},
		{"claude", KindAssisted, false},
		{"root", "", true},
	}

	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrUnknownKind)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestStateAdvanceOnlyMovesForward(t *testing.T) {
	b := newBase(Options{Key: Key{SessionID: "S1", Kind: KindBasic}}, "[Basic]")

	assert.True(t, b.advance(StateStarting))
	assert.True(t, b.advance(StateRunning))
	assert.False(t, b.advance(StateStarting))
	assert.False(t, b.advance(StateRunning))
	assert.True(t, b.advance(StateTerminated))
	assert.False(t, b.advance(StateRunning))
	assert.Equal(t, StateTerminated, b.State())
}

func TestPlainLifecycle(t *testing.T) {
	requirePTY(t)

	sink := &outputSink{}
	p := NewPlain(testOptions(t, "S1", sink))
	assert.Equal(t, StateUninitialized, p.State())
	assert.Nil(t, p.Assistant())

	require.NoError(t, p.Start(context.Background()))
	defer p.Terminate()

	assert.Equal(t, StateRunning, p.State())
	info := p.Info()
	assert.Equal(t, "S1", info.SessionID)
	assert.Equal(t, KindBasic, info.Kind)
	assert.True(t, info.Initialized)
	assert.True(t, info.Alive)
	assert.False(t, info.AssistantActive)
	assert.Greater(t, info.PID, 0)

	require.NoError(t, p.Write([]byte("echo hi-$((1+1))\n")))
	assert.Eventually(t, func() bool { return sink.contains("hi-2") }, 5*time.Second, 10*time.Millisecond)
	assert.Contains(t, string(p.Scrollback()), "hi-2")

	// A manager starts once
	assert.ErrorIs(t, p.Start(context.Background()), ErrAlreadyStarted)

	p.Terminate()
	assert.Equal(t, StateTerminated, p.State())
	select {
	case <-p.Done():
	default:
		t.Fatal("Done should be closed after Terminate")
	}
	assert.ErrorIs(t, p.Write([]byte("echo again\n")), ErrNotRunning)
	assert.ErrorIs(t, p.Resize(100, 40), ErrNotRunning)

	// Terminate is idempotent
	assert.NotPanics(t, p.Terminate)
}

func TestPlainInitializationSetsPrompt(t *testing.T) {
	requirePTY(t)

	sink := &outputSink{}
	p := NewPlain(testOptions(t, "S1", sink))
	require.NoError(t, p.Start(context.Background()))
	defer p.Terminate()

	require.NoError(t, p.Write([]byte("echo \"$PS1\" | cut -c1-7\n")))
	assert.Eventually(t, func() bool { return sink.contains("[Basic]") }, 5*time.Second, 10*time.Millisecond)
}

func TestPlainStartFailureTerminates(t *testing.T) {
	opts := testOptions(t, "S1", nil)
	opts.Shell = "/nonexistent/shell"

	p := NewPlain(opts)
	err := p.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateTerminated, p.State())
	assert.Equal(t, 0, p.Info().PID)
}

func TestPlainTerminatesWhenShellExits(t *testing.T) {
	requirePTY(t)

	p := NewPlain(testOptions(t, "S1", nil))
	require.NoError(t, p.Start(context.Background()))
	defer p.Terminate()

	require.NoError(t, p.Write([]byte("exit\n")))

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("manager did not notice the shell exiting")
	}
	assert.Equal(t, StateTerminated, p.State())
}

func TestAssistedRequiresEntitlement(t *testing.T) {
	a, err := NewAssisted(testOptions(t, "S1", nil), false, &fakeSubSession{})
	assert.ErrorIs(t, err, ErrNotEntitled)
	assert.Nil(t, a)
}

func TestAssistedSurvivesSubSessionFailure(t *testing.T) {
	requirePTY(t)

	sub := &fakeSubSession{startErr: errors.New("assistant unreachable")}
	a, err := NewAssisted(testOptions(t, "S1", nil), true, sub)
	require.NoError(t, err)

	require.NoError(t, a.Start(context.Background()))
	defer a.Terminate()

	assert.Equal(t, StateRunning, a.State())
	assert.Equal(t, KindAssisted, a.Key().Kind)
	assert.False(t, a.Info().AssistantActive)
	require.NoError(t, a.Write([]byte("true\n")))
}

func TestAssistedClosesSubSessionBeforeShell(t *testing.T) {
	requirePTY(t)

	sub := &fakeSubSession{}
	a, err := NewAssisted(testOptions(t, "S1", nil), true, sub)
	require.NoError(t, err)

	var shellAliveAtClose bool
	sub.onClose = func() { shellAliveAtClose = a.Info().Alive }

	require.NoError(t, a.Start(context.Background()))
	assert.True(t, a.Info().AssistantActive)
	assert.Same(t, sub, a.Assistant())

	a.Terminate()

	assert.True(t, sub.closed)
	assert.True(t, shellAliveAtClose, "sub-session should close while the shell is still up")
	assert.False(t, a.Info().Alive)
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, `'/tmp/plain'`, shellQuote("/tmp/plain"))
	assert.Equal(t, `'/tmp/it'\''s'`, shellQuote("/tmp/it's"))
}

package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Options configures one terminal manager
type Options struct {
	Key             Key
	WorkDir         string
	Shell           string
	Env             []string
	Cols            uint16
	Rows            uint16
	PollTimeout     time.Duration
	InitDelay       time.Duration
	KillGrace       time.Duration
	ScrollbackBytes int
	Output          OutputFunc
	Logger          *zap.Logger
}

func (o *Options) applyDefaults() {
	if o.WorkDir == "" {
		o.WorkDir = "/tmp"
	}
	if o.Cols == 0 || o.Rows == 0 {
		o.Cols, o.Rows = 80, 24
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = 50 * time.Millisecond
	}
	if o.InitDelay <= 0 {
		o.InitDelay = 100 * time.Millisecond
	}
	if o.KillGrace <= 0 {
		o.KillGrace = 5 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// base is the lifecycle shared by both variants: it owns the process,
// the scrollback, the one-time initialization and the output pump.
type base struct {
	opts      Options
	prompt    string
	logger    *zap.Logger
	scroll    *Scrollback
	createdAt time.Time

	mu          sync.Mutex
	state       State
	proc        *Process
	initialized bool
	terminating bool
	beforeClose []func()

	stop     chan struct{}
	pumpDone chan struct{}
	done     chan struct{}
	once     sync.Once
}

func newBase(opts Options, prompt string) *base {
	opts.applyDefaults()
	return &base{
		opts:   opts,
		prompt: prompt,
		logger: opts.Logger.With(
			zap.String("session_id", opts.Key.SessionID),
			zap.String("kind", string(opts.Key.Kind)),
		),
		scroll:    NewScrollback(opts.ScrollbackBytes),
		createdAt: time.Now().UTC(),
		stop:      make(chan struct{}),
		pumpDone:  make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (b *base) Key() Key { return b.opts.Key }

func (b *base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// advance moves the state forward; backward or repeated transitions are refused
func (b *base) advance(to State) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if to <= b.state {
		return false
	}
	b.state = to
	return true
}

func (b *base) start(ctx context.Context) error {
	b.mu.Lock()
	if b.state != StateUninitialized {
		b.mu.Unlock()
		return ErrAlreadyStarted
	}
	b.state = StateStarting
	b.mu.Unlock()

	proc := NewProcess()
	err := proc.Start(ctx, ProcessOptions{
		Shell: b.opts.Shell,
		Dir:   b.opts.WorkDir,
		Env:   b.opts.Env,
		Cols:  b.opts.Cols,
		Rows:  b.opts.Rows,
	})
	if err != nil {
		b.terminate()
		return fmt.Errorf("start %s terminal: %w", b.opts.Key.Kind, err)
	}

	b.mu.Lock()
	if b.terminating {
		b.mu.Unlock()
		proc.Terminate(b.opts.KillGrace)
		return ErrNotRunning
	}
	b.proc = proc
	b.mu.Unlock()

	go b.pump(proc)

	if err := b.initialize(proc); err != nil {
		b.terminate()
		return err
	}

	if !b.advance(StateRunning) {
		return ErrNotRunning
	}

	go b.watch(proc)

	b.logger.Info("terminal started",
		zap.Int("pid", proc.Pid()),
		zap.String("working_directory", b.opts.WorkDir),
	)
	return nil
}

// initialize runs the prompt setup once per manager with short pauses so the
// shell consumes each line before the next arrives
func (b *base) initialize(proc *Process) error {
	b.mu.Lock()
	done := b.initialized
	b.mu.Unlock()
	if done {
		return nil
	}

	commands := []string{
		"cd " + shellQuote(b.opts.WorkDir),
		fmt.Sprintf("export PS1='%s \\u@\\h:\\w$ '", b.prompt),
	}
	for _, cmd := range commands {
		if err := proc.Write([]byte(cmd + "\n")); err != nil {
			return fmt.Errorf("initialize terminal: %w", err)
		}
		time.Sleep(b.opts.InitDelay)
	}

	b.mu.Lock()
	b.initialized = true
	b.mu.Unlock()
	return nil
}

// pump moves shell output into the scrollback and out to subscribers.
// It belongs to the manager, not to any connection.
func (b *base) pump(proc *Process) {
	defer close(b.pumpDone)

	var carry runeCarry
	for {
		select {
		case <-b.stop:
			return
		default:
		}

		data, err := proc.ReadAvailable(b.opts.PollTimeout)
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return
			}
			if !errors.Is(err, io.EOF) {
				b.logger.Warn("terminal read failed", zap.Error(err))
			}
			select {
			case <-b.stop:
				return
			case <-time.After(b.opts.PollTimeout):
			}
			continue
		}
		if data = carry.next(data); len(data) == 0 {
			continue
		}

		b.scroll.Write(data)
		if b.opts.Output != nil {
			b.opts.Output(b.opts.Key, data)
		}
	}
}

// watch terminates the manager when the shell exits on its own
func (b *base) watch(proc *Process) {
	select {
	case <-proc.Done():
		b.logger.Info("shell exited", zap.Int("pid", proc.Pid()), zap.NamedError("exit", proc.ExitErr()))
		b.terminate()
	case <-b.done:
	}
}

func (b *base) terminate() {
	b.once.Do(func() {
		b.mu.Lock()
		b.terminating = true
		proc := b.proc
		hooks := b.beforeClose
		b.mu.Unlock()

		for _, fn := range hooks {
			fn()
		}

		close(b.stop)
		if proc != nil {
			proc.Terminate(b.opts.KillGrace)
			<-b.pumpDone
		}

		b.advance(StateTerminated)
		close(b.done)

		b.logger.Info("terminal terminated")
	})
}

func (b *base) Write(data []byte) error {
	b.mu.Lock()
	proc, state := b.proc, b.state
	b.mu.Unlock()

	if state != StateRunning || proc == nil {
		return ErrNotRunning
	}
	return proc.Write(data)
}

func (b *base) Resize(cols, rows uint16) error {
	b.mu.Lock()
	proc, state := b.proc, b.state
	b.mu.Unlock()

	if state != StateRunning || proc == nil {
		return ErrNotRunning
	}
	return proc.Resize(cols, rows)
}

func (b *base) Scrollback() []byte {
	return b.scroll.Snapshot()
}

func (b *base) Done() <-chan struct{} {
	return b.done
}

func (b *base) info(assistantActive bool) Info {
	b.mu.Lock()
	defer b.mu.Unlock()

	info := Info{
		SessionID:       b.opts.Key.SessionID,
		Kind:            b.opts.Key.Kind,
		State:           b.state.String(),
		WorkDir:         b.opts.WorkDir,
		CreatedAt:       b.createdAt,
		Initialized:     b.initialized,
		AssistantActive: assistantActive,
	}
	if b.proc != nil {
		info.PID = b.proc.Pid()
		info.Alive = b.proc.Alive()
	}
	return info
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Plain is an interactive shell with nothing attached
type Plain struct {
	*base
}

// NewPlain builds an unstarted plain terminal
func NewPlain(opts Options) *Plain {
	opts.Key.Kind = KindBasic
	return &Plain{base: newBase(opts, "[Basic]")}
}

// Start spawns and initializes the shell
func (p *Plain) Start(ctx context.Context) error { return p.start(ctx) }

// Terminate tears the shell down; safe to call repeatedly
func (p *Plain) Terminate() { p.terminate() }

func (p *Plain) Info() Info { return p.info(false) }

func (p *Plain) Assistant() SubSession { return nil }

// Assisted is a shell paired with an assistant sub-session
type Assisted struct {
	*base
	sub SubSession
}

// NewAssisted builds an unstarted assisted terminal. entitled is the caller's
// precomputed plan check; without it nothing is constructed.
func NewAssisted(opts Options, entitled bool, sub SubSession) (*Assisted, error) {
	if !entitled {
		return nil, ErrNotEntitled
	}

	opts.Key.Kind = KindAssisted
	a := &Assisted{base: newBase(opts, "[Assist]"), sub: sub}
	if sub != nil {
		// Sub-session goes down before the shell
		a.beforeClose = append(a.beforeClose, func() {
			if err := sub.Close(); err != nil {
				a.logger.Warn("assistant sub-session close failed", zap.Error(err))
			}
		})
	}
	return a, nil
}

// Start brings up the shell, then the assistant. An assistant failure is
// logged and the shell stays usable.
func (a *Assisted) Start(ctx context.Context) error {
	if err := a.start(ctx); err != nil {
		return err
	}

	if a.sub == nil {
		a.logger.Warn("no assistant sub-session attached")
		return nil
	}
	if err := a.sub.Start(ctx); err != nil {
		a.logger.Warn("assistant sub-session unavailable, continuing with plain shell", zap.Error(err))
	}
	return nil
}

// Terminate closes the sub-session, then the shell
func (a *Assisted) Terminate() { a.terminate() }

func (a *Assisted) Info() Info {
	return a.info(a.sub != nil && a.sub.Active())
}

func (a *Assisted) Assistant() SubSession { return a.sub }

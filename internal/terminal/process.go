package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

var (
	// ErrClosed is returned by I/O on a handle whose descriptors were released
	ErrClosed = errors.New("process handle closed")
	// ErrExited is returned when writing to a shell that already exited
	ErrExited = errors.New("process exited")
)

const (
	readChunk    = 4096
	writeTimeout = 5 * time.Second
)

// ProcessOptions configures the spawned shell
type ProcessOptions struct {
	Shell string
	Dir   string
	Env   []string
	Cols  uint16
	Rows  uint16
}

// Process owns one shell child and both ends of its pseudo-terminal.
// It is never shared between managers.
type Process struct {
	cmd    *exec.Cmd
	master *os.File
	tty    *os.File
	fd     int

	// mu guards the descriptors: readers hold it shared, Terminate exclusively
	mu     sync.RWMutex
	closed bool

	done    chan struct{}
	exitErr error
	once    sync.Once
}

// NewProcess returns an unstarted handle
func NewProcess() *Process {
	return &Process{done: make(chan struct{})}
}

// Start allocates a pseudo-terminal and spawns the shell on it in opts.Dir,
// creating the directory when absent. Failures are returned, never retried.
func (p *Process) Start(ctx context.Context, opts ProcessOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.cmd != nil {
		return errors.New("process already started")
	}

	shell := opts.Shell
	if shell == "" {
		shell = "/bin/bash"
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return fmt.Errorf("create working directory: %w", err)
	}

	master, tty, err := pty.Open()
	if err != nil {
		return fmt.Errorf("allocate pty: %w", err)
	}

	if opts.Cols > 0 && opts.Rows > 0 {
		if err := pty.Setsize(master, &pty.Winsize{Cols: opts.Cols, Rows: opts.Rows}); err != nil {
			master.Close()
			tty.Close()
			return fmt.Errorf("set pty size: %w", err)
		}
	}

	cmd := exec.Command(shell)
	cmd.Dir = opts.Dir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	cmd.Env = append(cmd.Env, opts.Env...)
	cmd.Stdin = tty
	cmd.Stdout = tty
	cmd.Stderr = tty
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true, Setctty: true}

	if err := cmd.Start(); err != nil {
		master.Close()
		tty.Close()
		return fmt.Errorf("spawn %s: %w", shell, err)
	}

	p.cmd = cmd
	p.master = master
	p.tty = tty
	p.fd = int(master.Fd())

	go func() {
		p.exitErr = cmd.Wait()
		close(p.done)
	}()

	// Fd switched the file to blocking mode; all I/O below goes through poll
	if err := unix.SetNonblock(p.fd, true); err != nil {
		p.Terminate(0)
		return fmt.Errorf("set pty non-blocking: %w", err)
	}

	return nil
}

// Pid returns the shell's process id, 0 before Start
func (p *Process) Pid() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Done is closed once the child has been reaped
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Alive reports whether the child is still running
func (p *Process) Alive() bool {
	if p.cmd == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// ExitErr returns the wait error once Done is closed
func (p *Process) ExitErr() error {
	select {
	case <-p.done:
		return p.exitErr
	default:
		return nil
	}
}

// ReadAvailable waits up to timeout for output and returns whatever is pending.
// It returns nil, nil when nothing arrived in time.
func (p *Process) ReadAvailable(timeout time.Duration) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed || p.master == nil {
		return nil, ErrClosed
	}

	fds := []unix.PollFd{{Fd: int32(p.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(timeout/time.Millisecond))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, fmt.Errorf("poll pty: %w", err)
	}
	if n == 0 {
		return nil, nil
	}

	if fds[0].Revents&unix.POLLIN == 0 {
		if fds[0].Revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
			return nil, io.EOF
		}
		return nil, nil
	}

	buf := make([]byte, readChunk)
	k, err := unix.Read(p.fd, buf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		if errors.Is(err, unix.EIO) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read pty: %w", err)
	}
	if k == 0 {
		return nil, io.EOF
	}
	return buf[:k], nil
}

// Write pushes raw bytes to the shell's input
func (p *Process) Write(data []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed || p.master == nil {
		return ErrClosed
	}
	if !p.Alive() {
		return ErrExited
	}

	deadline := time.Now().Add(writeTimeout)
	for len(data) > 0 {
		n, err := unix.Write(p.fd, data)
		switch {
		case err == nil:
			data = data[n:]
		case errors.Is(err, unix.EINTR):
		case errors.Is(err, unix.EAGAIN):
			if time.Now().After(deadline) {
				return fmt.Errorf("write pty: input buffer full")
			}
			fds := []unix.PollFd{{Fd: int32(p.fd), Events: unix.POLLOUT}}
			_, _ = unix.Poll(fds, 100)
		default:
			return fmt.Errorf("write pty: %w", err)
		}
	}
	return nil
}

// Resize changes the pseudo-terminal window size
func (p *Process) Resize(cols, rows uint16) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed || p.master == nil {
		return ErrClosed
	}
	// Ioctl on the raw descriptor; going through the *os.File would flip it back to blocking
	return unix.IoctlSetWinsize(p.fd, unix.TIOCSWINSZ, &unix.Winsize{Col: cols, Row: rows})
}

// Terminate hangs up the shell's process group, waits up to grace for it to
// exit, then kills it. Both descriptors are always closed. Safe to call
// repeatedly and on a handle that never started.
func (p *Process) Terminate(grace time.Duration) {
	p.once.Do(func() {
		if p.Alive() {
			pgid := p.cmd.Process.Pid
			_ = unix.Kill(-pgid, unix.SIGHUP)
			_ = unix.Kill(-pgid, unix.SIGTERM)

			select {
			case <-p.done:
			case <-time.After(grace):
				_ = unix.Kill(-pgid, unix.SIGKILL)
				select {
				case <-p.done:
				case <-time.After(grace + time.Second):
				}
			}
		}

		p.mu.Lock()
		p.closed = true
		if p.master != nil {
			p.master.Close()
		}
		if p.tty != nil {
			p.tty.Close()
		}
		p.mu.Unlock()
	})
}

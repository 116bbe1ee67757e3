package terminal

import "sync"

// Scrollback is a thread-safe ring buffer keeping the most recent terminal output
// so reconnecting clients can repaint the screen.
type Scrollback struct {
	data []byte
	size int
	head int
	full bool
	mu   sync.RWMutex
}

// NewScrollback creates a ring buffer holding at most size bytes
func NewScrollback(size int) *Scrollback {
	if size <= 0 {
		size = 64 * 1024
	}
	return &Scrollback{
		data: make([]byte, size),
		size: size,
	}
}

// Write appends p, overwriting the oldest bytes once full
func (b *Scrollback) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	if n >= b.size {
		copy(b.data, p[n-b.size:])
		b.head = 0
		b.full = true
		return n, nil
	}

	first := copy(b.data[b.head:], p)
	if first < n {
		copy(b.data, p[first:])
	}
	next := b.head + n
	if next >= b.size {
		b.full = true
	}
	b.head = next % b.size

	return n, nil
}

// Snapshot returns a copy of the buffered output, oldest byte first.
// Unlike a read, it leaves the buffer intact. Once the buffer has wrapped,
// the remains of a partly overwritten character are dropped.
func (b *Scrollback) Snapshot() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.full {
		out := make([]byte, b.head)
		copy(out, b.data[:b.head])
		return out
	}

	out := make([]byte, b.size)
	n := copy(out, b.data[b.head:])
	copy(out[n:], b.data[:b.head])
	return trimLeadingContinuation(out)
}

// Len returns the number of buffered bytes
func (b *Scrollback) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.full {
		return b.size
	}
	return b.head
}

package terminal

import (
	"bytes"
	"unicode/utf8"
)

var replacement = []byte(string(utf8.RuneError))

// runeCarry keeps shell output valid UTF-8 across reads. A multibyte
// character cut by a read boundary is held back and joined with the next
// read; bytes that can never form a character become U+FFFD.
type runeCarry struct {
	pending []byte
}

// next returns the printable part of pending plus data
func (c *runeCarry) next(data []byte) []byte {
	if len(c.pending) > 0 {
		data = append(c.pending, data...)
		c.pending = nil
	}
	if cut := incompleteTail(data); cut > 0 {
		c.pending = append([]byte(nil), data[len(data)-cut:]...)
		data = data[:len(data)-cut]
	}
	return bytes.ToValidUTF8(data, replacement)
}

// incompleteTail returns the length of a trailing multibyte sequence that
// is still missing continuation bytes, zero when p ends on a boundary
func incompleteTail(p []byte) int {
	for i := 1; i < utf8.UTFMax && i <= len(p); i++ {
		if !utf8.RuneStart(p[len(p)-i]) {
			continue
		}
		if utf8.FullRune(p[len(p)-i:]) {
			return 0
		}
		return i
	}
	return 0
}

// trimLeadingContinuation drops continuation bytes left at the front of a
// buffer whose first character was overwritten
func trimLeadingContinuation(p []byte) []byte {
	for i := 0; i < utf8.UTFMax-1 && len(p) > 0 && !utf8.RuneStart(p[0]); i++ {
		p = p[1:]
	}
	return p
}

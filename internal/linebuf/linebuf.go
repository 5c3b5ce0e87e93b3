// Package linebuf assembles a byte stream into bounded lines.
package linebuf

import (
	"unicode/utf8"

	"github.com/kstaniek/go-chatlog/internal/queue"
)

// EmitFunc receives a completed line. truncated is set when the line was
// force-split because it reached the buffer limit.
type EmitFunc func(text string, truncated bool)

// Buffer accumulates bytes until a newline, an explicit Flush or an overflow.
// Its backing array is allocated once with the configured limit.
//
// Buffer is not safe for concurrent use.
type Buffer struct {
	buf   []byte
	limit int
	emit  EmitFunc
}

// New returns a Buffer holding at most limit bytes. limit must leave room for
// the truncation marker plus one full UTF-8 rune.
func New(limit int, emit EmitFunc) *Buffer {
	return &Buffer{buf: make([]byte, 0, limit), limit: limit, emit: emit}
}

// WriteByte appends c, completing the line on '\n'. '\r' is dropped.
func (b *Buffer) WriteByte(c byte) error {
	switch c {
	case '\n':
		b.Flush()
		return nil
	case '\r':
		return nil
	}
	if len(b.buf) >= b.limit {
		b.overflow()
	}
	b.buf = append(b.buf, c)
	return nil
}

// Write feeds every byte of p through WriteByte. It always consumes all of p.
func (b *Buffer) Write(p []byte) (int, error) {
	for _, c := range p {
		_ = b.WriteByte(c)
	}
	return len(p), nil
}

// Flush emits any buffered bytes as a line. Empty buffers emit nothing.
func (b *Buffer) Flush() {
	if len(b.buf) == 0 {
		return
	}
	text := string(b.buf)
	b.buf = b.buf[:0]
	b.emit(text, false)
}

// Len reports the number of buffered bytes.
func (b *Buffer) Len() int { return len(b.buf) }

// overflow emits a full-size truncated line (content + marker) and clears the
// buffer so the incoming byte starts the next line. Bytes past the cut are
// dropped, except an incomplete trailing rune whose remaining bytes are still
// arriving: it moves to the new line so that line stays valid UTF-8.
func (b *Buffer) overflow() {
	cut := queue.CutPoint(b.buf, b.limit-len(queue.TruncationMarker))
	b.emit(string(b.buf[:cut])+queue.TruncationMarker, true)
	tail := partialRune(b.buf[cut:])
	n := copy(b.buf, tail)
	b.buf = b.buf[:n]
}

// partialRune returns the suffix of p that starts an incomplete UTF-8
// sequence, or nil.
func partialRune(p []byte) []byte {
	for i := len(p) - 1; i >= 0 && i >= len(p)-utf8.UTFMax; i-- {
		if utf8.RuneStart(p[i]) {
			if p[i] >= utf8.RuneSelf && !utf8.FullRune(p[i:]) {
				return p[i:]
			}
			return nil
		}
	}
	return nil
}

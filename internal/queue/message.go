package queue

import (
	"time"
	"unicode/utf8"
)

// TruncationMarker is appended to any text cut down to the line limit.
const TruncationMarker = "..."

// Message is one pending outbound chat message.
// Text is never modified after construction; only Retries changes while the
// message sits at the head of the ring.
type Message struct {
	ID         uint64
	Text       string
	Truncated  bool
	Retries    int
	EnqueuedAt time.Time
}

// Truncate bounds text to limit bytes. Longer input is cut on a rune boundary
// and suffixed with TruncationMarker so the result is at most limit bytes
// (exactly limit for ASCII input).
func Truncate(text string, limit int) (string, bool) {
	if limit < 0 {
		limit = 0
	}
	if len(text) <= limit {
		return text, false
	}
	if limit <= len(TruncationMarker) {
		return TruncationMarker[:limit], true
	}
	cut := CutPoint([]byte(text), limit-len(TruncationMarker))
	return text[:cut] + TruncationMarker, true
}

// CutPoint returns the largest index <= n that does not split a UTF-8
// sequence in b.
func CutPoint(b []byte, n int) int {
	if n >= len(b) {
		return len(b)
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(b[cut]) {
		cut--
	}
	// a run of continuation bytes with no start byte: fall back to the raw cut
	if cut == 0 && n > 0 && !utf8.RuneStart(b[0]) {
		return n
	}
	return cut
}

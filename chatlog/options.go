package chatlog

import (
	"io"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/kstaniek/go-chatlog/internal/delivery"
	"github.com/kstaniek/go-chatlog/internal/link"
)

// Transport sends one rendered message. See delivery.Transport.
type Transport = delivery.Transport

// Attempt is one in-flight probe. See link.Attempt.
type Attempt = link.Attempt

// Dialer starts non-blocking reachability probes. See link.Dialer.
type Dialer = link.Dialer

// Option customizes a Logger.
type Option func(*Logger)

// WithTransport replaces the default bot API client.
func WithTransport(t Transport) Option {
	return func(l *Logger) {
		if t != nil {
			l.transport = t
		}
	}
}

// WithMirror copies every written byte to w. Errors from w are ignored.
func WithMirror(w io.Writer) Option { return func(l *Logger) { l.mirror = w } }

// WithClock injects the time source (tests use clock.NewMock()).
func WithClock(c clock.Clock) Option {
	return func(l *Logger) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithDialer replaces the platform probe dialer.
func WithDialer(d Dialer) Option {
	return func(l *Logger) {
		if d != nil {
			l.dialer = d
		}
	}
}

// WithLogger sets the structured logger used for delivery diagnostics.
func WithLogger(lg *slog.Logger) Option {
	return func(l *Logger) {
		if lg != nil {
			l.log = lg
		}
	}
}

// WithSleep replaces the sleep used between checks in Begin.
func WithSleep(fn func(time.Duration)) Option { return func(l *Logger) { l.sleep = fn } }

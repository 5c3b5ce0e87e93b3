// Package ratelimit gates how often a send may be attempted.
package ratelimit

import (
	"time"

	"golang.org/x/time/rate"
)

// Limiter enforces a minimum spacing between send attempts. Every attempt
// counts, successful or not, so a failing endpoint is retried no faster than
// the interval. An optional per-minute quota and a server-imposed hold
// (retry_after) narrow the window further.
//
// Limiter is not safe for concurrent use.
type Limiter struct {
	interval time.Duration
	last     time.Time
	hasLast  bool
	hold     time.Time
	quota    *rate.Limiter // nil when no per-minute quota
}

// New returns a Limiter with the given minimum interval. perMinute > 0 adds a
// token bucket refilled at perMinute per minute with a burst of one.
func New(interval time.Duration, perMinute int) *Limiter {
	l := &Limiter{interval: interval}
	if perMinute > 0 {
		l.quota = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
	}
	return l
}

// Permits reports whether an attempt may start at now.
func (l *Limiter) Permits(now time.Time) bool {
	if now.Before(l.hold) {
		return false
	}
	if l.hasLast && now.Sub(l.last) < l.interval {
		return false
	}
	if l.quota != nil && l.quota.TokensAt(now) < 1 {
		return false
	}
	return true
}

// Record notes an attempt started at now.
func (l *Limiter) Record(now time.Time) {
	l.last = now
	l.hasLast = true
	if l.quota != nil {
		// Reserve rather than Allow: the token is always taken, so the bucket
		// goes negative if an attempt slipped past Permits.
		l.quota.ReserveN(now, 1)
	}
}

// Defer blocks attempts until the given time (server retry_after).
func (l *Limiter) Defer(until time.Time) {
	if until.After(l.hold) {
		l.hold = until
	}
}

// Last returns the time of the most recent attempt and whether one happened.
func (l *Limiter) Last() (time.Time, bool) { return l.last, l.hasLast }

// Interval returns the configured minimum spacing.
func (l *Limiter) Interval() time.Duration { return l.interval }

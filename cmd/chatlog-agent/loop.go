package main

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-chatlog/chatlog"
	"github.com/kstaniek/go-chatlog/internal/metrics"
)

// status is the /status body.
type status struct {
	Session string           `json:"session"`
	Version string           `json:"version"`
	Source  string           `json:"source"`
	Logger  chatlog.Stats    `json:"logger"`
	Metrics metrics.Snapshot `json:"metrics"`
}

// publisher hands Logger state from the main loop to HTTP handlers; the
// Logger itself is only touched by the loop goroutine.
type publisher struct {
	connected atomic.Bool
	stats     atomic.Pointer[chatlog.Stats]
}

func (p *publisher) publish(lg *chatlog.Logger) {
	s := lg.Stats()
	p.stats.Store(&s)
	p.connected.Store(lg.Connected())
}

func (p *publisher) snapshot() chatlog.Stats {
	if s := p.stats.Load(); s != nil {
		return *s
	}
	return chatlog.Stats{}
}

// runLoop feeds chunks into lg and ticks it until chunks closes or ctx ends,
// then drains the queue for at most drainTimeout. It returns the number of
// messages left undelivered.
func runLoop(ctx context.Context, lg *chatlog.Logger, chunks <-chan []byte, tick, drainTimeout time.Duration, pub *publisher, l *slog.Logger) int {
	t := time.NewTicker(tick)
	defer t.Stop()
	pub.publish(lg)
loop:
	for {
		select {
		case p, ok := <-chunks:
			if !ok {
				l.Info("source_closed")
				break loop
			}
			_, _ = lg.Write(p)
		case <-t.C:
			lg.Update(ctx)
			pub.publish(lg)
		case <-ctx.Done():
			break loop
		}
	}
	return drain(lg, t.C, drainTimeout, pub, l)
}

// drain flushes the partial line and keeps ticking until the queue is empty
// or the timeout elapses.
func drain(lg *chatlog.Logger, ticks <-chan time.Time, timeout time.Duration, pub *publisher, l *slog.Logger) int {
	lg.FlushLine()
	if lg.Queued() == 0 {
		return 0
	}
	l.Info("drain_start", "queued", lg.Queued(), "timeout", timeout)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for lg.Queued() > 0 {
		select {
		case <-ticks:
			lg.Update(ctx)
			pub.publish(lg)
		case <-ctx.Done():
			left := lg.Queued()
			l.Warn("drain_timeout", "undelivered", left)
			return left
		}
	}
	l.Info("drain_done")
	return 0
}

// Package delivery drains the outbound queue one attempt per tick.
package delivery

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/kstaniek/go-chatlog/internal/botapi"
	"github.com/kstaniek/go-chatlog/internal/logging"
	"github.com/kstaniek/go-chatlog/internal/metrics"
	"github.com/kstaniek/go-chatlog/internal/queue"
	"github.com/kstaniek/go-chatlog/internal/ratelimit"
)

// Transport performs one synchronous send. *botapi.Client implements it.
type Transport interface {
	Send(ctx context.Context, text string, f botapi.Format) error
}

// Link is the view of the connectivity monitor the engine needs.
type Link interface {
	Connected() bool
	MarkDown(reason error)
}

// Outcome describes what a tick did.
type Outcome int

const (
	Idle Outcome = iota
	SkipOffline
	SkipRateLimited
	SkipCancelled
	Sent
	Retrying
	Dropped
	Interrupted
)

func (o Outcome) String() string {
	switch o {
	case Idle:
		return "idle"
	case SkipOffline:
		return "skip_offline"
	case SkipRateLimited:
		return "skip_rate_limited"
	case SkipCancelled:
		return "skip_cancelled"
	case Sent:
		return "sent"
	case Retrying:
		return "retrying"
	case Dropped:
		return "dropped"
	case Interrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Attempted reports whether the tick performed a network send.
func (o Outcome) Attempted() bool { return o == Sent || o == Retrying || o == Dropped || o == Interrupted }

// Config holds the engine's policy knobs.
type Config struct {
	MaxRetries   int
	SendTimeout  time.Duration
	Format       botapi.Format
	// DropRejected drops a message on its first permanent API rejection
	// instead of retrying it like any other failure.
	DropRejected bool
}

// Engine applies the send/retry/evict policy. Not safe for concurrent use.
type Engine struct {
	cfg       Config
	queue     *queue.Ring
	limiter   *ratelimit.Limiter
	link      Link
	transport Transport
	clock     clock.Clock
	logger    *slog.Logger
}

// New wires an engine; clk and logger default to the real clock and the
// global logger.
func New(cfg Config, q *queue.Ring, lim *ratelimit.Limiter, l Link, t Transport, clk clock.Clock, logger *slog.Logger) *Engine {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = logging.L()
	}
	return &Engine{cfg: cfg, queue: q, limiter: lim, link: l, transport: t, clock: clk, logger: logger}
}

// Tick performs at most one send attempt.
func (e *Engine) Tick(ctx context.Context) Outcome {
	if e.queue.Len() == 0 {
		return Idle
	}
	if !e.link.Connected() {
		return SkipOffline
	}
	now := e.clock.Now()
	if !e.limiter.Permits(now) {
		return SkipRateLimited
	}

	if ctx.Err() != nil {
		return SkipCancelled
	}

	head := e.queue.Head()
	e.limiter.Record(now)
	sendCtx, cancel := ctx, context.CancelFunc(func() {})
	if e.cfg.SendTimeout > 0 {
		sendCtx, cancel = context.WithTimeout(ctx, e.cfg.SendTimeout)
	}
	start := e.clock.Now()
	err := e.transport.Send(sendCtx, head.Text, e.cfg.Format)
	cancel()
	metrics.ObserveAttempt(e.clock.Since(start))

	if err == nil {
		m, _ := e.queue.Pop()
		metrics.IncSent()
		metrics.SetQueueDepth(e.queue.Len())
		e.logger.Debug("msg_sent", "id", m.ID, "retries", m.Retries)
		return Sent
	}
	if ctx.Err() != nil {
		// Cancelled mid-send: not a delivery failure, keep the retry budget.
		e.logger.Debug("send_interrupted", "id", head.ID, "error", err)
		return Interrupted
	}

	e.classify(now, err)
	head.Retries++
	if (e.cfg.DropRejected && botapi.IsPermanent(err)) || head.Retries > e.cfg.MaxRetries {
		m, _ := e.queue.Pop()
		metrics.IncDropped()
		metrics.SetQueueDepth(e.queue.Len())
		e.logger.Warn("msg_dropped", "id", m.ID, "attempts", m.Retries, "error", err)
		return Dropped
	}
	e.logger.Info("send_failed", "id", head.ID, "attempt", head.Retries, "max_retries", e.cfg.MaxRetries, "error", err)
	return Retrying
}

func (e *Engine) classify(now time.Time, err error) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		metrics.IncError(metrics.ErrSendTimeout)
		e.link.MarkDown(err)
	case errors.Is(err, botapi.ErrUnreachable):
		metrics.IncError(metrics.ErrSendNetwork)
		e.link.MarkDown(err)
	default:
		metrics.IncError(metrics.ErrSendAPI)
	}
	if d, ok := botapi.RetryAfter(err); ok {
		e.limiter.Defer(now.Add(d))
	}
}

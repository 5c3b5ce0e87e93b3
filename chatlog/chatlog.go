// Package chatlog redirects a diagnostic text stream to a chat endpoint
// without blocking the caller's loop.
//
// A Logger is an io.Writer. Bytes are assembled into lines, each completed
// line becomes one queued message, and every call to Update performs at most
// one bounded send attempt:
//
//	lg, err := chatlog.New(cfg)
//	lg.Begin()
//	for {
//		fmt.Fprintln(lg, "temp", readTemp())
//		lg.Update(ctx)
//	}
//
// Delivery is best effort. The queue has a fixed capacity and evicts the
// oldest message when full; a message that keeps failing is dropped after
// MaxRetries retries. A Logger is not safe for concurrent use: drive every
// method from the same goroutine.
package chatlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/kstaniek/go-chatlog/internal/botapi"
	"github.com/kstaniek/go-chatlog/internal/delivery"
	"github.com/kstaniek/go-chatlog/internal/linebuf"
	"github.com/kstaniek/go-chatlog/internal/link"
	"github.com/kstaniek/go-chatlog/internal/logging"
	"github.com/kstaniek/go-chatlog/internal/metrics"
	"github.com/kstaniek/go-chatlog/internal/queue"
	"github.com/kstaniek/go-chatlog/internal/ratelimit"
)

// Logger is the stream facade over the delivery subsystem.
type Logger struct {
	cfg       Config
	clock     clock.Clock
	transport Transport
	dialer    Dialer
	mirror    io.Writer
	log       *slog.Logger
	sleep     func(time.Duration)

	queue   *queue.Ring
	line    *linebuf.Buffer
	limiter *ratelimit.Limiter
	link    *link.Monitor
	engine  *delivery.Engine

	nextID uint64
	last   delivery.Outcome
}

// New validates cfg and builds a Logger. Without WithTransport the bot API
// client is built from cfg.Endpoint, cfg.Token and cfg.ChatID.
func New(cfg Config, opts ...Option) (*Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := &Logger{cfg: cfg, clock: clock.New(), log: logging.L()}
	for _, o := range opts {
		o(l)
	}
	if l.transport == nil {
		c, err := botapi.NewClient(botapi.ClientConfig{Endpoint: cfg.Endpoint, Token: cfg.Token, ChatID: cfg.ChatID})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		l.transport = c
	}
	addr := cfg.ProbeTarget()
	if addr == "" {
		return nil, fmt.Errorf("%w: cannot derive probe address from endpoint %q", ErrInvalidConfig, cfg.Endpoint)
	}

	l.queue = queue.New(cfg.QueueCapacity)
	l.line = linebuf.New(cfg.LineSize, func(text string, truncated bool) { l.enqueue(text, truncated) })
	l.limiter = ratelimit.New(cfg.SendInterval, cfg.MaxPerMinute)
	l.link = link.NewMonitor(link.Options{
		Addr:              addr,
		Dialer:            l.dialer,
		Clock:             l.clock,
		ReconnectInterval: cfg.ReconnectInterval,
		ProbeTimeout:      cfg.ProbeTimeout,
		Logger:            l.log,
	})
	l.link.SetSleep(l.sleep)
	l.engine = delivery.New(delivery.Config{
		MaxRetries:   cfg.MaxRetries,
		SendTimeout:  cfg.SendTimeout,
		Format:       cfg.Format,
		DropRejected: cfg.DropRejected,
	}, l.queue, l.limiter, l.link, l.transport, l.clock, l.log)
	metrics.SetQueueDepth(0)
	return l, nil
}

// Begin blocks for at most ConnectTimeout trying to reach the endpoint and
// reports whether it is reachable. Call it once at startup; Update keeps
// reconnecting in the background either way.
func (l *Logger) Begin() bool {
	ok := l.link.BeginBlocking(l.cfg.ConnectTimeout)
	l.log.Info("chatlog_begin", "connected", ok, "queue_capacity", l.cfg.QueueCapacity, "line_size", l.cfg.LineSize)
	return ok
}

// Update is the scheduling tick: it advances the reconnect state machine and
// performs at most one send attempt bounded by SendTimeout.
func (l *Logger) Update(ctx context.Context) {
	l.link.Poll(l.clock.Now())
	l.last = l.engine.Tick(ctx)
}

// Send queues text as one message, bypassing the line buffer. It reports
// whether the queue accepted it.
func (l *Logger) Send(text string) bool {
	t, truncated := queue.Truncate(text, l.cfg.LineSize)
	return l.enqueue(t, truncated)
}

// FlushLine queues any partially assembled line.
func (l *Logger) FlushLine() { l.line.Flush() }

// Connected reports the cached link state.
func (l *Logger) Connected() bool { return l.link.Connected() }

// Queued reports the number of pending messages.
func (l *Logger) Queued() int { return l.queue.Len() }

// Write implements io.Writer. It never fails and always consumes p.
func (l *Logger) Write(p []byte) (int, error) {
	if l.mirror != nil {
		_, _ = l.mirror.Write(p)
	}
	return l.line.Write(p)
}

// WriteByte implements io.ByteWriter.
func (l *Logger) WriteByte(c byte) error {
	if l.mirror != nil {
		_, _ = l.mirror.Write([]byte{c})
	}
	return l.line.WriteByte(c)
}

// WriteString implements io.StringWriter.
func (l *Logger) WriteString(s string) (int, error) { return l.Write([]byte(s)) }

// Stats is a diagnostic snapshot of one Logger.
type Stats struct {
	Queued       int       `json:"queued"`
	Capacity     int       `json:"capacity"`
	Buffered     int       `json:"buffered"`
	Link         string    `json:"link"`
	LastOutcome  string    `json:"last_outcome"`
	LastAttempt  time.Time `json:"last_attempt,omitempty"`
	OldestQueued time.Time `json:"oldest_queued,omitempty"`
}

// Stats returns a snapshot for diagnostics.
func (l *Logger) Stats() Stats {
	s := Stats{
		Queued:      l.queue.Len(),
		Capacity:    l.queue.Cap(),
		Buffered:    l.line.Len(),
		Link:        l.link.State().String(),
		LastOutcome: l.last.String(),
	}
	if t, ok := l.limiter.Last(); ok {
		s.LastAttempt = t
	}
	if h := l.queue.Head(); h != nil {
		s.OldestQueued = h.EnqueuedAt
	}
	return s
}

// Pending returns a copy of the queued texts, oldest first.
func (l *Logger) Pending() []string {
	snap := l.queue.Snapshot()
	out := make([]string, len(snap))
	for i, m := range snap {
		out[i] = m.Text
	}
	return out
}

func (l *Logger) enqueue(text string, truncated bool) bool {
	l.nextID++
	m := queue.Message{ID: l.nextID, Text: text, Truncated: truncated, EnqueuedAt: l.clock.Now()}
	old, evicted, ok := l.queue.Push(m)
	if !ok {
		metrics.IncError(metrics.ErrQueueRejects)
		return false
	}
	metrics.IncEnqueued()
	if truncated {
		metrics.IncTruncated()
	}
	if evicted {
		metrics.IncEvicted()
		l.log.Debug("msg_evicted", "id", old.ID, "retries", old.Retries)
	}
	metrics.SetQueueDepth(l.queue.Len())
	l.log.Debug("msg_enqueued", "id", m.ID, "len", len(text), "truncated", truncated, "queued", l.queue.Len())
	return true
}

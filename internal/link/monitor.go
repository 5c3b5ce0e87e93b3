// Package link tracks reachability of the chat endpoint and reconnects
// without blocking the caller's loop.
package link

import (
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/kstaniek/go-chatlog/internal/logging"
	"github.com/kstaniek/go-chatlog/internal/metrics"
)

// State is the cached link state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Dialer starts non-blocking connection probes.
type Dialer interface {
	Start(addr string) (Attempt, error)
}

// Attempt is one in-flight probe. Check must return immediately.
type Attempt interface {
	Check() (done bool, err error)
	Close() error
}

// beginPollStep is the sleep between checks inside BeginBlocking.
const beginPollStep = 50 * time.Millisecond

// Options configure a Monitor.
type Options struct {
	Addr              string
	Dialer            Dialer
	Clock             clock.Clock
	ReconnectInterval time.Duration
	ProbeTimeout      time.Duration
	Logger            *slog.Logger
}

// Monitor owns the connection state machine. Only Monitor methods change the
// state; it is not safe for concurrent use.
type Monitor struct {
	addr              string
	dialer            Dialer
	clock             clock.Clock
	reconnectInterval time.Duration
	probeTimeout      time.Duration
	logger            *slog.Logger

	state       State
	lastAttempt time.Time
	attempted   bool
	attempt     Attempt

	// sleep is used by BeginBlocking between polls; tests swap it for a
	// mock clock advance.
	sleep func(time.Duration)
}

// NewMonitor returns a Monitor in the Disconnected state.
func NewMonitor(o Options) *Monitor {
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Logger == nil {
		o.Logger = logging.L()
	}
	if o.Dialer == nil {
		o.Dialer = NewDialer()
	}
	m := &Monitor{
		addr:              o.Addr,
		dialer:            o.Dialer,
		clock:             o.Clock,
		reconnectInterval: o.ReconnectInterval,
		probeTimeout:      o.ProbeTimeout,
		logger:            o.Logger,
	}
	m.sleep = m.clock.Sleep
	metrics.SetLinkState(int(Disconnected))
	return m
}

// SetSleep replaces the sleep used by BeginBlocking.
func (m *Monitor) SetSleep(fn func(time.Duration)) {
	if fn != nil {
		m.sleep = fn
	}
}

// BeginBlocking polls until connected or timeout elapses on the monitor's
// clock. It is meant for startup only.
func (m *Monitor) BeginBlocking(timeout time.Duration) bool {
	deadline := m.clock.Now().Add(timeout)
	for {
		m.Poll(m.clock.Now())
		if m.state == Connected {
			return true
		}
		if !m.clock.Now().Before(deadline) {
			m.logger.Warn("link_begin_timeout", "addr", m.addr, "timeout", timeout)
			return false
		}
		m.sleep(beginPollStep)
	}
}

// Connected reports the cached state without any I/O.
func (m *Monitor) Connected() bool { return m.state == Connected }

// State returns the current state.
func (m *Monitor) State() State { return m.state }

// LastAttempt returns the start time of the most recent probe.
func (m *Monitor) LastAttempt() time.Time { return m.lastAttempt }

// Poll advances the state machine by at most one non-blocking step.
func (m *Monitor) Poll(now time.Time) {
	switch m.state {
	case Connected:
		return
	case Connecting:
		m.check(now)
	case Disconnected:
		if m.attempted && now.Sub(m.lastAttempt) < m.reconnectInterval {
			return
		}
		m.start(now)
	}
}

// MarkDown records that the endpoint became unreachable. The next Poll starts
// a new probe immediately.
func (m *Monitor) MarkDown(reason error) {
	if m.state == Disconnected {
		return
	}
	m.closeAttempt()
	m.setState(Disconnected)
	m.attempted = false
	m.logger.Warn("link_down", "addr", m.addr, "error", reason)
}

func (m *Monitor) start(now time.Time) {
	m.lastAttempt = now
	m.attempted = true
	metrics.IncReconnectAttempt()
	a, err := m.dialer.Start(m.addr)
	if err != nil {
		metrics.IncError(metrics.ErrLinkProbe)
		m.logger.Debug("link_probe_failed", "addr", m.addr, "error", err)
		return
	}
	m.attempt = a
	m.setState(Connecting)
	m.check(now)
}

func (m *Monitor) check(now time.Time) {
	done, err := m.attempt.Check()
	switch {
	case done && err == nil:
		m.closeAttempt()
		m.setState(Connected)
		m.logger.Info("link_up", "addr", m.addr)
	case done:
		m.closeAttempt()
		m.setState(Disconnected)
		metrics.IncError(metrics.ErrLinkProbe)
		m.logger.Debug("link_probe_failed", "addr", m.addr, "error", err)
	case now.Sub(m.lastAttempt) >= m.probeTimeout:
		m.closeAttempt()
		m.setState(Disconnected)
		metrics.IncError(metrics.ErrLinkProbe)
		m.logger.Debug("link_probe_timeout", "addr", m.addr, "timeout", m.probeTimeout)
	}
}

func (m *Monitor) closeAttempt() {
	if m.attempt != nil {
		_ = m.attempt.Close()
		m.attempt = nil
	}
}

func (m *Monitor) setState(s State) {
	m.state = s
	metrics.SetLinkState(int(s))
}

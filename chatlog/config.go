package chatlog

import (
	"errors"
	"fmt"
	"time"

	"github.com/kstaniek/go-chatlog/internal/botapi"
	"github.com/kstaniek/go-chatlog/internal/queue"
)

// ErrInvalidConfig is wrapped by every Config.Validate failure.
var ErrInvalidConfig = errors.New("chatlog: invalid config")

// Format selects plain or monospace rendering of delivered messages.
type Format = botapi.Format

const (
	Plain     = botapi.Plain
	Monospace = botapi.Monospace
)

// Defaults.
const (
	DefaultLineSize          = 512
	DefaultQueueCapacity     = 16
	DefaultSendInterval      = 1200 * time.Millisecond
	DefaultConnectTimeout    = 12000 * time.Millisecond
	DefaultMaxRetries        = 2
	DefaultSendTimeout       = 5 * time.Second
	DefaultReconnectInterval = 5 * time.Second
	DefaultProbeTimeout      = 3 * time.Second

	// minLineSize leaves room for the truncation marker plus a full rune.
	minLineSize = len(queue.TruncationMarker) + 8
)

// Config is the construction-time configuration of a Logger.
type Config struct {
	// LineSize bounds every message in bytes (L).
	LineSize int `yaml:"line_size"`
	// QueueCapacity is the number of pending messages kept (Q).
	QueueCapacity int `yaml:"queue_capacity"`
	// SendInterval is the minimum spacing between send attempts.
	SendInterval time.Duration `yaml:"send_interval"`
	// ConnectTimeout bounds the blocking connect in Begin.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	// MaxRetries is the number of retries after the first failed attempt.
	MaxRetries int `yaml:"max_retries"`
	// SendTimeout bounds a single send attempt.
	SendTimeout time.Duration `yaml:"send_timeout"`
	// ReconnectInterval spaces link probes while disconnected.
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	// ProbeTimeout abandons a probe that has not completed.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	// MaxPerMinute caps attempts per minute; 0 disables the cap.
	MaxPerMinute int `yaml:"max_per_minute"`
	// Format is the rendering mode.
	Format Format `yaml:"format"`
	// DropRejected drops a message on its first permanent API rejection
	// (4xx other than 408/429) instead of spending the retry budget.
	DropRejected bool `yaml:"drop_rejected"`

	Endpoint string `yaml:"endpoint"`
	Token    string `yaml:"token"`
	ChatID   string `yaml:"chat_id"`
	// ProbeAddr is the host:port probed for reachability. Empty derives it
	// from Endpoint.
	ProbeAddr string `yaml:"probe_addr"`
}

// DefaultConfig returns a Config with every default applied. Token and
// ChatID stay empty.
func DefaultConfig() Config {
	return Config{
		LineSize:          DefaultLineSize,
		QueueCapacity:     DefaultQueueCapacity,
		SendInterval:      DefaultSendInterval,
		ConnectTimeout:    DefaultConnectTimeout,
		MaxRetries:        DefaultMaxRetries,
		SendTimeout:       DefaultSendTimeout,
		ReconnectInterval: DefaultReconnectInterval,
		ProbeTimeout:      DefaultProbeTimeout,
		Format:            Plain,
		Endpoint:          botapi.DefaultEndpoint,
	}
}

// Validate checks ranges only; credentials are checked when the default
// transport is built.
func (c Config) Validate() error {
	switch {
	case c.LineSize < minLineSize:
		return fmt.Errorf("%w: line size must be >= %d (got %d)", ErrInvalidConfig, minLineSize, c.LineSize)
	case c.QueueCapacity <= 0:
		return fmt.Errorf("%w: queue capacity must be > 0 (got %d)", ErrInvalidConfig, c.QueueCapacity)
	case c.SendInterval < 0:
		return fmt.Errorf("%w: send interval must be >= 0", ErrInvalidConfig)
	case c.ConnectTimeout < 0:
		return fmt.Errorf("%w: connect timeout must be >= 0", ErrInvalidConfig)
	case c.MaxRetries < 0:
		return fmt.Errorf("%w: max retries must be >= 0 (got %d)", ErrInvalidConfig, c.MaxRetries)
	case c.SendTimeout <= 0:
		return fmt.Errorf("%w: send timeout must be > 0", ErrInvalidConfig)
	case c.ReconnectInterval < 0:
		return fmt.Errorf("%w: reconnect interval must be >= 0", ErrInvalidConfig)
	case c.ProbeTimeout <= 0:
		return fmt.Errorf("%w: probe timeout must be > 0", ErrInvalidConfig)
	case c.MaxPerMinute < 0:
		return fmt.Errorf("%w: max per minute must be >= 0", ErrInvalidConfig)
	case c.Format != Plain && c.Format != Monospace:
		return fmt.Errorf("%w: unknown format %d", ErrInvalidConfig, c.Format)
	}
	return nil
}

// ProbeTarget returns the host:port the connectivity monitor probes.
func (c Config) ProbeTarget() string {
	if c.ProbeAddr != "" {
		return c.ProbeAddr
	}
	return botapi.ProbeAddr(c.Endpoint)
}

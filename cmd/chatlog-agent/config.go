package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/kstaniek/go-chatlog/chatlog"
	"github.com/kstaniek/go-chatlog/internal/botapi"
	"github.com/kstaniek/go-chatlog/internal/logging"
)

type appConfig struct {
	configFile      string
	source          string
	serialDev       string
	baud            int
	serialReadTO    time.Duration
	mirror          string
	tick            time.Duration
	drainTimeout    time.Duration
	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration
	mdnsEnable      bool
	mdnsName        string

	// delivery settings, passed to chatlog.New
	endpoint          string
	token             string
	chatID            string
	probeAddr         string
	format            string
	lineSize          int
	queueCapacity     int
	sendInterval      time.Duration
	connectTimeout    time.Duration
	maxRetries        int
	sendTimeout       time.Duration
	reconnectInterval time.Duration
	probeTimeout      time.Duration
	maxPerMinute      int
	dropRejected      bool
}

func defaultAppConfig() *appConfig {
	d := chatlog.DefaultConfig()
	return &appConfig{
		source:            "stdin",
		serialDev:         "/dev/ttyUSB0",
		baud:              115200,
		serialReadTO:      50 * time.Millisecond,
		mirror:            "none",
		tick:              100 * time.Millisecond,
		drainTimeout:      30 * time.Second,
		logFormat:         "text",
		logLevel:          "info",
		endpoint:          d.Endpoint,
		format:            d.Format.String(),
		lineSize:          d.LineSize,
		queueCapacity:     d.QueueCapacity,
		sendInterval:      d.SendInterval,
		connectTimeout:    d.ConnectTimeout,
		maxRetries:        d.MaxRetries,
		sendTimeout:       d.SendTimeout,
		reconnectInterval: d.ReconnectInterval,
		probeTimeout:      d.ProbeTimeout,
	}
}

// parseFlags layers configuration as defaults < --config file < CHATLOG_*
// env < explicit flags. The bool result reports --version.
func parseFlags(args []string, out io.Writer) (*appConfig, bool, error) {
	cfg := defaultAppConfig()
	if path := configPathFromArgs(args); path != "" {
		if err := applyConfigFile(cfg, path); err != nil {
			return nil, false, err
		}
	}

	fs := pflag.NewFlagSet("chatlog-agent", pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&cfg.configFile, "config", cfg.configFile, "YAML config file (applied beneath env and flags)")
	fs.StringVar(&cfg.source, "source", cfg.source, "Input source: stdin|serial")
	fs.StringVar(&cfg.serialDev, "serial", cfg.serialDev, "Serial device path (when --source=serial)")
	fs.IntVar(&cfg.baud, "baud", cfg.baud, "Serial baud rate")
	fs.DurationVar(&cfg.serialReadTO, "serial-read-timeout", cfg.serialReadTO, "Serial read timeout")
	fs.StringVar(&cfg.mirror, "mirror", cfg.mirror, "Copy raw input to: none|stdout|stderr|<file path>")
	fs.DurationVar(&cfg.tick, "tick", cfg.tick, "Main loop update period")
	fs.DurationVar(&cfg.drainTimeout, "drain-timeout", cfg.drainTimeout, "How long to keep delivering queued messages on shutdown")
	fs.StringVar(&cfg.logFormat, "log-format", cfg.logFormat, "Log format: text|json")
	fs.StringVar(&cfg.logLevel, "log-level", cfg.logLevel, "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", cfg.metricsAddr, "Metrics HTTP listen address (e.g., :9100); empty disables")
	fs.DurationVar(&cfg.logMetricsEvery, "log-metrics-interval", cfg.logMetricsEvery, "If >0, periodically log metrics counters")
	fs.BoolVar(&cfg.mdnsEnable, "mdns-enable", cfg.mdnsEnable, "Advertise the metrics endpoint via mDNS")
	fs.StringVar(&cfg.mdnsName, "mdns-name", cfg.mdnsName, "mDNS instance name (default chatlog-<hostname>)")
	fs.StringVar(&cfg.endpoint, "endpoint", cfg.endpoint, "Bot API base URL")
	fs.StringVar(&cfg.token, "token", cfg.token, "Bot token (prefer CHATLOG_TOKEN)")
	fs.StringVar(&cfg.chatID, "chat-id", cfg.chatID, "Destination chat id")
	fs.StringVar(&cfg.probeAddr, "probe-addr", cfg.probeAddr, "host:port probed for reachability (default derived from endpoint)")
	fs.StringVar(&cfg.format, "format", cfg.format, "Message format: plain|monospace")
	fs.IntVar(&cfg.lineSize, "line-size", cfg.lineSize, "Maximum message size in bytes")
	fs.IntVar(&cfg.queueCapacity, "queue-capacity", cfg.queueCapacity, "Pending message capacity")
	fs.DurationVar(&cfg.sendInterval, "send-interval", cfg.sendInterval, "Minimum spacing between send attempts")
	fs.DurationVar(&cfg.connectTimeout, "connect-timeout", cfg.connectTimeout, "Startup connect timeout")
	fs.IntVar(&cfg.maxRetries, "max-retries", cfg.maxRetries, "Retries after the first failed attempt")
	fs.DurationVar(&cfg.sendTimeout, "send-timeout", cfg.sendTimeout, "Timeout of a single send attempt")
	fs.DurationVar(&cfg.reconnectInterval, "reconnect-interval", cfg.reconnectInterval, "Spacing of reconnect probes")
	fs.DurationVar(&cfg.probeTimeout, "probe-timeout", cfg.probeTimeout, "Abandon a reconnect probe after this long")
	fs.IntVar(&cfg.maxPerMinute, "max-per-minute", cfg.maxPerMinute, "Cap on send attempts per minute (0 = none)")
	fs.BoolVar(&cfg.dropRejected, "drop-rejected", cfg.dropRejected, "Drop a message on its first permanent API rejection")
	showVersion := fs.Bool("version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, false, err
	}
	if *showVersion {
		return cfg, true, nil
	}

	// Track which flags were explicitly set to give them precedence over env.
	setFlags := map[string]struct{}{}
	fs.Visit(func(f *pflag.Flag) { setFlags[f.Name] = struct{}{} })
	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		return nil, false, fmt.Errorf("environment override error: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, false, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, false, nil
}

// configPathFromArgs finds --config before the full flag set is built, so the
// file can seed the flag defaults. CHATLOG_CONFIG is used when the flag is absent.
func configPathFromArgs(args []string) string {
	for i, a := range args {
		if a == "--" {
			break
		}
		if v, ok := strings.CutPrefix(a, "--config="); ok {
			return v
		}
		if a == "--config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	v, _ := os.LookupEnv("CHATLOG_CONFIG")
	return strings.TrimSpace(v)
}

// fileConfig is the YAML shape of the config file. Keys left out keep their
// current values.
type fileConfig struct {
	Source             string         `yaml:"source"`
	Serial             string         `yaml:"serial"`
	Baud               int            `yaml:"baud"`
	SerialReadTimeout  time.Duration  `yaml:"serial_read_timeout"`
	Mirror             string         `yaml:"mirror"`
	Tick               time.Duration  `yaml:"tick"`
	DrainTimeout       time.Duration  `yaml:"drain_timeout"`
	LogFormat          string         `yaml:"log_format"`
	LogLevel           string         `yaml:"log_level"`
	MetricsAddr        string         `yaml:"metrics_addr"`
	LogMetricsInterval time.Duration  `yaml:"log_metrics_interval"`
	MDNSEnable         bool           `yaml:"mdns_enable"`
	MDNSName           string         `yaml:"mdns_name"`
	Chat               chatlog.Config `yaml:"chat"`
}

func applyConfigFile(c *appConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	fc := fileConfig{
		Source: c.source, Serial: c.serialDev, Baud: c.baud, SerialReadTimeout: c.serialReadTO,
		Mirror: c.mirror, Tick: c.tick, DrainTimeout: c.drainTimeout, LogFormat: c.logFormat,
		LogLevel: c.logLevel, MetricsAddr: c.metricsAddr, LogMetricsInterval: c.logMetricsEvery,
		MDNSEnable: c.mdnsEnable, MDNSName: c.mdnsName,
	}
	fc.Chat, err = c.chatConfig()
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	c.configFile = path
	c.source, c.serialDev, c.baud, c.serialReadTO = fc.Source, fc.Serial, fc.Baud, fc.SerialReadTimeout
	c.mirror, c.tick, c.drainTimeout = fc.Mirror, fc.Tick, fc.DrainTimeout
	c.logFormat, c.logLevel, c.metricsAddr, c.logMetricsEvery = fc.LogFormat, fc.LogLevel, fc.MetricsAddr, fc.LogMetricsInterval
	c.mdnsEnable, c.mdnsName = fc.MDNSEnable, fc.MDNSName
	ch := fc.Chat
	c.endpoint, c.token, c.chatID, c.probeAddr = ch.Endpoint, ch.Token, ch.ChatID, ch.ProbeAddr
	c.format = ch.Format.String()
	c.lineSize, c.queueCapacity, c.maxRetries, c.maxPerMinute = ch.LineSize, ch.QueueCapacity, ch.MaxRetries, ch.MaxPerMinute
	c.sendInterval, c.connectTimeout, c.sendTimeout = ch.SendInterval, ch.ConnectTimeout, ch.SendTimeout
	c.reconnectInterval, c.probeTimeout = ch.ReconnectInterval, ch.ProbeTimeout
	c.dropRejected = ch.DropRejected
	return nil
}

// chatConfig converts the delivery settings into a chatlog.Config.
func (c *appConfig) chatConfig() (chatlog.Config, error) {
	f, err := botapi.ParseFormat(c.format)
	if err != nil {
		return chatlog.Config{}, err
	}
	return chatlog.Config{
		LineSize:          c.lineSize,
		QueueCapacity:     c.queueCapacity,
		SendInterval:      c.sendInterval,
		ConnectTimeout:    c.connectTimeout,
		MaxRetries:        c.maxRetries,
		SendTimeout:       c.sendTimeout,
		ReconnectInterval: c.reconnectInterval,
		ProbeTimeout:      c.probeTimeout,
		MaxPerMinute:      c.maxPerMinute,
		Format:            f,
		Endpoint:          c.endpoint,
		Token:             c.token,
		ChatID:            c.chatID,
		ProbeAddr:         c.probeAddr,
		DropRejected:      c.dropRejected,
	}, nil
}

// validate performs basic semantic validation of the parsed configuration.
// It does not open devices or sockets.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	if _, err := logging.ParseLevel(c.logLevel); err != nil {
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.source {
	case "stdin":
	case "serial":
		if c.serialDev == "" {
			return errors.New("serial device is required for --source=serial")
		}
		if c.baud <= 0 {
			return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
		}
		if c.serialReadTO <= 0 {
			return errors.New("serial-read-timeout must be > 0")
		}
	default:
		return fmt.Errorf("invalid source: %s", c.source)
	}
	if c.mirror == "" {
		return errors.New("mirror must be none, stdout, stderr or a file path")
	}
	if c.tick <= 0 {
		return errors.New("tick must be > 0")
	}
	if c.drainTimeout < 0 {
		return errors.New("drain-timeout must be >= 0")
	}
	if c.logMetricsEvery < 0 {
		return errors.New("log-metrics-interval must be >= 0")
	}
	if c.token == "" {
		return errors.New("token is required (--token or CHATLOG_TOKEN)")
	}
	if c.chatID == "" {
		return errors.New("chat-id is required (--chat-id or CHATLOG_CHAT_ID)")
	}
	cc, err := c.chatConfig()
	if err != nil {
		return err
	}
	return cc.Validate()
}

// applyEnvOverrides maps CHATLOG_* environment variables to config fields
// unless the corresponding flag was explicitly set. Empty values are
// ignored; durations use time.ParseDuration. The first parse error is
// returned after all variables have been applied.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	fail := func(key string, err error) {
		if firstErr == nil {
			firstErr = fmt.Errorf("invalid %s: %w", key, err)
		}
	}
	lookup := func(flagName, key string) (string, bool) {
		if _, ok := set[flagName]; ok {
			return "", false
		}
		v, ok := os.LookupEnv(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	str := func(flagName, key string, dst *string) {
		if v, ok := lookup(flagName, key); ok {
			*dst = v
		}
	}
	num := func(flagName, key string, min int, dst *int) {
		if v, ok := lookup(flagName, key); ok {
			n, err := strconv.Atoi(v)
			switch {
			case err != nil:
				fail(key, err)
			case n < min:
				fail(key, fmt.Errorf("must be >= %d", min))
			default:
				*dst = n
			}
		}
	}
	dur := func(flagName, key string, dst *time.Duration) {
		if v, ok := lookup(flagName, key); ok {
			d, err := time.ParseDuration(v)
			switch {
			case err != nil:
				fail(key, err)
			case d < 0:
				fail(key, errors.New("must be >= 0"))
			default:
				*dst = d
			}
		}
	}
	boolean := func(flagName, key string, dst *bool) {
		if v, ok := lookup(flagName, key); ok {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				*dst = true
			case "0", "false", "no", "off":
				*dst = false
			default:
				fail(key, fmt.Errorf("not a boolean: %q", v))
			}
		}
	}

	str("source", "CHATLOG_SOURCE", &c.source)
	str("serial", "CHATLOG_SERIAL", &c.serialDev)
	num("baud", "CHATLOG_BAUD", 1, &c.baud)
	dur("serial-read-timeout", "CHATLOG_SERIAL_READ_TIMEOUT", &c.serialReadTO)
	str("mirror", "CHATLOG_MIRROR", &c.mirror)
	dur("tick", "CHATLOG_TICK", &c.tick)
	dur("drain-timeout", "CHATLOG_DRAIN_TIMEOUT", &c.drainTimeout)
	str("log-format", "CHATLOG_LOG_FORMAT", &c.logFormat)
	str("log-level", "CHATLOG_LOG_LEVEL", &c.logLevel)
	if _, ok := set["metrics-addr"]; !ok {
		// An empty CHATLOG_METRICS disables the endpoint set by a config file.
		if v, ok := os.LookupEnv("CHATLOG_METRICS"); ok {
			c.metricsAddr = strings.TrimSpace(v)
		}
	}
	dur("log-metrics-interval", "CHATLOG_LOG_METRICS_INTERVAL", &c.logMetricsEvery)
	boolean("mdns-enable", "CHATLOG_MDNS_ENABLE", &c.mdnsEnable)
	str("mdns-name", "CHATLOG_MDNS_NAME", &c.mdnsName)
	str("endpoint", "CHATLOG_ENDPOINT", &c.endpoint)
	str("token", "CHATLOG_TOKEN", &c.token)
	str("chat-id", "CHATLOG_CHAT_ID", &c.chatID)
	str("probe-addr", "CHATLOG_PROBE_ADDR", &c.probeAddr)
	str("format", "CHATLOG_FORMAT", &c.format)
	num("line-size", "CHATLOG_LINE_SIZE", 1, &c.lineSize)
	num("queue-capacity", "CHATLOG_QUEUE_CAPACITY", 1, &c.queueCapacity)
	dur("send-interval", "CHATLOG_SEND_INTERVAL", &c.sendInterval)
	dur("connect-timeout", "CHATLOG_CONNECT_TIMEOUT", &c.connectTimeout)
	num("max-retries", "CHATLOG_MAX_RETRIES", 0, &c.maxRetries)
	dur("send-timeout", "CHATLOG_SEND_TIMEOUT", &c.sendTimeout)
	dur("reconnect-interval", "CHATLOG_RECONNECT_INTERVAL", &c.reconnectInterval)
	dur("probe-timeout", "CHATLOG_PROBE_TIMEOUT", &c.probeTimeout)
	num("max-per-minute", "CHATLOG_MAX_PER_MINUTE", 0, &c.maxPerMinute)
	boolean("drop-rejected", "CHATLOG_DROP_REJECTED", &c.dropRejected)
	return firstErr
}

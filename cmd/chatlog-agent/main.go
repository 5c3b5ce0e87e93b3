package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/kstaniek/go-chatlog/chatlog"
	"github.com/kstaniek/go-chatlog/internal/metrics"
)

func main() {
	cfg, showVersion, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if showVersion {
		fmt.Printf("chatlog-agent %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	session := uuid.NewString()
	l = l.With("session", session)
	l.Info("build_info", "version", version, "commit", commit, "date", date)
	if err := run(cfg, session, l); err != nil {
		l.Error("agent_error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *appConfig, session string, l *slog.Logger) (err error) {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	var wg sync.WaitGroup
	bg, stopBg := context.WithCancel(context.Background())
	defer func() { stopBg(); wg.Wait() }()
	startMetricsLogger(bg, cfg.logMetricsEvery, l, &wg)

	chatCfg, err := cfg.chatConfig()
	if err != nil {
		return err
	}
	mirrorW, closeMirror, err := openMirror(bg, cfg.mirror, l)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeMirror()) }()

	opts := []chatlog.Option{chatlog.WithLogger(l)}
	if mirrorW != nil {
		opts = append(opts, chatlog.WithMirror(mirrorW))
	}
	lg, err := chatlog.New(chatCfg, opts...)
	if err != nil {
		return err
	}

	pub := &publisher{}
	metrics.SetReadinessFunc(func() bool { return ctx.Err() == nil && pub.connected.Load() })
	metrics.SetStatusFunc(func() any {
		return status{Session: session, Version: version, Source: cfg.source, Logger: pub.snapshot(), Metrics: metrics.Snap()}
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { err = multierr.Append(err, srvHTTP.Shutdown(context.Background())) }()
		defer advertise(cfg, session, chatCfg, l)()
	} else if cfg.mdnsEnable {
		l.Warn("mdns_skipped", "reason", "metrics-addr not set")
	}

	chunks, closeSource, err := startSource(ctx, cfg, l, &wg)
	if err != nil {
		return err
	}
	defer closeSource()

	ok := lg.Begin()
	l.Info("agent_started", "source", cfg.source, "connected", ok, "tick", cfg.tick)
	left := runLoop(ctx, lg, chunks, cfg.tick, cfg.drainTimeout, pub, l)
	l.Info("shutdown", "undelivered", left, "stats", metrics.Snap())
	return nil
}

// advertise registers the status endpoint via mDNS when enabled and returns
// the function that withdraws it.
func advertise(cfg *appConfig, session string, chatCfg chatlog.Config, l *slog.Logger) func() {
	if !cfg.mdnsEnable {
		return func() {}
	}
	_, p, err := net.SplitHostPort(cfg.metricsAddr)
	port, perr := strconv.Atoi(p)
	if err != nil || perr != nil || port == 0 {
		l.Warn("mdns_skipped", "reason", "metrics-addr has no fixed port", "addr", cfg.metricsAddr)
		return func() {}
	}
	host, _, _ := net.SplitHostPort(chatCfg.ProbeTarget())
	ad := newAdvertisement(cfg, port, session, host)
	stop, err := startMDNS(ad)
	if err != nil {
		l.Warn("mdns_start_failed", "error", err)
		return func() {}
	}
	l.Info("mdns_started", "service", mdnsServiceType, "name", ad.instance, "port", port)
	return stop
}

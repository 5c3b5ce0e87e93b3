package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/kstaniek/go-chatlog/internal/metrics"
	"github.com/kstaniek/go-chatlog/internal/serial"
)

// sleepFn allows tests to intercept backoff sleeps.
var sleepFn = time.Sleep

// openSerialPort is a hook for tests (overridden in unit tests).
var openSerialPort = serial.Open

// stdin is the stdin source reader; tests replace it.
var stdin io.Reader = os.Stdin

// startSource launches the configured reader and returns a channel of input
// chunks. The channel is closed when the source ends.
func startSource(ctx context.Context, cfg *appConfig, l *slog.Logger, wg *sync.WaitGroup) (<-chan []byte, func(), error) {
	switch cfg.source {
	case "stdin":
		return startReaderSource(ctx, stdin, l), func() {}, nil
	case "serial":
		return startSerialSource(ctx, cfg, l, wg)
	default:
		return nil, func() {}, fmt.Errorf("unknown source %q (use stdin|serial)", cfg.source)
	}
}

// startReaderSource pumps r until EOF. A blocked Read cannot be interrupted,
// so the goroutine is not tracked by the shutdown WaitGroup.
func startReaderSource(ctx context.Context, r io.Reader, l *slog.Logger) <-chan []byte {
	out := make(chan []byte, sourceChanSize)
	go func() {
		defer close(out)
		defer l.Info("source_end", "source", "stdin")
		buf := make([]byte, sourceReadBufSize)
		for {
			n, err := r.Read(buf)
			if n > 0 && !deliverChunk(ctx, out, buf[:n]) {
				return
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					metrics.IncError(metrics.ErrSourceRead)
					l.Warn("source_read_error", "source", "stdin", "error", err)
				}
				return
			}
		}
	}()
	return out
}

// startSerialSource opens the debug port and reads it with exponential
// backoff on errors. Transient EOFs are ignored; a removed device ends the
// source.
func startSerialSource(ctx context.Context, cfg *appConfig, l *slog.Logger, wg *sync.WaitGroup) (<-chan []byte, func(), error) {
	sp, err := openSerialPort(cfg.serialDev, cfg.baud, cfg.serialReadTO)
	if err != nil {
		return nil, func() {}, fmt.Errorf("open serial: %w", err)
	}
	l.Info("serial_open", "device", cfg.serialDev, "baud", cfg.baud)
	out := make(chan []byte, sourceChanSize)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(out)
		defer l.Info("source_end", "source", "serial")
		buf := make([]byte, sourceReadBufSize)
		backoff := rxBackoffMin
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			n, err := sp.Read(buf)
			if n > 0 {
				if !deliverChunk(ctx, out, buf[:n]) {
					return
				}
				backoff = rxBackoffMin
			}
			if err != nil {
				if ctx.Err() != nil { // shutting down
					return
				}
				var perr *os.PathError
				if errors.As(err, &perr) {
					l.Warn("serial_gone", "device", cfg.serialDev, "error", err)
					return
				}
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					continue // read timeout with no data
				}
				metrics.IncError(metrics.ErrSourceRead)
				l.Warn("serial_read_error", "error", err, "backoff", backoff)
				sleepFn(backoff)
				backoff *= 2
				if backoff > rxBackoffMax {
					backoff = rxBackoffMax
				}
			}
		}
	}()
	return out, func() { _ = sp.Close() }, nil
}

// deliverChunk copies p onto out. It reports false when ctx ends first.
func deliverChunk(ctx context.Context, out chan<- []byte, p []byte) bool {
	chunk := make([]byte, len(p))
	copy(chunk, p)
	metrics.AddSourceRx(len(p))
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

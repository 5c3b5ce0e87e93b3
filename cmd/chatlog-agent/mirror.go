package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"go.uber.org/multierr"

	"github.com/kstaniek/go-chatlog/internal/metrics"
	"github.com/kstaniek/go-chatlog/internal/mirror"
)

// openMirror resolves --mirror to an async writer. It returns a nil writer
// for "none". The cleanup stops the writer and closes any opened file.
func openMirror(ctx context.Context, target string, l *slog.Logger) (io.Writer, func() error, error) {
	var (
		w    io.Writer
		file *os.File
	)
	switch target {
	case "none", "":
		return nil, func() error { return nil }, nil
	case "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open mirror: %w", err)
		}
		w, file = f, f
	}
	var lastErrLog time.Time
	aw := mirror.NewAsyncWriter(ctx, mirrorQueueSize, w, mirror.Hooks{
		OnDrop: func() {
			metrics.IncMirrorDrop()
			metrics.IncError(metrics.ErrMirrorOver)
		},
		OnError: func(err error) {
			metrics.IncError(metrics.ErrMirrorWrite)
			if time.Since(lastErrLog) > 5*time.Second {
				lastErrLog = time.Now()
				l.Warn("mirror_write_error", "target", target, "error", err)
			}
		},
	})
	cleanup := func() error {
		err := aw.Close()
		if file != nil {
			err = multierr.Append(err, file.Close())
		}
		return err
	}
	return aw, cleanup, nil
}

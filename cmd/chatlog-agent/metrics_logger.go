package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-chatlog/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"enqueued", snap.Enqueued,
					"sent", snap.Sent,
					"attempts", snap.Attempts,
					"evicted", snap.Evicted,
					"dropped", snap.Dropped,
					"truncated", snap.Truncated,
					"reconnects", snap.Reconnects,
					"queue_depth", snap.QueueDepth,
					"source_rx", snap.SourceRx,
					"mirror_dropped", snap.MirrorDropped,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}

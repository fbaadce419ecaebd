package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/visuvia/mctp-controller/internal/metrics"
)

// startMetricsLogger periodically logs a snapshot of local counters, useful
// when no Prometheus scraper is in play. interval <= 0 disables it.
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
					"frames_received", snap.FramesReceived,
					"bytes_received", snap.BytesReceived,
					"sync_retries", snap.SyncRetries,
					"stop_retries", snap.StopRetries,
					"drop_retries", snap.DropRetries,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}

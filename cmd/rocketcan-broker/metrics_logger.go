package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mac-can/rocketcan-go/internal/metrics"
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
					"sent", snap.Sent,
					"received", snap.Received,
					"lost", snap.Lost,
					"clients", snap.Clients,
					"aborts", snap.Aborts,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}

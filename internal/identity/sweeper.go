package identity

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often idle sessions are collected.
const DefaultSweepInterval = 5 * time.Minute

// StartSweeper runs a background goroutine that periodically drops idle
// sessions until ctx is canceled.
func StartSweeper(ctx context.Context, sessions *Sessions, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("session sweeper started", "interval", interval, "ttl", sessions.ttl)

		for {
			select {
			case <-ticker.C:
				if removed := sessions.Sweep(); removed > 0 {
					slog.Info("session sweeper removed idle sessions", "count", removed, "remaining", sessions.Len())
				}
			case <-ctx.Done():
				slog.Info("session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

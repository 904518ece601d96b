package services

import (
	"context"
	"log/slog"
	"time"
)

// Sweep drops every key whose window has passed and returns how many were
// removed
func (c *DedupeCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	before := len(c.seen)
	c.evictExpiredLocked(c.now())
	return before - len(c.seen)
}

// StartDedupeCleanup starts a background goroutine that periodically sweeps
// expired keys. A non-positive interval uses the dedupe window.
func StartDedupeCleanup(ctx context.Context, cache *DedupeCache, interval time.Duration) {
	if interval <= 0 {
		interval = cache.window
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				slog.Info("Dedupe cleanup stopped")
				return
			case <-ticker.C:
				if count := cache.Sweep(); count > 0 {
					slog.Debug("Swept expired dedupe keys", "count", count, "remaining", cache.Len())
				}
			}
		}
	}()

	slog.Info("Dedupe cleanup started", "interval", interval)
}

package services

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RateLimiter implements a simple sliding window rate limiter
type RateLimiter struct {
	mu                sync.Mutex
	requestsPerMinute int
	lastRequests      []time.Time
}

// NewRateLimiter creates a new rate limiter. rpm <= 0 disables limiting.
func NewRateLimiter(rpm int) *RateLimiter {
	return &RateLimiter{
		requestsPerMinute: rpm,
		lastRequests:      make([]time.Time, 0),
	}
}

// Wait blocks until a request can be made within rate limits
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil || r.requestsPerMinute <= 0 {
		return nil
	}

	for {
		waitDuration := r.reserve(time.Now())
		if waitDuration <= 0 {
			return nil
		}

		slog.Info("Rate limit reached, waiting...",
			"waitSeconds", waitDuration.Seconds(),
			"rpm", r.requestsPerMinute,
		)

		timer := time.NewTimer(waitDuration)
		select {
		case <-timer.C:
			// Try again after wait
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// reserve records a request at now and returns 0, or returns how long to
// wait before trying again
func (r *RateLimiter) reserve(now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	windowStart := now.Add(-time.Minute)

	// Remove old requests outside the window
	validRequests := r.lastRequests[:0]
	for _, t := range r.lastRequests {
		if t.After(windowStart) {
			validRequests = append(validRequests, t)
		}
	}
	r.lastRequests = validRequests

	if len(r.lastRequests) >= r.requestsPerMinute {
		return r.lastRequests[0].Add(time.Minute).Sub(now)
	}

	r.lastRequests = append(r.lastRequests, now)
	return 0
}

package realtime

import (
	"sync"
	"time"
)

// RateLimiter bounds how many inbound events a single connection may submit
// inside a sliding window. The gateway's read loop consults it once per
// envelope; exceeding the limit closes the connection, it is not a soft
// throttle.
type RateLimiter struct {
	mu     sync.Mutex
	stamps []time.Time
	limit  int
	window time.Duration
}

// NewRateLimiter constructs a limiter, substituting the package defaults for
// non-positive inputs.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{
		stamps: make([]time.Time, 0, limit+8),
		limit:  limit,
		window: window,
	}
}

// Allow reports whether an event observed at now fits in the window, and
// records it if so.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-r.window)
	live := r.stamps[:0]
	for _, ts := range r.stamps {
		if ts.After(cutoff) {
			live = append(live, ts)
		}
	}
	r.stamps = live

	if len(r.stamps) >= r.limit {
		return false
	}
	r.stamps = append(r.stamps, now)
	return true
}

package demo

// Rate limiter utility using a sliding window approach.

import (
	"sync"
	"time"
)

// RateLimiter allows at most 'limit' requests within any window of length
// 'window'.
type RateLimiter struct {
	limit  int
	window time.Duration
	reqs   []time.Time // accepted requests inside the window, oldest first
	now    func() time.Time
	mu     sync.Mutex
}

// NewRateLimiter creates a RateLimiter that reads the wall clock.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return NewRateLimiterWithClock(limit, window, time.Now)
}

// NewRateLimiterWithClock is NewRateLimiter with a caller-provided clock.
func NewRateLimiterWithClock(limit int, window time.Duration, now func() time.Time) *RateLimiter {
	return &RateLimiter{
		limit:  limit,
		window: window,
		reqs:   make([]time.Time, 0, limit),
		now:    now,
	}
}

// Allow records a request and reports whether it fits in the window.
// Rejected requests are not recorded.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	exp := now.Add(-r.window)
	idx := len(r.reqs)
	for i, t := range r.reqs {
		if t.After(exp) {
			idx = i
			break
		}
	}
	r.reqs = r.reqs[idx:]

	if len(r.reqs) < r.limit {
		r.reqs = append(r.reqs, now)
		return true
	}
	return false
}

package memory

import (
	"context"
	"sync"
	"time"

	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/domain"
)

// RateLimiter is a process-local sliding-window domain.RateLimiter.
type RateLimiter struct {
	now func() time.Time

	mu   sync.Mutex
	hits map[string][]time.Time
}

// NewRateLimiter creates a RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{now: time.Now, hits: make(map[string][]time.Time)}
}

// Allow reports whether a request for key fits in the window and counts it
// if so.
func (rl *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-window)
	kept := rl.hits[key][:0]
	for _, t := range rl.hits[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= limit {
		rl.hits[key] = kept
		return false, nil
	}
	rl.hits[key] = append(kept, now)
	return true, nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)

package security

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a sender exceeds its message budget.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitConfig bounds how many messages one sender may submit.
type RateLimitConfig struct {
	// MessagesPerMin is the per-key budget over a sliding minute. Zero
	// disables limiting.
	MessagesPerMin int `yaml:"messages_per_min"`
}

// RateLimiter is a per-key sliding window limiter. The key is typically
// the chat user id.
type RateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	limit   int
	buckets map[string][]time.Time
	pruned  time.Time
	now     func() time.Time
}

// NewRateLimiter creates a limiter from cfg. A nil limiter allows everything.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.MessagesPerMin <= 0 {
		return nil
	}
	return &RateLimiter{
		window:  time.Minute,
		limit:   cfg.MessagesPerMin,
		buckets: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow records one event for key and returns ErrRateLimited when the key
// already used its budget within the window.
func (rl *RateLimiter) Allow(key string) error {
	if rl == nil {
		return nil
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.pruned) >= rl.window {
		rl.pruneLocked(now)
	}
	events := evict(rl.buckets[key], now.Add(-rl.window))
	if len(events) >= rl.limit {
		rl.buckets[key] = events
		return ErrRateLimited
	}
	rl.buckets[key] = append(events, now)
	return nil
}

// Prune drops keys with no events inside the window. Allow also prunes
// once per window.
func (rl *RateLimiter) Prune() {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.pruneLocked(rl.now())
}

func (rl *RateLimiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-rl.window)
	for key, events := range rl.buckets {
		if events = evict(events, cutoff); len(events) == 0 {
			delete(rl.buckets, key)
		} else {
			rl.buckets[key] = events
		}
	}
	rl.pruned = now
}

// evict drops events older than cutoff. Events are chronological.
func evict(events []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(events) && events[i].Before(cutoff) {
		i++
	}
	return events[i:]
}

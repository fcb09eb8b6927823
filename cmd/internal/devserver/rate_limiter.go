package devserver

import (
	"sync"
	"time"
)

// RateLimiter is a per-connection sliding-window limiter.
type RateLimiter struct {
	mu     sync.Mutex
	events []time.Time
	limit  int
	window time.Duration
}

// NewRateLimiter falls back to the package defaults for non-positive inputs.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{
		events: make([]time.Time, 0, limit+8),
		limit:  limit,
		window: window,
	}
}

// Allow records an event at now and reports whether it fits in the window.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cut := now.Add(-r.window)
	i := 0
	for i < len(r.events) && !r.events[i].After(cut) {
		i++
	}
	r.events = append(r.events[:0], r.events[i:]...)

	if len(r.events) >= r.limit {
		return false
	}
	r.events = append(r.events, now)
	return true
}

// idle reports whether no event is left inside the window at now.
func (r *RateLimiter) idle(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events) == 0 || !r.events[len(r.events)-1].After(now.Add(-r.window))
}

// keyedLimiter keeps one RateLimiter per key (login attempts per ip:username).
type keyedLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	byKey  map[string]*RateLimiter
}

func newKeyedLimiter(limit int, window time.Duration) *keyedLimiter {
	return &keyedLimiter{limit: limit, window: window, byKey: make(map[string]*RateLimiter)}
}

func (k *keyedLimiter) Allow(key string, now time.Time) bool {
	k.mu.Lock()
	rl, ok := k.byKey[key]
	if !ok {
		if len(k.byKey) >= maxLimiterKeys {
			for kk, v := range k.byKey {
				if v.idle(now) {
					delete(k.byKey, kk)
				}
			}
		}
		rl = NewRateLimiter(k.limit, k.window)
		k.byKey[key] = rl
	}
	k.mu.Unlock()
	return rl.Allow(now)
}

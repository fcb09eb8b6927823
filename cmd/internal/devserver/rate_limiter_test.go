package devserver

import (
	"testing"
	"time"
)

func TestRateLimiter_SlidingWindow(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(3, time.Second)
	base := time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if !rl.Allow(base.Add(time.Duration(i) * 100 * time.Millisecond)) {
			t.Fatalf("event %d should be allowed", i)
		}
	}
	if rl.Allow(base.Add(300 * time.Millisecond)) {
		t.Fatalf("4th event inside the window must be rejected")
	}
	if !rl.Allow(base.Add(1100 * time.Millisecond)) {
		t.Fatalf("event after the first expired should be allowed")
	}
}

func TestRateLimiter_Defaults(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(0, 0)
	if rl.limit != rateLimitEvents || rl.window != rateLimitWindow {
		t.Fatalf("defaults got limit=%d window=%v", rl.limit, rl.window)
	}
}

func TestKeyedLimiter_IsolatesKeys(t *testing.T) {
	t.Parallel()

	k := newKeyedLimiter(2, time.Minute)
	now := time.Unix(1_700_000_000, 0)

	if !k.Allow("a", now) || !k.Allow("a", now) {
		t.Fatalf("first two attempts must pass")
	}
	if k.Allow("a", now) {
		t.Fatalf("third attempt for a must be limited")
	}
	if !k.Allow("b", now) {
		t.Fatalf("b must not share a's budget")
	}
	if !k.Allow("a", now.Add(2*time.Minute)) {
		t.Fatalf("a must recover after the window")
	}
}

package chat

import (
	"math/rand/v2"
	"time"
)

// Reconnect schedule defaults.
const (
	defaultReconnectBase   = 1 * time.Second
	defaultReconnectCap    = 30 * time.Second
	defaultReconnectJitter = 400 * time.Millisecond

	// maxBackoffExponent bounds the doubling so the shift never overflows.
	maxBackoffExponent = 5
)

// Backoff computes reconnect delays: min(Cap, Base*2^min(attempt,5)) + jitter in [0, MaxJitter).
type Backoff struct {
	Base      time.Duration
	Cap       time.Duration
	MaxJitter time.Duration
}

// DefaultBackoff returns the 1s/30s/400ms schedule.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:      defaultReconnectBase,
		Cap:       defaultReconnectCap,
		MaxJitter: defaultReconnectJitter,
	}
}

func (b Backoff) withDefaults() Backoff {
	def := DefaultBackoff()
	if b.Base <= 0 {
		b.Base = def.Base
	}
	if b.Cap <= 0 {
		b.Cap = def.Cap
	}
	if b.MaxJitter < 0 {
		b.MaxJitter = 0
	}
	return b
}

// BaseDelay returns the delay before jitter for the given attempt.
func (b Backoff) BaseDelay(attempt int) time.Duration {
	b = b.withDefaults()
	if attempt < 0 {
		attempt = 0
	}
	exp := min(attempt, maxBackoffExponent)
	d := b.Base << exp
	if d > b.Cap || d <= 0 {
		return b.Cap
	}
	return d
}

// Delay returns BaseDelay(attempt) plus a jitter drawn from jitterN.
// jitterN(n) must return a value in [0, n); nil uses math/rand/v2.
func (b Backoff) Delay(attempt int, jitterN func(n int64) int64) time.Duration {
	b = b.withDefaults()
	d := b.BaseDelay(attempt)
	if b.MaxJitter <= 0 {
		return d
	}
	if jitterN == nil {
		jitterN = rand.Int64N
	}
	j := jitterN(int64(b.MaxJitter))
	if j < 0 || j >= int64(b.MaxJitter) {
		j = 0
	}
	return d + time.Duration(j)
}

// throttle.go implements per-source token-bucket rate limiting for the
// webhook ingress. Buckets refill continuously rather than in window
// bursts, so a well-behaved alert source never sees a spurious 429.
package ingest

import (
	"sync"
	"time"
)

// TokenBucket is a token-bucket limiter with continuous refill.
// Ingress calls TryTake, which never blocks.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64   // current available tokens (fractional allowed)
	capacity float64   // maximum burst size
	rate     float64   // tokens refilled per second
	lastTime time.Time // last time tokens were calculated
}

// NewTokenBucket creates a limiter with the given burst capacity and
// refill rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// TryTake consumes a token if one is available. Returns false when the
// caller should be throttled.
func (tb *TokenBucket) TryTake() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	tb.tokens += now.Sub(tb.lastTime).Seconds() * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastTime = now

	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// Throttle maintains one bucket per source address.
type Throttle struct {
	mu       sync.Mutex
	buckets  map[string]*TokenBucket
	capacity float64
	rate     float64
}

// NewThrottle creates a per-source throttle.
func NewThrottle(capacity, ratePerSecond float64) *Throttle {
	return &Throttle{
		buckets:  make(map[string]*TokenBucket),
		capacity: capacity,
		rate:     ratePerSecond,
	}
}

// Allow reports whether the source may proceed.
func (t *Throttle) Allow(source string) bool {
	t.mu.Lock()
	bucket, ok := t.buckets[source]
	if !ok {
		bucket = NewTokenBucket(t.capacity, t.rate)
		t.buckets[source] = bucket
	}
	t.mu.Unlock()

	return bucket.TryTake()
}

package ratelimit

import (
	"sync"
	"time"
)

// Limiter keys token buckets by caller, typically remote address plus
// endpoint. Buckets are created on first use and refill continuously.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
}

type tokenBucket struct {
	tokens float64
	cap    float64
	rate   float64 // tokens per second
	last   time.Time
}

func (b *tokenBucket) refill(now time.Time) {
	elapsed := now.Sub(b.last).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.rate
	if b.tokens > b.cap {
		b.tokens = b.cap
	}
	b.last = now
}

func New() *Limiter {
	return &Limiter{buckets: make(map[string]*tokenBucket)}
}

// Allow consumes one token for key if available. New keys start full.
func (l *Limiter) Allow(key string, capacity, refillPerSec float64) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &tokenBucket{tokens: capacity, cap: capacity, rate: refillPerSec, last: now}
		l.buckets[key] = b
	}
	b.refill(now)

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

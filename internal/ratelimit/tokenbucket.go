// Package ratelimit implements a single process-wide token bucket that
// blocks callers until a token is available instead of rejecting them.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// TokenBucket is a per-process singleton guarded by its own lock; refill
// is time-based so it requires no scheduled background task.
type TokenBucket struct {
	mu         sync.Mutex
	rate       float64 // tokens per second
	burst      float64
	tokens     float64
	lastRefill time.Time
}

// New creates a bucket starting full, refilling at ratePerSec up to burst.
func New(ratePerSec, burst int) *TokenBucket {
	return &TokenBucket{
		rate:       float64(ratePerSec),
		burst:      float64(burst),
		tokens:     float64(burst),
		lastRefill: time.Now(),
	}
}

// Acquire blocks until a token is available or ctx is cancelled.
func (b *TokenBucket) Acquire(ctx context.Context) error {
	for {
		wait, ok := b.tryAcquire()
		if ok {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// tryAcquire refills based on elapsed time, then takes a token if one is
// available. When none is available it returns how long the caller
// should wait before retrying.
func (b *TokenBucket) tryAcquire() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now

	b.tokens += elapsed * b.rate
	if b.tokens > b.burst {
		b.tokens = b.burst
	}

	if b.tokens >= 1 {
		b.tokens--
		return 0, true
	}

	deficit := 1 - b.tokens
	wait := time.Duration(deficit / b.rate * float64(time.Second))
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, false
}

package quota

import (
	"context"
	"sync"
	"time"
)

type bucketState struct {
	tokens     float64
	lastUpdate time.Time
}

// TokenBucket refills tokens at a steady rate up to a capacity. Refill is
// lazy: tokens are credited on access based on elapsed time.
type TokenBucket struct {
	mu       sync.Mutex
	capacity float64
	rate     float64 // tokens per second
	buckets  map[string]*bucketState

	// nowFunc is used for testing; defaults to time.Now.
	nowFunc func() time.Time
}

// NewTokenBucket creates a bucket limiter with the given capacity and refill
// rate in tokens per second.
func NewTokenBucket(capacity int, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		capacity: float64(capacity),
		rate:     ratePerSecond,
		buckets:  make(map[string]*bucketState),
		nowFunc:  time.Now,
	}
}

// refill credits elapsed tokens for the key. Caller must hold b.mu.
func (b *TokenBucket) refill(key string, now time.Time) *bucketState {
	st, ok := b.buckets[key]
	if !ok {
		st = &bucketState{tokens: b.capacity, lastUpdate: now}
		b.buckets[key] = st
		return st
	}
	elapsed := now.Sub(st.lastUpdate).Seconds()
	if elapsed > 0 {
		st.tokens += elapsed * b.rate
		if st.tokens > b.capacity {
			st.tokens = b.capacity
		}
		st.lastUpdate = now
	}
	return st
}

func (b *TokenBucket) decision(st *bucketState, allowed bool, deficit float64, now time.Time) Decision {
	d := Decision{
		Allowed:   allowed,
		Limit:     int(b.capacity),
		Remaining: int(st.tokens),
	}
	if !allowed && b.rate > 0 {
		d.RetryAfter = time.Duration(deficit / b.rate * float64(time.Second))
		d.ResetAt = now.Add(d.RetryAfter)
	}
	return d
}

// Check reports whether one token is currently available.
func (b *TokenBucket) Check(_ context.Context, key string) (Decision, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.nowFunc()
	st := b.refill(key, now)
	return b.decision(st, st.tokens >= 1, 1-st.tokens, now), nil
}

// Consume takes n tokens; insufficient balance is a denial with a retry hint.
func (b *TokenBucket) Consume(_ context.Context, key string, n int) (Decision, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.nowFunc()
	st := b.refill(key, now)
	need := float64(n)
	if st.tokens < need {
		return b.decision(st, false, need-st.tokens, now), nil
	}
	st.tokens -= need
	return b.decision(st, true, 0, now), nil
}

// Reset restores the key's bucket to full capacity.
func (b *TokenBucket) Reset(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.buckets, key)
	return nil
}

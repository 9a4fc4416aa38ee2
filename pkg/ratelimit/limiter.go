package ratelimit

import (
	"math"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// TokenBucket implements the token bucket algorithm for rate limiting
type TokenBucket struct {
	capacity   int        // Maximum number of tokens
	tokens     float64    // Current number of tokens
	refillRate float64    // Tokens added per second
	lastRefill time.Time  // Last time tokens were refilled
	mu         sync.Mutex // Mutex for thread safety
}

// NewTokenBucket creates a full bucket.
// capacity: Maximum number of requests allowed in a burst
// refillRate: Number of requests allowed per second
func NewTokenBucket(capacity int, refillRate float64, now time.Time) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     float64(capacity),
		refillRate: refillRate,
		lastRefill: now,
	}
}

// Take consumes one token if available. When it is not, the returned duration is
// how long until the next token arrives.
func (tb *TokenBucket) Take(now time.Time) (bool, time.Duration) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if elapsed := now.Sub(tb.lastRefill).Seconds(); elapsed > 0 {
		tb.tokens = math.Min(float64(tb.capacity), tb.tokens+elapsed*tb.refillRate)
		tb.lastRefill = now
	}

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true, 0
	}
	if tb.refillRate <= 0 {
		return false, time.Hour
	}
	wait := time.Duration((1.0 - tb.tokens) / tb.refillRate * float64(time.Second))
	return false, wait
}

// Tokens returns the current number of available tokens
func (tb *TokenBucket) Tokens() float64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.tokens
}

// RateLimiter keeps one token bucket per key. Idle buckets expire from the cache.
type RateLimiter struct {
	buckets    *gocache.Cache
	capacity   int
	refillRate float64
	mu         sync.Mutex
	now        func() time.Time
}

// Option configures a RateLimiter.
type Option func(*RateLimiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(rl *RateLimiter) {
		rl.now = now
	}
}

// NewRateLimiter creates a new rate limiter
// capacity: Maximum number of requests allowed in a burst per key
// refillRate: Number of requests allowed per second per key
// ttl: Time an idle bucket is kept
func NewRateLimiter(capacity int, refillRate float64, ttl time.Duration, opts ...Option) *RateLimiter {
	if ttl <= 0 {
		ttl = time.Hour
	}
	rl := &RateLimiter{
		buckets:    gocache.New(ttl, ttl),
		capacity:   capacity,
		refillRate: refillRate,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Allow checks if a request for the given key should be allowed
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	return rl.bucket(key).Take(rl.now())
}

func (rl *RateLimiter) bucket(key string) *TokenBucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if v, ok := rl.buckets.Get(key); ok {
		// Touch to extend the idle expiry.
		rl.buckets.SetDefault(key, v)
		return v.(*TokenBucket)
	}
	b := NewTokenBucket(rl.capacity, rl.refillRate, rl.now())
	rl.buckets.SetDefault(key, b)
	return b
}

// Reset drops the bucket for a key so it starts full again.
func (rl *RateLimiter) Reset(key string) {
	rl.buckets.Delete(key)
}

// Stats returns statistics about the rate limiter
type Stats struct {
	ActiveBuckets int
	Capacity      int
	RefillRate    float64
}

// GetStats returns current statistics
func (rl *RateLimiter) GetStats() Stats {
	return Stats{
		ActiveBuckets: rl.buckets.ItemCount(),
		Capacity:      rl.capacity,
		RefillRate:    rl.refillRate,
	}
}

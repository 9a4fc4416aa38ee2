package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestTokenBucket_Take(t *testing.T) {
	clock := newClock()
	tb := NewTokenBucket(5, 1.0, clock.Now())

	for i := 0; i < 5; i++ {
		ok, _ := tb.Take(clock.Now())
		assert.True(t, ok, "request %d should be allowed", i+1)
	}

	ok, wait := tb.Take(clock.Now())
	assert.False(t, ok)
	assert.Equal(t, time.Second, wait)

	clock.Advance(2 * time.Second)
	ok, _ = tb.Take(clock.Now())
	assert.True(t, ok)
	ok, _ = tb.Take(clock.Now())
	assert.True(t, ok)
	ok, _ = tb.Take(clock.Now())
	assert.False(t, ok)
}

func TestTokenBucket_DoesNotExceedCapacity(t *testing.T) {
	clock := newClock()
	tb := NewTokenBucket(2, 10, clock.Now())

	clock.Advance(time.Hour)
	tb.Take(clock.Now())
	assert.InDelta(t, 1.0, tb.Tokens(), 0.0001)
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	clock := newClock()
	rl := NewRateLimiter(1, 0.1, time.Minute, WithClock(clock.Now))

	ok, _ := rl.Allow("10.0.0.1")
	assert.True(t, ok)
	ok, _ = rl.Allow("10.0.0.1")
	assert.False(t, ok)

	ok, _ = rl.Allow("10.0.0.2")
	assert.True(t, ok)
	assert.Equal(t, 2, rl.GetStats().ActiveBuckets)

	rl.Reset("10.0.0.1")
	ok, _ = rl.Allow("10.0.0.1")
	assert.True(t, ok)
}

func TestMiddleware_PerIP(t *testing.T) {
	clock := newClock()
	m := NewMiddleware(Config{
		PerIP:          &Limit{Capacity: 2, RefillRate: 1.0 / 30},
		BucketTTL:      time.Minute,
		IncludeHeaders: true,
	}, WithClock(clock.Now))

	h := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/signup", nil)
		req.RemoteAddr = ip + ":51234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, do("192.0.2.1").Code)
	rec := do("192.0.2.1")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit-IP"))

	rec = do("192.0.2.1")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", body["code"])

	assert.Equal(t, http.StatusNoContent, do("192.0.2.2").Code)

	clock.Advance(31 * time.Second)
	assert.Equal(t, http.StatusNoContent, do("192.0.2.1").Code)
}

func TestMiddleware_Endpoint(t *testing.T) {
	m := NewMiddleware(Config{BucketTTL: time.Minute})
	verify := m.Endpoint("verify", Limit{Capacity: 1, RefillRate: 0.01})

	h := verify(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/verify", nil)
	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[2001:db8::1]:443"
	assert.Equal(t, "2001:db8::1", ClientIP(req))

	req.Header.Set("X-Real-IP", " 203.0.113.9 ")
	assert.Equal(t, "203.0.113.9", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	assert.Equal(t, "198.51.100.7", ClientIP(req))
}

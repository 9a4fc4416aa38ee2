package ratelimit

import (
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/render"
	idmerrors "github.com/tendant/simple-idm-email/pkg/errors"
)

// Limit describes one bucket family.
type Limit struct {
	Capacity   int
	RefillRate float64 // tokens per second
}

// Config holds rate limiting configuration
type Config struct {
	PerIP          *Limit // applied to every request; nil disables
	BucketTTL      time.Duration
	IncludeHeaders bool
}

// DefaultConfig allows 100 requests per minute per client IP.
func DefaultConfig() Config {
	return Config{
		PerIP:          &Limit{Capacity: 100, RefillRate: 100.0 / 60.0},
		BucketTTL:      time.Hour,
		IncludeHeaders: true,
	}
}

// Middleware holds the rate limiting middleware state
type Middleware struct {
	config    Config
	ipLimiter *RateLimiter
	opts      []Option
}

// NewMiddleware creates a new rate limiting middleware
func NewMiddleware(config Config, opts ...Option) *Middleware {
	m := &Middleware{config: config, opts: opts}
	if config.PerIP != nil {
		m.ipLimiter = NewRateLimiter(config.PerIP.Capacity, config.PerIP.RefillRate, config.BucketTTL, opts...)
	}
	return m
}

// Handler enforces the per-IP limit.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	if m.ipLimiter == nil {
		return next
	}
	return m.limit("ip", m.ipLimiter, m.config.PerIP.Capacity, func(r *http.Request) string {
		return ClientIP(r)
	})(next)
}

// Endpoint returns a middleware with its own buckets keyed by client IP and route.
// Mount it on the routes that need a tighter limit, such as signup or code verification.
func (m *Middleware) Endpoint(name string, limit Limit) func(http.Handler) http.Handler {
	limiter := NewRateLimiter(limit.Capacity, limit.RefillRate, m.config.BucketTTL, m.opts...)
	return m.limit(name, limiter, limit.Capacity, func(r *http.Request) string {
		return ClientIP(r) + ":" + r.Method + " " + r.URL.Path
	})
}

func (m *Middleware) limit(name string, limiter *RateLimiter, capacity int, key func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, retryAfter := limiter.Allow(key(r))
			if !allowed {
				m.rateLimitExceeded(w, r, name, retryAfter)
				return
			}
			if m.config.IncludeHeaders {
				w.Header().Set("X-RateLimit-Limit-"+headerName(name), fmt.Sprintf("%d", capacity))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m *Middleware) rateLimitExceeded(w http.ResponseWriter, r *http.Request, limitType string, retryAfter time.Duration) {
	slog.Warn("Rate limit exceeded",
		"type", limitType,
		"ip", ClientIP(r),
		"path", r.URL.Path,
		"method", r.Method,
	)

	seconds := int(math.Ceil(retryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	err := idmerrors.RateLimitExceeded(strconv.Itoa(seconds))
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	render.Status(r, err.HTTPStatusCode())
	render.JSON(w, r, map[string]interface{}{
		"success": false,
		"message": err.Message,
		"code":    string(err.Code),
		"data":    map[string]interface{}{"type": limitType, "retry_after": seconds},
	})
}

func headerName(name string) string {
	if name == "ip" {
		return "IP"
	}
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

// ClientIP extracts the client IP address from the request
func ClientIP(r *http.Request) string {
	// X-Forwarded-For can contain multiple IPs, take the first one
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

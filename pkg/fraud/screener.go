package fraud

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/tendant/simple-idm-email/pkg/identity"
)

const (
	recentKey        = "recent_workers"
	DefaultScanLimit = 500
	DefaultCacheTTL  = time.Minute
)

// IdentitySource is the read-only query surface over existing worker identities.
type IdentitySource interface {
	RecentWorkers(ctx context.Context, since time.Time, limit int) ([]identity.WorkerIdentity, error)
}

// Screener feeds a Detector with a cached, bounded window of recent workers.
type Screener struct {
	detector  *Detector
	source    IdentitySource
	scanLimit int
	cache     *gocache.Cache
}

// ScreenerOption configures a Screener
type ScreenerOption func(*Screener)

// WithScanLimit bounds how many recent identities one assessment looks at.
func WithScanLimit(n int) ScreenerOption {
	return func(s *Screener) {
		if n > 0 {
			s.scanLimit = n
		}
	}
}

// WithCacheTTL sets how long the recent window is reused. Zero disables caching.
func WithCacheTTL(ttl time.Duration) ScreenerOption {
	return func(s *Screener) {
		if ttl <= 0 {
			s.cache = nil
			return
		}
		s.cache = gocache.New(ttl, 2*ttl)
	}
}

// NewScreener creates a screener over source.
func NewScreener(detector *Detector, source IdentitySource, opts ...ScreenerOption) *Screener {
	s := &Screener{
		detector:  detector,
		source:    source,
		scanLimit: DefaultScanLimit,
		cache:     gocache.New(DefaultCacheTTL, 2*DefaultCacheTTL),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Screen assesses an organization signup. Errors come only from the identity source.
func (s *Screener) Screen(ctx context.Context, candidateEmail, orgName string, now time.Time) (Assessment, error) {
	recent, err := s.recent(ctx, now)
	if err != nil {
		return Assessment{}, err
	}
	a := s.detector.Assess(candidateEmail, orgName, recent, now)
	if a.Suspicious {
		slog.Warn("Suspicious organization signup", "email", candidateEmail, "org_name", orgName, "reasons", a.Reasons)
	}
	return a, nil
}

// Invalidate drops the cached window, e.g. after a worker account is created.
func (s *Screener) Invalidate() {
	if s.cache != nil {
		s.cache.Delete(recentKey)
	}
}

func (s *Screener) recent(ctx context.Context, now time.Time) ([]identity.WorkerIdentity, error) {
	if s.cache != nil {
		if v, ok := s.cache.Get(recentKey); ok {
			return v.([]identity.WorkerIdentity), nil
		}
	}
	workers, err := s.source.RecentWorkers(ctx, now.Add(-s.detector.Window), s.scanLimit)
	if err != nil {
		return nil, fmt.Errorf("load recent workers: %w", err)
	}
	if s.cache != nil {
		s.cache.SetDefault(recentKey, workers)
	}
	return workers, nil
}

package emailverification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tendant/simple-idm-email/pkg/store"
)

// CleanupExpiredGracePeriods deletes detached records whose grace period is over.
// It is idempotent and safe to run concurrently with everything else.
func (s *Service) CleanupExpiredGracePeriods(ctx context.Context) (deleted int64, err error) {
	ctx, done := s.observe(ctx, "CleanupExpiredGracePeriods")
	defer done(&err)

	now := s.clock()
	err = s.store.WithTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		deleted, err = repos.EmailRecords().DeleteExpiredDetached(ctx, now)
		return err
	})
	if err != nil {
		return 0, s.fail("cleanup expired grace periods", err)
	}
	s.metrics.CleanupDeleted("grace_period", deleted)
	if deleted > 0 {
		slog.Info("Released detached email addresses", "count", deleted)
	}
	return deleted, nil
}

// CleanupExpiredPendingSignups deletes pending signups whose link expired more than the
// retention period ago.
func (s *Service) CleanupExpiredPendingSignups(ctx context.Context) (deleted int64, err error) {
	ctx, done := s.observe(ctx, "CleanupExpiredPendingSignups")
	defer done(&err)

	before := s.clock().Add(-s.pendingRetention)
	err = s.store.WithTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		deleted, err = repos.PendingUsers().DeleteExpiredPendingUsers(ctx, before)
		return err
	})
	if err != nil {
		return 0, s.fail("cleanup expired pending signups", err)
	}
	s.metrics.CleanupDeleted("pending_signup", deleted)
	if deleted > 0 {
		slog.Info("Deleted expired pending signups", "count", deleted)
	}
	return deleted, nil
}

// CleanupExpiredClaims moves pending_verification records whose code expired more than
// the retention period ago back to unverified, so they stop holding their address.
func (s *Service) CleanupExpiredClaims(ctx context.Context) (released int64, err error) {
	ctx, done := s.observe(ctx, "CleanupExpiredClaims")
	defer done(&err)

	now := s.clock()
	before := now.Add(-s.pendingRetention)
	err = s.store.WithTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		released, err = repos.EmailRecords().ReleaseExpiredClaims(ctx, before, now)
		return err
	})
	if err != nil {
		return 0, s.fail("cleanup expired claims", err)
	}
	s.metrics.CleanupDeleted("pending_claim", released)
	if released > 0 {
		slog.Info("Released expired email claims", "count", released)
	}
	return released, nil
}

// SweepResult counts the rows touched by one sweep.
type SweepResult struct {
	DetachedEmails int64
	PendingSignups int64
	ExpiredClaims  int64
}

// Sweep runs every cleanup once.
func (s *Service) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	var errs []error
	var err error
	if result.DetachedEmails, err = s.CleanupExpiredGracePeriods(ctx); err != nil {
		errs = append(errs, fmt.Errorf("grace periods: %w", err))
	}
	if result.PendingSignups, err = s.CleanupExpiredPendingSignups(ctx); err != nil {
		errs = append(errs, fmt.Errorf("pending signups: %w", err))
	}
	if result.ExpiredClaims, err = s.CleanupExpiredClaims(ctx); err != nil {
		errs = append(errs, fmt.Errorf("expired claims: %w", err))
	}
	return result, errors.Join(errs...)
}

// Janitor runs Sweep on an interval.
type Janitor struct {
	service  *Service
	interval time.Duration
}

// NewJanitor creates a janitor. A non-positive interval defaults to one hour.
func NewJanitor(service *Service, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Janitor{service: service, interval: interval}
}

// Run sweeps immediately and then on every tick until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	slog.Info("Email cleanup janitor started", "interval", j.interval)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		if _, err := j.service.Sweep(ctx); err != nil && ctx.Err() == nil {
			slog.Error("Email cleanup sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			slog.Info("Email cleanup janitor stopped")
			return
		case <-ticker.C:
		}
	}
}

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/simple-idm-email/pkg/config"
	"github.com/tendant/simple-idm-email/pkg/emailverification"
	"github.com/tendant/simple-idm-email/pkg/fraud"
	"github.com/tendant/simple-idm-email/pkg/metrics"
	"github.com/tendant/simple-idm-email/pkg/notification"
	"github.com/tendant/simple-idm-email/pkg/password"
	"github.com/tendant/simple-idm-email/pkg/store"
	"github.com/tendant/simple-idm-email/pkg/twofa"
)

type components struct {
	config   config.Config
	settings config.VerificationSettings
	store    store.Store
	metrics  *metrics.Metrics
	service  *emailverification.Service
}

func (c *components) Close() {
	if c.store != nil {
		c.store.Close()
	}
}

func isPostgres(persistenceType string) bool {
	return persistenceType == "postgres" || persistenceType == "postgresql"
}

func newStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	repoConfig := store.RepositoryConfig{DataDir: cfg.Service.DataDir}
	if isPostgres(cfg.Service.PersistenceType) {
		pool, err := pgxpool.New(ctx, cfg.Database.ToDatabaseURL())
		if err != nil {
			slog.Error("Failed creating dbpool", "db", cfg.Database.Database, "host", cfg.Database.Host, "port", cfg.Database.Port, "user", cfg.Database.User, "schema", cfg.Database.Schema)
			return nil, fmt.Errorf("create pool: %w", err)
		}
		repoConfig.Pool = pool
	}
	st, err := store.NewStore(cfg.Service.PersistenceType, repoConfig)
	if err != nil {
		if repoConfig.Pool != nil {
			repoConfig.Pool.Close()
		}
		return nil, err
	}
	slog.Info("Store initialized", "type", cfg.Service.PersistenceType)
	return st, nil
}

// build wires the verification service from configuration.
func build(ctx context.Context) (*components, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	settings, err := cfg.Verification.Settings()
	if err != nil {
		return nil, err
	}
	window, cacheTTL, err := cfg.Fraud.Durations()
	if err != nil {
		return nil, err
	}

	st, err := newStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c := &components{config: cfg, settings: settings, store: st}

	if cfg.Service.MetricsEnabled {
		c.metrics, err = metrics.New(nil)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("create metrics: %w", err)
		}
	}

	mailer, err := notification.NewNotificationManagerWithOptions(
		cfg.Service.BaseUrl,
		notification.WithSMTP(cfg.Email.ToSMTPConfig()),
		notification.WithDefaultTemplates(),
	)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("create notification manager: %w", err)
	}

	screener := fraud.NewScreener(
		fraud.NewDetector(fraud.WithWindow(window)),
		store.IdentitySource{Store: st},
		fraud.WithScanLimit(cfg.Fraud.ScanLimit),
		fraud.WithCacheTTL(cacheTTL),
	)

	c.service = emailverification.NewService(st, mailer, cfg.Service.BaseUrl,
		emailverification.WithSignupTTL(settings.SignupTokenTTL),
		emailverification.WithOTPTTL(settings.OTPTTL),
		emailverification.WithChangeTTL(settings.ChangeTokenTTL),
		emailverification.WithVerificationTTL(settings.VerificationTokenTTL),
		emailverification.WithGracePeriod(settings.GracePeriod),
		emailverification.WithPendingRetention(settings.PendingSignupRetention),
		emailverification.WithMaxResends(settings.MaxSignupResends),
		emailverification.WithFailOnMailError(settings.FailOnMailError),
		emailverification.WithRequireCurrentPassword(settings.RequireCurrentPassword),
		emailverification.WithPasswordManager(password.NewManager(nil)),
		emailverification.WithTwoFactor(twofa.NewTOTPVerifier()),
		emailverification.WithFraudScreener(screener, cfg.Fraud.Blocking),
		emailverification.WithMetrics(c.metrics),
	)
	return c, nil
}

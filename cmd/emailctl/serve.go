package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/jwtauth/v5"
	"github.com/spf13/cobra"
	"github.com/tendant/chi-demo/app"

	"github.com/tendant/simple-idm-email/pkg/config"
	"github.com/tendant/simple-idm-email/pkg/emailverification"
	"github.com/tendant/simple-idm-email/pkg/emailverification/api"
	"github.com/tendant/simple-idm-email/pkg/ratelimit"
	"github.com/tendant/simple-idm-email/pkg/store"
)

func newServeCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the cleanup janitor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply database migrations before serving")
	return cmd
}

func serve(ctx context.Context, migrate bool) error {
	c, err := build(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if migrate && isPostgres(c.config.Service.PersistenceType) {
		if err := store.Migrate(ctx, c.config.Database.ToDatabaseURL()); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go emailverification.NewJanitor(c.service, c.settings.CleanupInterval).Run(ctx)

	limits, signupLimit, verifyLimit := rateLimits(c.config.RateLimit)

	server := app.DefaultApp()
	server.R.Use(c.metrics.Middleware)
	server.R.Use(limits.Handler)
	app.RoutesHealthz(server.R)
	if c.metrics != nil {
		server.R.Handle("/metrics", c.metrics.Handler())
	}

	handler := api.NewHandler(c.service)
	server.R.Mount(c.config.Service.APIPrefix, api.Routes(handler, api.RouterConfig{
		Auth:        jwtauth.New("HS256", []byte(c.config.Jwt.JwtSecret), nil),
		RateLimit:   limits,
		SignupLimit: signupLimit,
		VerifyLimit: verifyLimit,
	}))

	slog.Info("Email verification service ready",
		"base_url", c.config.Service.BaseUrl,
		"prefix", c.config.Service.APIPrefix,
		"persistence", c.config.Service.PersistenceType,
		"grace_period", c.settings.GracePeriod,
		"fraud_blocking", c.config.Fraud.Blocking)

	server.Run()
	return nil
}

func rateLimits(cfg config.RateLimitConfig) (*ratelimit.Middleware, *ratelimit.Limit, *ratelimit.Limit) {
	rl := ratelimit.DefaultConfig()
	rl.IncludeHeaders = cfg.IncludeHeaders
	rl.PerIP = nil
	if cfg.PerIPEnabled {
		rl.PerIP = &ratelimit.Limit{Capacity: cfg.PerIPCapacity, RefillRate: cfg.PerIPRefillRate}
	}

	var signup, verify *ratelimit.Limit
	if cfg.SignupEnabled {
		signup = &ratelimit.Limit{Capacity: cfg.SignupCapacity, RefillRate: cfg.SignupRefillRate}
	}
	if cfg.VerifyEnabled {
		verify = &ratelimit.Limit{Capacity: cfg.VerifyCapacity, RefillRate: cfg.VerifyRefillRate}
	}
	slog.Info("Rate limiting configured", "per_ip", cfg.PerIPEnabled, "signup", cfg.SignupEnabled, "verify", cfg.VerifyEnabled)
	return ratelimit.NewMiddleware(rl), signup, verify
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !isPostgres(cfg.Service.PersistenceType) {
				return fmt.Errorf("migrations only apply to postgres, persistence type is %q", cfg.Service.PersistenceType)
			}
			return store.Migrate(cmd.Context(), cfg.Database.ToDatabaseURL())
		},
	}
}

func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Run the grace period, pending signup and expired claim sweeps once",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := build(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			result, err := c.service.Sweep(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "detached emails released: %d\npending signups deleted: %d\nexpired claims released: %d\n",
				result.DetachedEmails, result.PendingSignups, result.ExpiredClaims)
			return err
		},
	}
}

// Package config loads and validates the email identity service configuration.
//
// Every setting comes from the environment through cleanenv struct tags, after an
// optional .env file has been applied with godotenv. Durations are written in
// ISO 8601 ("PT15M", "P30D"); Go duration syntax is accepted as a fallback.
//
//	cfg, err := config.Load()
//	if err != nil {
//		slog.Error("Invalid configuration", "error", err)
//		os.Exit(1)
//	}
//	settings, _ := cfg.Verification.Settings()
//
// Validation collects every problem into a ValidationErrors value instead of
// stopping at the first one:
//
//	err := config.Validate(
//		func() config.ValidationErrors {
//			return config.CollectErrors(
//				config.RequireNonEmpty("EMAIL_HOST", host),
//				config.RequireValidPort("EMAIL_PORT", port),
//			)
//		},
//	)
package config

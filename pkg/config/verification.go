package config

import "time"

// VerificationConfig holds the expiry windows and policy switches of the email flows.
// Durations are ISO 8601 strings.
type VerificationConfig struct {
	SignupTokenTTL         string `env:"SIGNUP_TOKEN_TTL" env-default:"PT15M"`
	OTPTTL                 string `env:"OTP_TTL" env-default:"PT10M"`
	ChangeTokenTTL         string `env:"CHANGE_TOKEN_TTL" env-default:"PT24H"`
	VerificationTokenTTL   string `env:"VERIFICATION_TOKEN_TTL" env-default:"PT24H"`
	GracePeriod            string `env:"GRACE_PERIOD" env-default:"P30D"`
	PendingSignupRetention string `env:"PENDING_SIGNUP_RETENTION" env-default:"P1D"`
	CleanupInterval        string `env:"CLEANUP_INTERVAL" env-default:"PT1H"`

	MaxSignupResends       int  `env:"MAX_SIGNUP_RESENDS" env-default:"3"`
	FailOnMailError        bool `env:"FAIL_ON_MAIL_ERROR" env-default:"false"`
	RequireCurrentPassword bool `env:"REQUIRE_CURRENT_PASSWORD" env-default:"true"`
}

// VerificationSettings is VerificationConfig with the durations parsed.
type VerificationSettings struct {
	SignupTokenTTL         time.Duration
	OTPTTL                 time.Duration
	ChangeTokenTTL         time.Duration
	VerificationTokenTTL   time.Duration
	GracePeriod            time.Duration
	PendingSignupRetention time.Duration
	CleanupInterval        time.Duration
	MaxSignupResends       int
	FailOnMailError        bool
	RequireCurrentPassword bool
}

// Settings parses every duration, reporting all invalid fields at once.
func (c VerificationConfig) Settings() (VerificationSettings, error) {
	s := VerificationSettings{
		MaxSignupResends:       c.MaxSignupResends,
		FailOnMailError:        c.FailOnMailError,
		RequireCurrentPassword: c.RequireCurrentPassword,
	}
	var errs ValidationErrors
	parse := func(field, value string, dst *time.Duration) {
		d, err := ParseDuration(value)
		if err != nil {
			errs = append(errs, ValidationError{Field: field, Message: err.Error()})
			return
		}
		if e := RequirePositiveDuration(field, d); e != nil {
			errs = append(errs, *e)
			return
		}
		*dst = d
	}
	parse("SIGNUP_TOKEN_TTL", c.SignupTokenTTL, &s.SignupTokenTTL)
	parse("OTP_TTL", c.OTPTTL, &s.OTPTTL)
	parse("CHANGE_TOKEN_TTL", c.ChangeTokenTTL, &s.ChangeTokenTTL)
	parse("VERIFICATION_TOKEN_TTL", c.VerificationTokenTTL, &s.VerificationTokenTTL)
	parse("GRACE_PERIOD", c.GracePeriod, &s.GracePeriod)
	parse("PENDING_SIGNUP_RETENTION", c.PendingSignupRetention, &s.PendingSignupRetention)
	parse("CLEANUP_INTERVAL", c.CleanupInterval, &s.CleanupInterval)
	if e := RequireNonNegative("MAX_SIGNUP_RESENDS", c.MaxSignupResends); e != nil {
		errs = append(errs, *e)
	}
	if len(errs) > 0 {
		return VerificationSettings{}, errs
	}
	return s, nil
}

// FraudConfig tunes the organization signup screener.
type FraudConfig struct {
	Blocking  bool   `env:"FRAUD_BLOCKING" env-default:"false"`
	Window    string `env:"FRAUD_WINDOW" env-default:"PT24H"`
	ScanLimit int    `env:"FRAUD_SCAN_LIMIT" env-default:"500"`
	CacheTTL  string `env:"FRAUD_CACHE_TTL" env-default:"PT1M"`
}

// Durations returns the parsed window and cache TTL.
func (f FraudConfig) Durations() (window, cacheTTL time.Duration, err error) {
	if window, err = ParseDuration(f.Window); err != nil {
		return 0, 0, ValidationErrors{{Field: "FRAUD_WINDOW", Message: err.Error()}}
	}
	if cacheTTL, err = ParseDuration(f.CacheTTL); err != nil {
		return 0, 0, ValidationErrors{{Field: "FRAUD_CACHE_TTL", Message: err.Error()}}
	}
	return window, cacheTTL, nil
}

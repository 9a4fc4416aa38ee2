package emailverification

import (
	"time"

	"github.com/tendant/simple-idm-email/pkg/codegen"
	"github.com/tendant/simple-idm-email/pkg/fraud"
	"github.com/tendant/simple-idm-email/pkg/metrics"
	"github.com/tendant/simple-idm-email/pkg/password"
	"github.com/tendant/simple-idm-email/pkg/twofa"
)

const (
	DefaultSignupTTL        = 15 * time.Minute
	DefaultOTPTTL           = 10 * time.Minute
	DefaultChangeTTL        = 24 * time.Hour
	DefaultVerificationTTL  = 24 * time.Hour
	DefaultGracePeriod      = 30 * 24 * time.Hour
	DefaultPendingRetention = 24 * time.Hour
	DefaultMaxResends       = 3
)

// Option configures a Service
type Option func(*Service)

// WithSignupTTL sets how long a signup link stays valid.
func WithSignupTTL(d time.Duration) Option {
	return func(s *Service) {
		s.signupTTL = d
	}
}

// WithOTPTTL sets how long a numeric code stays valid.
func WithOTPTTL(d time.Duration) Option {
	return func(s *Service) {
		s.otpTTL = d
	}
}

// WithChangeTTL sets how long an email change link stays valid.
func WithChangeTTL(d time.Duration) Option {
	return func(s *Service) {
		s.changeTTL = d
	}
}

// WithVerificationTTL sets how long a link issued by RequireEmailVerification stays valid.
func WithVerificationTTL(d time.Duration) Option {
	return func(s *Service) {
		s.verificationTTL = d
	}
}

// WithGracePeriod sets how long a detached address stays reserved.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Service) {
		s.gracePeriod = d
	}
}

// WithPendingRetention sets how long an expired signup or email claim is kept before the
// sweep deletes or releases it.
func WithPendingRetention(d time.Duration) Option {
	return func(s *Service) {
		s.pendingRetention = d
	}
}

// WithMaxResends caps how many times a signup link may be re-issued.
func WithMaxResends(n int) Option {
	return func(s *Service) {
		s.maxResends = n
	}
}

// WithFailOnMailError makes operations return ErrMailDeliveryFailed when a notice
// could not be sent. The state change is committed either way.
func WithFailOnMailError(fail bool) Option {
	return func(s *Service) {
		s.failOnMailError = fail
	}
}

// WithRequireCurrentPassword toggles the password check of RequestEmailChange.
func WithRequireCurrentPassword(require bool) Option {
	return func(s *Service) {
		s.requirePassword = require
	}
}

// WithPasswordManager sets the hasher used for signup passwords and change requests.
func WithPasswordManager(m *password.Manager) Option {
	return func(s *Service) {
		s.passwords = m
	}
}

// WithTwoFactor sets the second factor verifier for change requests.
func WithTwoFactor(v twofa.Verifier) Option {
	return func(s *Service) {
		s.twoFactor = v
	}
}

// WithFraudScreener enables the organization signup screen. When blocking is false a
// suspicious signup is only logged and counted.
func WithFraudScreener(screener *fraud.Screener, blocking bool) Option {
	return func(s *Service) {
		s.screener = screener
		s.fraudBlocking = blocking
	}
}

// WithCodeGenerator replaces the random token and OTP source.
func WithCodeGenerator(g codegen.Generator) Option {
	return func(s *Service) {
		s.codes = g
	}
}

// WithMetrics records operation outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

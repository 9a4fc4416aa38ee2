package twofa

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	idmerrors "github.com/tendant/simple-idm-email/pkg/errors"
	"github.com/tendant/simple-idm-email/pkg/identity"
)

const (
	DefaultIssuer = "simple-idm"
	DefaultPeriod = 30
	DefaultSkew   = 1
)

var (
	ErrCodeRequired = idmerrors.New(idmerrors.ErrCode2FARequired, "two-factor code is required")
	ErrInvalidCode  = idmerrors.New(idmerrors.ErrCode2FAInvalid, "two-factor code is invalid")
)

// Verifier checks the optional second factor presented with a sensitive request.
type Verifier interface {
	// Check reports whether a second factor was verified. Accounts with no factor
	// enrolled pass with false and no error.
	Check(ctx context.Context, account identity.Account, code string) (bool, error)
}

// TOTPVerifier validates codes against the account's TOTP secret.
type TOTPVerifier struct {
	period uint
	skew   uint
	now    func() time.Time
}

// Option configures a TOTPVerifier
type Option func(*TOTPVerifier)

// WithTotpPeriod sets the TOTP step in seconds
func WithTotpPeriod(seconds uint) Option {
	return func(v *TOTPVerifier) {
		if seconds > 0 {
			v.period = seconds
		}
	}
}

// WithSkew sets how many steps either side of now are accepted
func WithSkew(steps uint) Option {
	return func(v *TOTPVerifier) { v.skew = steps }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(v *TOTPVerifier) { v.now = now }
}

func NewTOTPVerifier(opts ...Option) *TOTPVerifier {
	v := &TOTPVerifier{period: DefaultPeriod, skew: DefaultSkew, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *TOTPVerifier) validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    v.period,
		Skew:      v.skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

func (v *TOTPVerifier) Check(_ context.Context, account identity.Account, code string) (bool, error) {
	if account.TOTPSecret == "" {
		return false, nil
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return false, ErrCodeRequired
	}
	valid, err := totp.ValidateCustom(code, account.TOTPSecret, v.now().UTC(), v.validateOpts())
	if err != nil {
		slog.Warn("Failed to validate totp passcode", "account_id", account.ID, "error", err)
		return false, ErrInvalidCode
	}
	if !valid {
		return false, ErrInvalidCode
	}
	return true, nil
}

// Passcode returns the current code for secret. Useful for enrollment checks and tests.
func (v *TOTPVerifier) Passcode(secret string) (string, error) {
	return totp.GenerateCodeCustom(secret, v.now().UTC(), v.validateOpts())
}

// GenerateSecret creates a new TOTP secret for accountName.
func GenerateSecret(issuer, accountName string) (string, error) {
	if issuer == "" {
		issuer = DefaultIssuer
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
	})
	if err != nil {
		slog.Error("Failed to generate totp secret", "account", accountName, "issuer", issuer, "error", err)
		return "", err
	}
	return key.Secret(), nil
}

package emailverification

import (
	idmerrors "github.com/tendant/simple-idm-email/pkg/errors"
)

// Domain failures. All of them are recoverable by the caller; errors.Is matches on the
// code, so enriched copies (extra details or message) still match.
var (
	ErrInvalidOrExpiredToken = idmerrors.New(idmerrors.ErrCodeInvalidOrExpiredToken,
		"verification code is invalid or has expired")
	ErrTokenExpired = idmerrors.New(idmerrors.ErrCodeTokenExpired,
		"verification code has expired, request a new one")
	ErrEmailUnavailable = idmerrors.New(idmerrors.ErrCodeEmailUnavailable,
		"email address is not available")
	ErrEmailAlreadyVerified = idmerrors.New(idmerrors.ErrCodeEmailAlreadyVerified,
		"email address is already verified")
	ErrTooManyAttempts = idmerrors.New(idmerrors.ErrCodeTooManyAttempts,
		"too many verification emails requested for this address")
	ErrVerificationAlreadyPending = idmerrors.New(idmerrors.ErrCodeVerificationAlreadyPending,
		"a verification email was already sent, check your inbox")
	ErrAccountNotFound = idmerrors.New(idmerrors.ErrCodeAccountNotFound,
		"account not found")
	ErrPendingSignupNotFound = idmerrors.New(idmerrors.ErrCodeNotFound,
		"no signup is waiting for verification for this address")
	ErrNoEmailOnRecord = idmerrors.New(idmerrors.ErrCodeNotFound,
		"account has no email address awaiting verification")
	ErrInvalidCredentials = idmerrors.New(idmerrors.ErrCodeInvalidCredentials,
		"current password is incorrect")
	ErrSuspectedFraud = idmerrors.New(idmerrors.ErrCodeSuspectedFraud,
		"signup could not be accepted, contact support")
	ErrMailDeliveryFailed = idmerrors.New(idmerrors.ErrCodeMailDeliveryFailed,
		"verification email could not be delivered, try again later")
)

// Reasons attached to ErrEmailUnavailable under the "reason" detail.
const (
	ReasonInUse         = "in_use"
	ReasonGracePeriod   = "grace_period"
	ReasonPrimaryExists = "primary_exists"
)

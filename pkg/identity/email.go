package identity

import (
	"time"

	"github.com/google/uuid"
)

// EmailStatus is the lifecycle state of an EmailRecord:
// unverified -> pending_verification -> primary -> detached.
// An expired pending_verification claim falls back to unverified when it is released.
type EmailStatus string

const (
	EmailStatusUnverified          EmailStatus = "unverified"
	EmailStatusPendingVerification EmailStatus = "pending_verification"
	EmailStatusPrimary             EmailStatus = "primary"
	EmailStatusDetached            EmailStatus = "detached"
)

// CodeKind tells whether VerificationCode holds a link token or a numeric OTP.
type CodeKind string

const (
	CodeKindLink CodeKind = "link"
	CodeKindOTP  CodeKind = "otp"
)

// EmailRecord ties an address to an account.
type EmailRecord struct {
	ID               uuid.UUID   `json:"id"`
	AccountID        uuid.UUID   `json:"account_id"`
	Address          string      `json:"address"`
	Status           EmailStatus `json:"status"`
	VerificationCode string      `json:"verification_code,omitempty"`
	CodeKind         CodeKind    `json:"code_kind,omitempty"`
	CodeExpiresAt    *time.Time  `json:"code_expires_at,omitempty"`
	VerifiedAt       *time.Time  `json:"verified_at,omitempty"`
	DetachedAt       *time.Time  `json:"detached_at,omitempty"`
	GraceExpiresAt   *time.Time  `json:"grace_expires_at,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// CodeExpired reports whether the issued code is past its expiry at now.
// A record without expiry counts as expired.
func (r EmailRecord) CodeExpired(now time.Time) bool {
	return r.CodeExpiresAt == nil || now.After(*r.CodeExpiresAt)
}

// InGracePeriod reports whether a detached record still reserves its address at now.
func (r EmailRecord) InGracePeriod(now time.Time) bool {
	return r.Status == EmailStatusDetached && r.GraceExpiresAt != nil && r.GraceExpiresAt.After(now)
}

// Blocks reports whether the record prevents anyone else from claiming its address at now.
func (r EmailRecord) Blocks(now time.Time) bool {
	switch r.Status {
	case EmailStatusPrimary:
		return true
	case EmailStatusPendingVerification:
		return !r.CodeExpired(now)
	case EmailStatusDetached:
		return r.InGracePeriod(now)
	}
	return false
}

// PendingUser is a signup awaiting its first email verification.
type PendingUser struct {
	ID                uuid.UUID   `json:"id"`
	Email             string      `json:"email"`
	HashedPassword    string      `json:"hashed_password"`
	AccountKind       AccountKind `json:"account_kind"`
	Profile           Profile     `json:"profile"`
	VerificationToken string      `json:"verification_token"`
	TokenExpiry       time.Time   `json:"token_expiry"`
	ResendCount       int         `json:"resend_count"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// ChangeType labels a ChangeLogEntry.
type ChangeType string

const (
	ChangeSignupCompleted       ChangeType = "signup_completed"
	ChangeEmailAttached         ChangeType = "email_attached"
	ChangeVerificationRequired  ChangeType = "verification_required"
	ChangeVerificationRequested ChangeType = "verification_requested"
	ChangeVerificationCompleted ChangeType = "verification_completed"
	ChangePrimaryChange         ChangeType = "primary_change"
)

// ChangeStatus is the outcome recorded with a ChangeLogEntry.
type ChangeStatus string

const (
	ChangeStatusPending   ChangeStatus = "pending"
	ChangeStatusCompleted ChangeStatus = "completed"
)

// ChangeLogEntry is an append-only audit record of an email state transition.
type ChangeLogEntry struct {
	ID                int64        `json:"id"`
	AccountID         uuid.UUID    `json:"account_id"`
	OldEmail          string       `json:"old_email,omitempty"`
	NewEmail          string       `json:"new_email,omitempty"`
	ChangeType        ChangeType   `json:"change_type"`
	Status            ChangeStatus `json:"status"`
	VerificationToken string       `json:"verification_token,omitempty"`
	IPAddress         string       `json:"ip_address,omitempty"`
	UserAgent         string       `json:"user_agent,omitempty"`
	TwoFactorUsed     bool         `json:"two_factor_used"`
	Timestamp         time.Time    `json:"timestamp"`
}

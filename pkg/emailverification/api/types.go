package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-idm-email/pkg/identity"
)

// Response is the envelope of every answer.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Code    string      `json:"code,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// SignupRequest starts a signup. Exactly one of Worker or Organization is expected,
// matching AccountKind.
type SignupRequest struct {
	Email        string                        `json:"email"`
	Password     string                        `json:"password"`
	AccountKind  identity.AccountKind          `json:"account_kind"`
	Worker       *identity.WorkerProfile       `json:"worker,omitempty"`
	Organization *identity.OrganizationProfile `json:"organization,omitempty"`
}

type SignupResendRequest struct {
	Email string `json:"email"`
}

type SignupResponse struct {
	Email       string           `json:"email"`
	ExpiresAt   time.Time        `json:"expires_at"`
	ResendCount int              `json:"resend_count"`
	Fraud       *FraudAssessment `json:"fraud,omitempty"`
}

type FraudAssessment struct {
	Suspicious bool     `json:"suspicious"`
	Reasons    []string `json:"reasons,omitempty"`
}

type TokenRequest struct {
	Token string `json:"token"`
	Email string `json:"email,omitempty"`
}

type AccountResponse struct {
	ID           uuid.UUID            `json:"id"`
	Kind         identity.AccountKind `json:"kind"`
	PrimaryEmail string               `json:"primary_email"`
	DisplayName  string               `json:"display_name"`
	CreatedAt    time.Time            `json:"created_at"`
}

// EmailResponse is an email record without its verification code.
type EmailResponse struct {
	ID             uuid.UUID            `json:"id"`
	Address        string               `json:"address"`
	Status         identity.EmailStatus `json:"status"`
	VerifiedAt     *time.Time           `json:"verified_at,omitempty"`
	GraceExpiresAt *time.Time           `json:"grace_expires_at,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
}

type EmailChangeRequest struct {
	NewEmail        string `json:"new_email"`
	CurrentPassword string `json:"current_password"`
	TwoFactorCode   string `json:"two_factor_code,omitempty"`
}

type EmailChangeResponse struct {
	OldEmail  string    `json:"old_email,omitempty"`
	NewEmail  string    `json:"new_email"`
	ExpiresAt time.Time `json:"expires_at"`
}

type EmailRequest struct {
	Email string `json:"email"`
}

type OTPResponse struct {
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

type OTPVerifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type RequirementResponse struct {
	RequiresVerification bool       `json:"requires_verification"`
	Email                string     `json:"email"`
	ExpiresAt            *time.Time `json:"expires_at,omitempty"`
}

// ChangeResponse is a change log entry without the hashed token.
type ChangeResponse struct {
	ID            int64                 `json:"id"`
	OldEmail      string                `json:"old_email,omitempty"`
	NewEmail      string                `json:"new_email,omitempty"`
	ChangeType    identity.ChangeType   `json:"change_type"`
	Status        identity.ChangeStatus `json:"status"`
	IPAddress     string                `json:"ip_address,omitempty"`
	UserAgent     string                `json:"user_agent,omitempty"`
	TwoFactorUsed bool                  `json:"two_factor_used"`
	Timestamp     time.Time             `json:"timestamp"`
}

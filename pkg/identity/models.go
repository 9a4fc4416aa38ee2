// Package identity holds the records owned or referenced by the email identity subsystem.
package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AccountKind distinguishes worker identities from organization identities.
type AccountKind string

const (
	AccountKindWorker       AccountKind = "worker"
	AccountKindOrganization AccountKind = "organization"
)

// Valid reports whether k is a known kind.
func (k AccountKind) Valid() bool {
	return k == AccountKindWorker || k == AccountKindOrganization
}

// Account is the materialized identity. The surrounding application owns everything but
// the primary email pointer, which only this subsystem moves.
type Account struct {
	ID           uuid.UUID   `json:"id"`
	Kind         AccountKind `json:"kind"`
	PrimaryEmail string      `json:"primary_email,omitempty"`
	PasswordHash string      `json:"-"`
	DisplayName  string      `json:"display_name"`
	Profile      Profile     `json:"profile"`
	TOTPSecret   string      `json:"-"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// WorkerIdentity is the slice of a worker account the fraud heuristics look at.
type WorkerIdentity struct {
	AccountID uuid.UUID `json:"account_id"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// WorkerProfile is the signup payload of a worker account.
type WorkerProfile struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone,omitempty"`
}

// FullName joins first and last name.
func (p WorkerProfile) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// OrganizationProfile is the signup payload of an organization account.
type OrganizationProfile struct {
	Name        string `json:"name"`
	Website     string `json:"website,omitempty"`
	ContactName string `json:"contact_name,omitempty"`
}

// Profile is a tagged union keyed by Kind. Exactly the member matching Kind is set.
type Profile struct {
	Kind         AccountKind          `json:"kind"`
	Worker       *WorkerProfile       `json:"worker,omitempty"`
	Organization *OrganizationProfile `json:"organization,omitempty"`
}

var (
	ErrUnknownAccountKind = errors.New("unknown account kind")
	ErrProfileMismatch    = errors.New("profile does not match account kind")
)

// NewWorkerProfile wraps p in a Profile.
func NewWorkerProfile(p WorkerProfile) Profile {
	return Profile{Kind: AccountKindWorker, Worker: &p}
}

// NewOrganizationProfile wraps p in a Profile.
func NewOrganizationProfile(p OrganizationProfile) Profile {
	return Profile{Kind: AccountKindOrganization, Organization: &p}
}

// Validate checks the union tag and the required fields of the selected member.
func (p Profile) Validate() error {
	switch p.Kind {
	case AccountKindWorker:
		if p.Worker == nil || p.Organization != nil {
			return ErrProfileMismatch
		}
		if strings.TrimSpace(p.Worker.FirstName) == "" || strings.TrimSpace(p.Worker.LastName) == "" {
			return fmt.Errorf("%w: worker first and last name are required", ErrProfileMismatch)
		}
	case AccountKindOrganization:
		if p.Organization == nil || p.Worker != nil {
			return ErrProfileMismatch
		}
		if strings.TrimSpace(p.Organization.Name) == "" {
			return fmt.Errorf("%w: organization name is required", ErrProfileMismatch)
		}
	default:
		return ErrUnknownAccountKind
	}
	return nil
}

// DisplayName is the worker's full name or the organization's name.
func (p Profile) DisplayName() string {
	switch {
	case p.Worker != nil:
		return p.Worker.FullName()
	case p.Organization != nil:
		return strings.TrimSpace(p.Organization.Name)
	}
	return ""
}

// MarshalProfile encodes p for a JSON column.
func MarshalProfile(p Profile) ([]byte, error) {
	return json.Marshal(p)
}

// UnmarshalProfile decodes a JSON column into a Profile.
func UnmarshalProfile(data []byte) (Profile, error) {
	var p Profile
	if len(data) == 0 {
		return p, nil
	}
	err := json.Unmarshal(data, &p)
	return p, err
}

// NormalizeEmail trims and lower-cases an address; it is the only form ever stored.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

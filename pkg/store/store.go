// Package store is the persistence boundary of the email identity subsystem.
//
// All access goes through Store.WithTx so every compound state transition is applied
// atomically. Three implementations share the same contract:
//
//	postgres  pgx with serializable transactions (production)
//	memory    copy-on-write state under one mutex (tests, demos)
//	file      memory store persisted to a JSON file after each commit (local dev)
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-idm-email/pkg/identity"
)

var (
	// ErrNotFound is returned when no row matches
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a write violates a uniqueness rule
	ErrConflict = errors.New("record conflicts with an existing record")
)

// AccountRepository reads and writes materialized accounts.
type AccountRepository interface {
	CreateAccount(ctx context.Context, account identity.Account) (identity.Account, error)
	GetAccount(ctx context.Context, id uuid.UUID) (identity.Account, error)
	SetPrimaryEmail(ctx context.Context, id uuid.UUID, email string, now time.Time) error
	RecentWorkers(ctx context.Context, since time.Time, limit int) ([]identity.WorkerIdentity, error)
}

// EmailRecordRepository is the system of record for address ownership.
type EmailRecordRepository interface {
	// LockAddress serializes writers of an address until the transaction ends.
	LockAddress(ctx context.Context, address string) error
	CreateEmailRecord(ctx context.Context, record identity.EmailRecord) (identity.EmailRecord, error)
	GetEmailRecord(ctx context.Context, id uuid.UUID) (identity.EmailRecord, error)
	FindEmailRecordsByAddress(ctx context.Context, address string) ([]identity.EmailRecord, error)
	FindEmailRecordsByAccount(ctx context.Context, accountID uuid.UUID) ([]identity.EmailRecord, error)
	FindPrimaryEmailRecord(ctx context.Context, accountID uuid.UUID) (identity.EmailRecord, error)
	// FindPendingByCode returns the unverified pending_verification record holding code.
	FindPendingByCode(ctx context.Context, address, code string, kind identity.CodeKind) (identity.EmailRecord, error)
	// IssueVerificationCode moves an unverified or pending record to pending_verification.
	IssueVerificationCode(ctx context.Context, id uuid.UUID, code string, kind identity.CodeKind, expiresAt, now time.Time) error
	// PromoteToPrimary is a compare-and-set on verified_at IS NULL; ErrNotFound when lost.
	PromoteToPrimary(ctx context.Context, id uuid.UUID, now time.Time) error
	DetachEmailRecord(ctx context.Context, id uuid.UUID, now, graceExpiresAt time.Time) error
	DeleteExpiredDetached(ctx context.Context, now time.Time) (int64, error)
	// ReleaseExpiredClaim moves a pending_verification record whose code expired before
	// now back to unverified. ErrNotFound when the code is still live.
	ReleaseExpiredClaim(ctx context.Context, id uuid.UUID, now time.Time) error
	// ReleaseExpiredClaims does the same for every claim whose code expired before before.
	ReleaseExpiredClaims(ctx context.Context, before, now time.Time) (int64, error)
}

// ChangeLogRepository is the append-only audit trail.
type ChangeLogRepository interface {
	AppendChange(ctx context.Context, entry identity.ChangeLogEntry) (identity.ChangeLogEntry, error)
	ListChanges(ctx context.Context, accountID uuid.UUID) ([]identity.ChangeLogEntry, error)
}

// PendingUserRepository holds signups awaiting first verification.
type PendingUserRepository interface {
	CreatePendingUser(ctx context.Context, user identity.PendingUser) (identity.PendingUser, error)
	FindPendingUserByEmail(ctx context.Context, email string) (identity.PendingUser, error)
	FindPendingUserByToken(ctx context.Context, token string) (identity.PendingUser, error)
	UpdatePendingUser(ctx context.Context, user identity.PendingUser) error
	DeletePendingUser(ctx context.Context, id uuid.UUID) error
	DeleteExpiredPendingUsers(ctx context.Context, before time.Time) (int64, error)
}

// Repositories groups the repositories bound to one transaction.
type Repositories interface {
	Accounts() AccountRepository
	EmailRecords() EmailRecordRepository
	ChangeLog() ChangeLogRepository
	PendingUsers() PendingUserRepository
}

// TxFunc runs inside a transaction. It may be invoked more than once when the
// transaction is retried, so it must not have effects outside the repositories.
type TxFunc func(ctx context.Context, repos Repositories) error

// Store runs TxFuncs atomically: either every write of fn is applied or none is.
type Store interface {
	WithTx(ctx context.Context, fn TxFunc) error
	Close()
}

// IdentitySource adapts a Store to the read-only recent-identity query used by the
// fraud screener.
type IdentitySource struct {
	Store Store
}

// RecentWorkers returns up to limit worker identities created at or after since.
func (s IdentitySource) RecentWorkers(ctx context.Context, since time.Time, limit int) ([]identity.WorkerIdentity, error) {
	var workers []identity.WorkerIdentity
	err := s.Store.WithTx(ctx, func(ctx context.Context, repos Repositories) error {
		var err error
		workers, err = repos.Accounts().RecentWorkers(ctx, since, limit)
		return err
	})
	return workers, err
}

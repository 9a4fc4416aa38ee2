package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-idm-email/pkg/identity"
)

// CreateAccount inserts an account. A zero ID is replaced with a new UUID.
func (r *PostgresRepositories) CreateAccount(ctx context.Context, account identity.Account) (identity.Account, error) {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	account.UpdatedAt = account.CreatedAt
	profile, err := identity.MarshalProfile(account.Profile)
	if err != nil {
		return identity.Account{}, fmt.Errorf("encode profile: %w", err)
	}

	query := `
		INSERT INTO accounts (id, kind, primary_email, password_hash, display_name, profile, totp_secret, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, NULLIF($7, ''), $8, $9)
	`
	_, err = r.db.Exec(ctx, query,
		account.ID, account.Kind, account.PrimaryEmail, account.PasswordHash, account.DisplayName,
		profile, account.TOTPSecret, account.CreatedAt, account.UpdatedAt)
	if err != nil {
		return identity.Account{}, translate(err, "create account")
	}
	return account, nil
}

// GetAccount returns the account or ErrNotFound.
func (r *PostgresRepositories) GetAccount(ctx context.Context, id uuid.UUID) (identity.Account, error) {
	query := `
		SELECT id, kind, COALESCE(primary_email, ''), password_hash, display_name, profile,
			COALESCE(totp_secret, ''), created_at, updated_at
		FROM accounts
		WHERE id = $1
	`
	var (
		a       identity.Account
		profile []byte
	)
	err := r.db.QueryRow(ctx, query, id).Scan(
		&a.ID,
		&a.Kind,
		&a.PrimaryEmail,
		&a.PasswordHash,
		&a.DisplayName,
		&profile,
		&a.TOTPSecret,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return identity.Account{}, translate(err, "get account")
	}
	if a.Profile, err = identity.UnmarshalProfile(profile); err != nil {
		return identity.Account{}, fmt.Errorf("decode profile: %w", err)
	}
	return a, nil
}

// SetPrimaryEmail moves the account's primary pointer.
func (r *PostgresRepositories) SetPrimaryEmail(ctx context.Context, id uuid.UUID, email string, now time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE accounts SET primary_email = $2, updated_at = $3 WHERE id = $1`, id, email, now)
	if err != nil {
		return translate(err, "set primary email")
	}
	return affected(tag)
}

// RecentWorkers lists the newest worker accounts created since the cutoff.
func (r *PostgresRepositories) RecentWorkers(ctx context.Context, since time.Time, limit int) ([]identity.WorkerIdentity, error) {
	query := `
		SELECT id, display_name, COALESCE(primary_email, ''), created_at
		FROM accounts
		WHERE kind = 'worker' AND created_at >= $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, since, limit)
	if err != nil {
		return nil, translate(err, "recent workers")
	}
	defer rows.Close()

	var workers []identity.WorkerIdentity
	for rows.Next() {
		var w identity.WorkerIdentity
		if err := rows.Scan(&w.AccountID, &w.FullName, &w.Email, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan worker: %w", err)
		}
		workers = append(workers, w)
	}
	return workers, rows.Err()
}

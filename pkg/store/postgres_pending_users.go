package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/tendant/simple-idm-email/pkg/identity"
)

const pendingUserColumns = `id, email, hashed_password, account_kind, profile, verification_token,
	token_expiry, resend_count, created_at, updated_at`

func scanPendingUser(row pgx.Row) (identity.PendingUser, error) {
	var (
		p       identity.PendingUser
		profile []byte
	)
	err := row.Scan(
		&p.ID,
		&p.Email,
		&p.HashedPassword,
		&p.AccountKind,
		&profile,
		&p.VerificationToken,
		&p.TokenExpiry,
		&p.ResendCount,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return identity.PendingUser{}, err
	}
	if p.Profile, err = identity.UnmarshalProfile(profile); err != nil {
		return identity.PendingUser{}, fmt.Errorf("decode profile: %w", err)
	}
	return p, nil
}

func (r *PostgresRepositories) CreatePendingUser(ctx context.Context, p identity.PendingUser) (identity.PendingUser, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.UpdatedAt = p.CreatedAt
	profile, err := identity.MarshalProfile(p.Profile)
	if err != nil {
		return identity.PendingUser{}, fmt.Errorf("encode profile: %w", err)
	}

	query := `
		INSERT INTO pending_users (` + pendingUserColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.db.Exec(ctx, query, p.ID, p.Email, p.HashedPassword, p.AccountKind, profile,
		p.VerificationToken, p.TokenExpiry, p.ResendCount, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return identity.PendingUser{}, translate(err, "create pending user")
	}
	return p, nil
}

func (r *PostgresRepositories) FindPendingUserByEmail(ctx context.Context, email string) (identity.PendingUser, error) {
	p, err := scanPendingUser(r.db.QueryRow(ctx, `SELECT `+pendingUserColumns+` FROM pending_users WHERE email = $1`, email))
	return p, translate(err, "find pending user by email")
}

func (r *PostgresRepositories) FindPendingUserByToken(ctx context.Context, token string) (identity.PendingUser, error) {
	p, err := scanPendingUser(r.db.QueryRow(ctx, `SELECT `+pendingUserColumns+` FROM pending_users WHERE verification_token = $1 FOR UPDATE`, token))
	return p, translate(err, "find pending user by token")
}

func (r *PostgresRepositories) UpdatePendingUser(ctx context.Context, p identity.PendingUser) error {
	profile, err := identity.MarshalProfile(p.Profile)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	query := `
		UPDATE pending_users
		SET hashed_password = $2, account_kind = $3, profile = $4, verification_token = $5,
			token_expiry = $6, resend_count = $7, updated_at = $8
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, p.ID, p.HashedPassword, p.AccountKind, profile,
		p.VerificationToken, p.TokenExpiry, p.ResendCount, p.UpdatedAt)
	if err != nil {
		return translate(err, "update pending user")
	}
	return affected(tag)
}

func (r *PostgresRepositories) DeletePendingUser(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM pending_users WHERE id = $1`, id)
	if err != nil {
		return translate(err, "delete pending user")
	}
	return affected(tag)
}

func (r *PostgresRepositories) DeleteExpiredPendingUsers(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM pending_users WHERE token_expiry < $1`, before)
	if err != nil {
		return 0, translate(err, "delete expired pending users")
	}
	return tag.RowsAffected(), nil
}

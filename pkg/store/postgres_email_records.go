package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/tendant/simple-idm-email/pkg/identity"
)

const emailRecordColumns = `id, account_id, address, status, COALESCE(verification_code, ''), COALESCE(code_kind, ''),
	code_expires_at, verified_at, detached_at, grace_expires_at, created_at, updated_at`

func scanEmailRecord(row pgx.Row) (identity.EmailRecord, error) {
	var rec identity.EmailRecord
	err := row.Scan(
		&rec.ID,
		&rec.AccountID,
		&rec.Address,
		&rec.Status,
		&rec.VerificationCode,
		&rec.CodeKind,
		&rec.CodeExpiresAt,
		&rec.VerifiedAt,
		&rec.DetachedAt,
		&rec.GraceExpiresAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	return rec, err
}

func (r *PostgresRepositories) queryEmailRecords(ctx context.Context, op, query string, args ...any) ([]identity.EmailRecord, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, translate(err, op)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (identity.EmailRecord, error) {
		return scanEmailRecord(row)
	})
	return records, translate(err, op)
}

// LockAddress takes a transaction-scoped advisory lock on the address. Outside a
// transaction the lock is released as soon as the statement ends.
func (r *PostgresRepositories) LockAddress(ctx context.Context, address string) error {
	_, err := r.db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, address)
	return translate(err, "lock address")
}

func (r *PostgresRepositories) CreateEmailRecord(ctx context.Context, rec identity.EmailRecord) (identity.EmailRecord, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.UpdatedAt = rec.CreatedAt

	query := `
		INSERT INTO email_records (id, account_id, address, status, verification_code, code_kind,
			code_expires_at, verified_at, detached_at, grace_expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.Exec(ctx, query,
		rec.ID, rec.AccountID, rec.Address, rec.Status, rec.VerificationCode, string(rec.CodeKind),
		rec.CodeExpiresAt, rec.VerifiedAt, rec.DetachedAt, rec.GraceExpiresAt, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return identity.EmailRecord{}, translate(err, "create email record")
	}
	return rec, nil
}

func (r *PostgresRepositories) GetEmailRecord(ctx context.Context, id uuid.UUID) (identity.EmailRecord, error) {
	rec, err := scanEmailRecord(r.db.QueryRow(ctx, `SELECT `+emailRecordColumns+` FROM email_records WHERE id = $1`, id))
	return rec, translate(err, "get email record")
}

func (r *PostgresRepositories) FindEmailRecordsByAddress(ctx context.Context, address string) ([]identity.EmailRecord, error) {
	return r.queryEmailRecords(ctx, "find email records by address",
		`SELECT `+emailRecordColumns+` FROM email_records WHERE address = $1 ORDER BY created_at`, address)
}

func (r *PostgresRepositories) FindEmailRecordsByAccount(ctx context.Context, accountID uuid.UUID) ([]identity.EmailRecord, error) {
	return r.queryEmailRecords(ctx, "find email records by account",
		`SELECT `+emailRecordColumns+` FROM email_records WHERE account_id = $1 ORDER BY created_at`, accountID)
}

func (r *PostgresRepositories) FindPrimaryEmailRecord(ctx context.Context, accountID uuid.UUID) (identity.EmailRecord, error) {
	query := `SELECT ` + emailRecordColumns + ` FROM email_records WHERE account_id = $1 AND status = 'primary'`
	rec, err := scanEmailRecord(r.db.QueryRow(ctx, query, accountID))
	return rec, translate(err, "find primary email record")
}

func (r *PostgresRepositories) FindPendingByCode(ctx context.Context, address, code string, kind identity.CodeKind) (identity.EmailRecord, error) {
	query := `
		SELECT ` + emailRecordColumns + `
		FROM email_records
		WHERE address = $1 AND verification_code = $2 AND code_kind = $3
		AND status = 'pending_verification' AND verified_at IS NULL
		FOR UPDATE
	`
	rec, err := scanEmailRecord(r.db.QueryRow(ctx, query, address, code, string(kind)))
	return rec, translate(err, "find pending email record by code")
}

func (r *PostgresRepositories) IssueVerificationCode(ctx context.Context, id uuid.UUID, code string, kind identity.CodeKind, expiresAt, now time.Time) error {
	query := `
		UPDATE email_records
		SET status = 'pending_verification', verification_code = $2, code_kind = $3,
			code_expires_at = $4, updated_at = $5
		WHERE id = $1 AND verified_at IS NULL AND status IN ('unverified', 'pending_verification')
	`
	tag, err := r.db.Exec(ctx, query, id, code, string(kind), expiresAt, now)
	if err != nil {
		return translate(err, "issue verification code")
	}
	return affected(tag)
}

func (r *PostgresRepositories) PromoteToPrimary(ctx context.Context, id uuid.UUID, now time.Time) error {
	query := `
		UPDATE email_records
		SET status = 'primary', verified_at = $2, verification_code = NULL, code_kind = NULL,
			code_expires_at = NULL, updated_at = $2
		WHERE id = $1 AND verified_at IS NULL
	`
	tag, err := r.db.Exec(ctx, query, id, now)
	if err != nil {
		return translate(err, "promote email record")
	}
	return affected(tag)
}

func (r *PostgresRepositories) DetachEmailRecord(ctx context.Context, id uuid.UUID, now, graceExpiresAt time.Time) error {
	query := `
		UPDATE email_records
		SET status = 'detached', detached_at = $2, grace_expires_at = $3, updated_at = $2
		WHERE id = $1 AND status = 'primary'
	`
	tag, err := r.db.Exec(ctx, query, id, now, graceExpiresAt)
	if err != nil {
		return translate(err, "detach email record")
	}
	return affected(tag)
}

func (r *PostgresRepositories) DeleteExpiredDetached(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM email_records WHERE status = 'detached' AND grace_expires_at <= $1`, now)
	if err != nil {
		return 0, translate(err, "delete expired detached records")
	}
	return tag.RowsAffected(), nil
}

const releaseClaimSet = `
	SET status = 'unverified', verification_code = NULL, code_kind = NULL,
		code_expires_at = NULL, updated_at = $2
`

func (r *PostgresRepositories) ReleaseExpiredClaim(ctx context.Context, id uuid.UUID, now time.Time) error {
	query := `UPDATE email_records` + releaseClaimSet + `
		WHERE id = $1 AND status = 'pending_verification' AND verified_at IS NULL
		AND (code_expires_at IS NULL OR code_expires_at < $2)
	`
	tag, err := r.db.Exec(ctx, query, id, now)
	if err != nil {
		return translate(err, "release expired claim")
	}
	return affected(tag)
}

func (r *PostgresRepositories) ReleaseExpiredClaims(ctx context.Context, before, now time.Time) (int64, error) {
	query := `UPDATE email_records` + releaseClaimSet + `
		WHERE status = 'pending_verification' AND verified_at IS NULL
		AND (code_expires_at IS NULL OR code_expires_at < $1)
	`
	tag, err := r.db.Exec(ctx, query, before, now)
	if err != nil {
		return 0, translate(err, "release expired claims")
	}
	return tag.RowsAffected(), nil
}

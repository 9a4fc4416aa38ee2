package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/tendant/simple-idm-email/pkg/identity"
)

func (r *PostgresRepositories) AppendChange(ctx context.Context, entry identity.ChangeLogEntry) (identity.ChangeLogEntry, error) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	query := `
		INSERT INTO email_change_log (account_id, old_email, new_email, change_type, status,
			verification_token, ip_address, user_agent, two_factor_used, created_at)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9, $10)
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query,
		entry.AccountID, entry.OldEmail, entry.NewEmail, entry.ChangeType, entry.Status,
		entry.VerificationToken, entry.IPAddress, entry.UserAgent, entry.TwoFactorUsed, entry.Timestamp,
	).Scan(&entry.ID)
	if err != nil {
		return identity.ChangeLogEntry{}, translate(err, "append change")
	}
	return entry, nil
}

func (r *PostgresRepositories) ListChanges(ctx context.Context, accountID uuid.UUID) ([]identity.ChangeLogEntry, error) {
	query := `
		SELECT id, account_id, COALESCE(old_email, ''), COALESCE(new_email, ''), change_type, status,
			COALESCE(verification_token, ''), COALESCE(ip_address, ''), COALESCE(user_agent, ''),
			two_factor_used, created_at
		FROM email_change_log
		WHERE account_id = $1
		ORDER BY id
	`
	rows, err := r.db.Query(ctx, query, accountID)
	if err != nil {
		return nil, translate(err, "list changes")
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (identity.ChangeLogEntry, error) {
		var e identity.ChangeLogEntry
		err := row.Scan(&e.ID, &e.AccountID, &e.OldEmail, &e.NewEmail, &e.ChangeType, &e.Status,
			&e.VerificationToken, &e.IPAddress, &e.UserAgent, &e.TwoFactorUsed, &e.Timestamp)
		return e, err
	})
	return entries, translate(err, "list changes")
}

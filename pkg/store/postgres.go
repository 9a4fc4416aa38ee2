package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgSerializationFailure = "40001"
	pgUniqueViolation      = "23505"

	defaultMaxTxAttempts = 3
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore runs every transaction at serializable isolation and retries
// serialization failures.
type PostgresStore struct {
	pool        *pgxpool.Pool
	maxAttempts int
}

// NewPostgresStore creates a store backed by pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, maxAttempts: defaultMaxTxAttempts}
}

// WithTx runs fn in a serializable transaction.
func (s *PostgresStore) WithTx(ctx context.Context, fn TxFunc) error {
	for attempt := 1; ; attempt++ {
		err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
			return fn(ctx, &PostgresRepositories{db: tx})
		})
		if err == nil || !isPgCode(err, pgSerializationFailure) || attempt >= s.maxAttempts {
			return err
		}
		slog.Warn("Retrying transaction after serialization failure", "attempt", attempt)
	}
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// PostgresRepositories implements every repository against one DBTX.
type PostgresRepositories struct {
	db DBTX
}

// NewPostgresRepositories binds the repositories to db, which may be a pool or a transaction.
func NewPostgresRepositories(db DBTX) *PostgresRepositories {
	return &PostgresRepositories{db: db}
}

func (r *PostgresRepositories) Accounts() AccountRepository         { return r }
func (r *PostgresRepositories) EmailRecords() EmailRecordRepository { return r }
func (r *PostgresRepositories) ChangeLog() ChangeLogRepository      { return r }
func (r *PostgresRepositories) PendingUsers() PendingUserRepository { return r }

func isPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

// translate maps driver errors onto the store sentinels.
func translate(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return ErrNotFound
	case isPgCode(err, pgUniqueViolation):
		return fmt.Errorf("%s: %w", op, ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func affected(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

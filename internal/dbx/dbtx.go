// Package dbx provides tiny DB abstractions shared by repositories:
// a minimal interface (DBTX) implemented by both *sql.DB and *sql.Tx,
// a helper to run functions inside a transaction, and a Transactor that
// services depend on so they can run against Postgres or the in-memory store.
package dbx

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of database/sql used by our repos.
// Both *sql.DB and *sql.Tx satisfy this interface.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Transactor hands out storage handles. Conn is used for single statements,
// WithTx for units of work that must commit or roll back together.
type Transactor interface {
	Conn() DBTX
	WithTx(ctx context.Context, fn func(ctx context.Context, tx DBTX) error) error
}

// WithTx begins a transaction, runs fn with a transactional handle, and then
// commits on success or rolls back on error/panic. Panics are rethrown.
//
// Typical use:
//
//	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
//	    _, err := tx.ExecContext(ctx, "UPDATE ...")
//	    return err
//	})
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(ctx, tx)
	return err
}

// SQLTransactor is the database/sql Transactor. Transactions failing with a
// transient connection error are retried up to attempts times in total.
type SQLTransactor struct {
	db       *sql.DB
	opts     *sql.TxOptions
	attempts int
	backoff  time.Duration
}

// NewSQLTransactor wraps db. attempts below 1 is treated as 1.
func NewSQLTransactor(db *sql.DB, attempts int, backoff time.Duration) *SQLTransactor {
	if attempts < 1 {
		attempts = 1
	}
	return &SQLTransactor{db: db, attempts: attempts, backoff: backoff}
}

// Conn returns the underlying pool.
func (t *SQLTransactor) Conn() DBTX { return t.db }

// WithTx runs fn in a transaction, retrying the whole unit on transient errors.
func (t *SQLTransactor) WithTx(ctx context.Context, fn func(ctx context.Context, tx DBTX) error) error {
	for attempt := 1; ; attempt++ {
		err := WithTx(ctx, t.db, t.opts, fn)
		if err == nil || attempt >= t.attempts || !IsTransient(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * t.backoff):
		}
	}
}

// IsTransient reports whether err is a connection-level failure that is
// safe to retry because nothing reached the server.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	return pgconn.SafeToRetry(err)
}

// uniqueViolation is the SQLSTATE Postgres reports for duplicate keys.
const uniqueViolation = "23505"

// IsUniqueViolation reports whether err is a Postgres unique_violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

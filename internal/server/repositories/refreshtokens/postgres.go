// Package refreshtokens provides a PostgreSQL-backed repository for the
// refresh tokens of the session flow.
package refreshtokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vonjiaina/pharmauth/internal/common"
	"github.com/vonjiaina/pharmauth/internal/dbx"
	"github.com/vonjiaina/pharmauth/internal/server/models"
)

// PostgresRepository implements Repository over dbx.DBTX
// (satisfied by *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new refresh token row.
func (r *PostgresRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (id, token_hash, identity_id, device_id, revoked, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := r.db.ExecContext(ctx, query, token.ID, token.TokenHash, token.IdentityID,
		token.DeviceID, token.Revoked, token.CreatedAt, token.ExpiresAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// FindByHash returns the token row for the given hash.
// If not found, it returns common.ErrorNotFound.
func (r *PostgresRepository) FindByHash(ctx context.Context, hash string) (*models.RefreshToken, error) {
	query := `
		SELECT id, token_hash, identity_id, device_id, revoked, created_at, expires_at
		FROM refresh_tokens
		WHERE token_hash = $1
	`
	var (
		t        models.RefreshToken
		deviceID sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, hash).
		Scan(&t.ID, &t.TokenHash, &t.IdentityID, &deviceID, &t.Revoked, &t.CreatedAt, &t.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if deviceID.Valid {
		v := deviceID.String
		t.DeviceID = &v
	}
	return &t, nil
}

// Revoke flips a live token. The revoked = FALSE guard makes a concurrent
// second rotation of the same token lose.
func (r *PostgresRepository) Revoke(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE refresh_tokens
		SET revoked = TRUE
		WHERE id = $1 AND revoked = FALSE
	`
	n, err := r.exec(ctx, query, id)
	return n == 1, err
}

// RevokeAllForDevice revokes the live tokens of one identity on one device.
func (r *PostgresRepository) RevokeAllForDevice(ctx context.Context, identityID, deviceID string) (int64, error) {
	query := `
		UPDATE refresh_tokens
		SET revoked = TRUE
		WHERE identity_id = $1 AND device_id = $2 AND revoked = FALSE
	`
	return r.exec(ctx, query, identityID, deviceID)
}

// DeleteExpired removes tokens past their expiry.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `
		DELETE FROM refresh_tokens
		WHERE expires_at <= $1
	`
	return r.exec(ctx, query, now)
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

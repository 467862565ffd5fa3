package backupcodes

import (
	"context"
	"fmt"

	"github.com/vonjiaina/pharmauth/internal/dbx"
	"github.com/vonjiaina/pharmauth/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Insert writes one row per code. Callers wanting all-or-nothing pass a
// transaction.
func (r *PostgresRepository) Insert(ctx context.Context, codes []*models.BackupCode) error {
	query := `
		INSERT INTO totp_backup_codes (id, identity_id, code_hash, used, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	for _, c := range codes {
		if _, err := r.db.ExecContext(ctx, query, c.ID, c.IdentityID, c.CodeHash, c.Used, c.CreatedAt); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
	}
	return nil
}

func (r *PostgresRepository) ListUnused(ctx context.Context, identityID string) ([]*models.BackupCode, error) {
	query := `
		SELECT id, identity_id, code_hash, used, created_at
		FROM totp_backup_codes
		WHERE identity_id = $1 AND used = FALSE
	`
	rows, err := r.db.QueryContext(ctx, query, identityID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.BackupCode
	for rows.Next() {
		var c models.BackupCode
		if err := rows.Scan(&c.ID, &c.IdentityID, &c.CodeHash, &c.Used, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) MarkUsed(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE totp_backup_codes
		SET used = TRUE
		WHERE id = $1 AND used = FALSE
	`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) DeleteForIdentity(ctx context.Context, identityID string) error {
	query := `
		DELETE FROM totp_backup_codes
		WHERE identity_id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, identityID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

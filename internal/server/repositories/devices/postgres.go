package devices

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

const deviceColumns = `id, identity_id, hardware_id, name, trusted, verification_code_hash, code_consumed, created_at, verified_at, last_seen`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*models.Device, error) {
	var (
		d          models.Device
		name       sql.NullString
		codeHash   sql.NullString
		verifiedAt sql.NullTime
		lastSeen   sql.NullTime
	)
	if err := row.Scan(&d.ID, &d.IdentityID, &d.HardwareID, &name, &d.Trusted, &codeHash,
		&d.CodeConsumed, &d.CreatedAt, &verifiedAt, &lastSeen); err != nil {
		return nil, err
	}
	if name.Valid {
		d.Name = &name.String
	}
	if codeHash.Valid {
		d.VerificationCodeHash = &codeHash.String
	}
	if verifiedAt.Valid {
		d.VerifiedAt = &verifiedAt.Time
	}
	if lastSeen.Valid {
		d.LastSeen = &lastSeen.Time
	}
	return &d, nil
}

func (r *PostgresRepository) Create(ctx context.Context, d *models.Device) error {
	query := `
		INSERT INTO devices (` + deviceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.ExecContext(ctx, query, d.ID, d.IdentityID, d.HardwareID, d.Name, d.Trusted,
		d.VerificationCodeHash, d.CodeConsumed, d.CreatedAt, d.VerifiedAt, d.LastSeen)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrorAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindByHardwareID(ctx context.Context, identityID, hardwareID string) (*models.Device, error) {
	query := `
		SELECT ` + deviceColumns + `
		FROM devices
		WHERE identity_id = $1 AND hardware_id = $2
	`
	return r.findOne(ctx, query, identityID, hardwareID)
}

func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*models.Device, error) {
	query := `
		SELECT ` + deviceColumns + `
		FROM devices
		WHERE id = $1
	`
	return r.findOne(ctx, query, id)
}

func (r *PostgresRepository) findOne(ctx context.Context, query string, args ...any) (*models.Device, error) {
	d, err := scanDevice(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return d, nil
}

func (r *PostgresRepository) ListByIdentity(ctx context.Context, identityID string) ([]*models.Device, error) {
	query := `
		SELECT ` + deviceColumns + `
		FROM devices
		WHERE identity_id = $1
		ORDER BY created_at
	`
	rows, err := r.db.QueryContext(ctx, query, identityID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) MarkTrusted(ctx context.Context, id string, at time.Time) (bool, error) {
	query := `
		UPDATE devices
		SET trusted = TRUE, verified_at = $2, code_consumed = TRUE
		WHERE id = $1 AND verification_code_hash IS NOT NULL AND code_consumed = FALSE
	`
	n, err := r.exec(ctx, query, id, at)
	return n == 1, err
}

func (r *PostgresRepository) TouchLastSeen(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE devices
		SET last_seen = $2
		WHERE id = $1
	`
	_, err := r.exec(ctx, query, id, at)
	return err
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	query := `
		DELETE FROM devices
		WHERE id = $1
	`
	n, err := r.exec(ctx, query, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
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

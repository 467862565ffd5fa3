package identities

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vonjiaina/pharmauth/internal/common"
	"github.com/vonjiaina/pharmauth/internal/dbx"
	"github.com/vonjiaina/pharmauth/internal/server/models"
)

const identityColumns = `id, email, name, password_hash, role, pharmacy_id, is_active, totp_secret, totp_enabled, created_at`

// PostgresRepository implements Repository over dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (*models.Identity, error) {
	var (
		i          models.Identity
		role       string
		pharmacyID sql.NullInt64
		secret     sql.NullString
	)
	if err := row.Scan(&i.ID, &i.Email, &i.Name, &i.PasswordHash, &role, &pharmacyID,
		&i.Active, &secret, &i.TOTPEnabled, &i.CreatedAt); err != nil {
		return nil, err
	}
	i.Role = models.Role(role)
	if pharmacyID.Valid {
		v := pharmacyID.Int64
		i.PharmacyID = &v
	}
	if secret.Valid {
		v := secret.String
		i.TOTPSecret = &v
	}
	return &i, nil
}

func (r *PostgresRepository) Create(ctx context.Context, identity *models.Identity) (*models.Identity, error) {
	query := `
		INSERT INTO identities (` + identityColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	created := *identity
	if created.ID == "" {
		created.ID = uuid.NewString()
	}
	if created.CreatedAt.IsZero() {
		created.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, query,
		created.ID, created.Email, created.Name, created.PasswordHash, string(created.Role),
		created.PharmacyID, created.Active, created.TOTPSecret, created.TOTPEnabled, created.CreatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &created, nil
}

func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (*models.Identity, error) {
	query := `
		SELECT ` + identityColumns + `
		FROM identities
		WHERE lower(email) = lower($1)
	`
	return r.findOne(ctx, query, email)
}

func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*models.Identity, error) {
	query := `
		SELECT ` + identityColumns + `
		FROM identities
		WHERE id = $1
	`
	return r.findOne(ctx, query, id)
}

func (r *PostgresRepository) findOne(ctx context.Context, query string, arg any) (*models.Identity, error) {
	identity, err := scanIdentity(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return identity, nil
}

func (r *PostgresRepository) UpdateTOTP(ctx context.Context, id string, secret *string, enabled bool) error {
	query := `
		UPDATE identities
		SET totp_secret = $2, totp_enabled = $3
		WHERE id = $1
	`
	return r.execOne(ctx, query, id, secret, enabled)
}

func (r *PostgresRepository) UpdatePasswordHash(ctx context.Context, id string, hash string) error {
	query := `
		UPDATE identities
		SET password_hash = $2
		WHERE id = $1
	`
	return r.execOne(ctx, query, id, hash)
}

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) ListSince(ctx context.Context, since *time.Time, offset, limit int) ([]*models.Identity, error) {
	query := `
		SELECT ` + identityColumns + `
		FROM identities
		WHERE $1::timestamptz IS NULL OR created_at >= $1
		ORDER BY created_at, id
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.QueryContext(ctx, query, since, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.Identity
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		out = append(out, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

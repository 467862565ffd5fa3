package audit

import (
	"context"
	"database/sql"
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

func (r *PostgresRepository) Insert(ctx context.Context, e *models.AuditEntry) (int64, error) {
	query := `
		INSERT INTO audit_log (identity_id, action_type, resource_id, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	var id int64
	err := r.db.QueryRowContext(ctx, query, e.IdentityID, string(e.Action), e.ResourceID,
		e.IPAddress, e.UserAgent, e.CreatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return id, nil
}

func (r *PostgresRepository) Recent(ctx context.Context, limit int) ([]*models.AuditEntry, error) {
	query := `
		SELECT id, identity_id, action_type, resource_id, ip_address, user_agent, created_at
		FROM audit_log
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`
	return r.list(ctx, query, limit)
}

func (r *PostgresRepository) ForIdentity(ctx context.Context, identityID string, limit int) ([]*models.AuditEntry, error) {
	query := `
		SELECT id, identity_id, action_type, resource_id, ip_address, user_agent, created_at
		FROM audit_log
		WHERE identity_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	return r.list(ctx, query, identityID, limit)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*models.AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var action string
		var identityID, resource, ip, userAgent sql.NullString
		if err := rows.Scan(&e.ID, &identityID, &action, &resource, &ip, &userAgent, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		e.Action = models.AuditAction(action)
		e.IdentityID = nullable(identityID)
		e.ResourceID = nullable(resource)
		e.IPAddress = nullable(ip)
		e.UserAgent = nullable(userAgent)
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

func nullable(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

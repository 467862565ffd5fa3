// Package audit stores the append-only security event log.
package audit

import (
	"context"

	"github.com/vonjiaina/pharmauth/internal/server/models"
)

// Repository appends and lists audit entries. There is no update or delete.
type Repository interface {
	// Insert appends e and returns the assigned id.
	Insert(ctx context.Context, e *models.AuditEntry) (int64, error)

	// Recent lists the newest entries first.
	Recent(ctx context.Context, limit int) ([]*models.AuditEntry, error)

	// ForIdentity lists the entries of one identity, newest first.
	ForIdentity(ctx context.Context, identityID string, limit int) ([]*models.AuditEntry, error)
}

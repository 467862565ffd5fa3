// Package backupcodes stores hashed TOTP backup codes.
package backupcodes

import (
	"context"

	"github.com/vonjiaina/pharmauth/internal/server/models"
)

// Repository defines persistence for backup codes.
type Repository interface {
	// Insert stores a batch of codes.
	Insert(ctx context.Context, codes []*models.BackupCode) error

	// ListUnused returns the codes of identityID that were not used yet.
	ListUnused(ctx context.Context, identityID string) ([]*models.BackupCode, error)

	// MarkUsed consumes a code, reporting false if it was already used.
	MarkUsed(ctx context.Context, id string) (bool, error)

	// DeleteForIdentity drops every code of identityID.
	DeleteForIdentity(ctx context.Context, identityID string) error
}

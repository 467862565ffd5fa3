// Package identities declares the identity store used by the session and
// two-factor flows.
package identities

import (
	"context"
	"time"

	"github.com/vonjiaina/pharmauth/internal/server/models"
)

// Repository defines persistence for identities.
type Repository interface {
	// Create stores a new identity. Duplicate emails (case-insensitive)
	// yield common.ErrorAlreadyExists. A blank ID or CreatedAt is filled in.
	Create(ctx context.Context, identity *models.Identity) (*models.Identity, error)

	// FindByEmail matches email case-insensitively.
	FindByEmail(ctx context.Context, email string) (*models.Identity, error)

	FindByID(ctx context.Context, id string) (*models.Identity, error)

	// UpdateTOTP replaces the encrypted secret (nil clears it) and the enabled flag.
	UpdateTOTP(ctx context.Context, id string, secret *string, enabled bool) error

	// UpdatePasswordHash swaps the stored hash, e.g. after a legacy re-hash.
	UpdatePasswordHash(ctx context.Context, id string, hash string) error

	// ListSince pages through identities created at or after since (all
	// when nil), ordered by creation time.
	ListSince(ctx context.Context, since *time.Time, offset, limit int) ([]*models.Identity, error)
}

// Package refreshtokens declares the server-side repository contract for
// hashed refresh tokens.
package refreshtokens

import (
	"context"
	"time"

	"github.com/vonjiaina/pharmauth/internal/server/models"
)

// Repository persists refresh token records. Rows are never updated beyond
// flipping revoked.
type Repository interface {
	// Create stores a new token row.
	Create(ctx context.Context, token *models.RefreshToken) error

	// FindByHash returns the row whose token_hash matches, or
	// common.ErrorNotFound.
	FindByHash(ctx context.Context, hash string) (*models.RefreshToken, error)

	// Revoke flips revoked on a non-revoked row, reporting whether it did.
	Revoke(ctx context.Context, id string) (bool, error)

	// RevokeAllForDevice revokes every live token of identityID bound to
	// deviceID and returns how many were flipped.
	RevokeAllForDevice(ctx context.Context, identityID, deviceID string) (int64, error)

	// DeleteExpired removes rows whose expires_at is at or before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Package devices stores the client devices an identity has registered and
// their trust state.
package devices

import (
	"context"
	"time"

	"github.com/vonjiaina/pharmauth/internal/server/models"
)

// Repository defines persistence for devices.
type Repository interface {
	// Create inserts a device. A second row for the same (identity,
	// hardware id) yields common.ErrorAlreadyExists.
	Create(ctx context.Context, device *models.Device) error

	FindByHardwareID(ctx context.Context, identityID, hardwareID string) (*models.Device, error)
	FindByID(ctx context.Context, id string) (*models.Device, error)
	ListByIdentity(ctx context.Context, identityID string) ([]*models.Device, error)

	// MarkTrusted sets trusted, stamps verified_at and consumes the pending
	// code. It reports false when no unconsumed code was left.
	MarkTrusted(ctx context.Context, id string, at time.Time) (bool, error)

	TouchLastSeen(ctx context.Context, id string, at time.Time) error

	// Delete removes the device or returns common.ErrorNotFound.
	Delete(ctx context.Context, id string) error
}

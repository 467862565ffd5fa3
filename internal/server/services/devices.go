package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vonjiaina/pharmauth/internal/common"
	"github.com/vonjiaina/pharmauth/internal/dbx"
	"github.com/vonjiaina/pharmauth/internal/server/models"
	"github.com/vonjiaina/pharmauth/internal/server/repositories/repomanager"
)

const deviceCodeLength = 8

type DeviceTrustRegistry struct {
	store dbx.Transactor
	repos repomanager.RepositoryManager
	now   func() time.Time
}

func NewDeviceTrustRegistry(store dbx.Transactor, repos repomanager.RepositoryManager) *DeviceTrustRegistry {
	return &DeviceTrustRegistry{store: store, repos: repos, now: time.Now}
}

// Register creates the device for (identityID, hardwareID) and returns the
// plaintext verification code. Registering a known pair returns the existing
// device and an empty code.
func (r *DeviceTrustRegistry) Register(ctx context.Context, identityID, hardwareID, name string) (*models.Device, string, error) {
	hardwareID = strings.TrimSpace(hardwareID)
	if hardwareID == "" {
		return nil, "", fmt.Errorf("%w: hardware_id is required", common.ErrValidation)
	}
	repo := r.repos.Devices(r.store.Conn())

	existing, err := repo.FindByHardwareID(ctx, identityID, hardwareID)
	if err == nil {
		return existing, "", nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return nil, "", fmt.Errorf("error loading device: %w", err)
	}

	code, err := common.MakeRandCode(deviceCodeLength, common.CodeAlphabet)
	if err != nil {
		return nil, "", fmt.Errorf("device code entropy: %w", err)
	}
	hash := common.HashToken(code)
	d := &models.Device{
		ID:                   uuid.NewString(),
		IdentityID:           identityID,
		HardwareID:           hardwareID,
		Name:                 optional(strings.TrimSpace(name)),
		VerificationCodeHash: &hash,
		CreatedAt:            r.now().UTC(),
	}
	if err := repo.Create(ctx, d); err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			// lost a race with a concurrent registration
			winner, err := repo.FindByHardwareID(ctx, identityID, hardwareID)
			if err != nil {
				return nil, "", fmt.Errorf("error loading device: %w", err)
			}
			return winner, "", nil
		}
		return nil, "", fmt.Errorf("error creating device: %w", err)
	}
	return d, code, nil
}

// Verify consumes the pending code and marks the device trusted.
func (r *DeviceTrustRegistry) Verify(ctx context.Context, identityID, hardwareID, code string) (*models.Device, error) {
	repo := r.repos.Devices(r.store.Conn())

	d, err := repo.FindByHardwareID(ctx, identityID, strings.TrimSpace(hardwareID))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrDeviceNotFound
		}
		return nil, fmt.Errorf("error loading device: %w", err)
	}
	if !d.CodePending() {
		return nil, common.ErrNoVerificationCodePending
	}
	got := common.HashToken(common.NormalizeCode(code))
	if subtle.ConstantTimeCompare([]byte(got), []byte(*d.VerificationCodeHash)) != 1 {
		return nil, common.ErrInvalidVerificationCode
	}

	at := r.now().UTC()
	marked, err := repo.MarkTrusted(ctx, d.ID, at)
	if err != nil {
		return nil, fmt.Errorf("error trusting device: %w", err)
	}
	if !marked {
		// consumed concurrently
		return nil, common.ErrNoVerificationCodePending
	}
	d.Trusted = true
	d.CodeConsumed = true
	d.VerifiedAt = &at
	return d, nil
}

// Revoke deletes deviceID if it belongs to identityID.
func (r *DeviceTrustRegistry) Revoke(ctx context.Context, db dbx.DBTX, identityID, deviceID string) (*models.Device, error) {
	repo := r.repos.Devices(db)

	d, err := repo.FindByID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrDeviceNotFound
		}
		return nil, fmt.Errorf("error loading device: %w", err)
	}
	if d.IdentityID != identityID {
		return nil, common.ErrDeviceNotFound
	}
	if err := repo.Delete(ctx, d.ID); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrDeviceNotFound
		}
		return nil, fmt.Errorf("error deleting device: %w", err)
	}
	return d, nil
}

func (r *DeviceTrustRegistry) List(ctx context.Context, identityID string) ([]*models.Device, error) {
	list, err := r.repos.Devices(r.store.Conn()).ListByIdentity(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("error listing devices: %w", err)
	}
	return list, nil
}

// FindTrusted returns the trusted device with hardwareID, or
// ErrDeviceNotFound when it is unknown or not yet verified.
func (r *DeviceTrustRegistry) FindTrusted(ctx context.Context, identityID, hardwareID string) (*models.Device, error) {
	d, err := r.repos.Devices(r.store.Conn()).FindByHardwareID(ctx, identityID, strings.TrimSpace(hardwareID))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrDeviceNotFound
		}
		return nil, fmt.Errorf("error loading device: %w", err)
	}
	if !d.Trusted {
		return nil, common.ErrDeviceNotFound
	}
	return d, nil
}

// Touch stamps last-seen on deviceID.
func (r *DeviceTrustRegistry) Touch(ctx context.Context, deviceID string) error {
	if err := r.repos.Devices(r.store.Conn()).TouchLastSeen(ctx, deviceID, r.now().UTC()); err != nil {
		return fmt.Errorf("error touching device: %w", err)
	}
	return nil
}

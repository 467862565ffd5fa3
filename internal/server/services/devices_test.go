package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vonjiaina/pharmauth/internal/common"
	"github.com/vonjiaina/pharmauth/internal/dbx"
	"github.com/vonjiaina/pharmauth/internal/server/models"
	"github.com/vonjiaina/pharmauth/internal/server/repositories/devices"
	"github.com/vonjiaina/pharmauth/internal/server/repositories/memory"
	"github.com/vonjiaina/pharmauth/internal/server/repositories/repomanager"
)

// racingDevices makes the first lookup miss, as if another request created
// the device right after it.
type racingDevices struct {
	*memory.Store
	missed *bool
}

func (r racingDevices) Devices(db dbx.DBTX) devices.Repository {
	return &racingDeviceRepo{Repository: r.Store.Devices(db), missed: r.missed}
}

type racingDeviceRepo struct {
	devices.Repository
	missed *bool
}

func (r *racingDeviceRepo) FindByHardwareID(ctx context.Context, identityID, hardwareID string) (*models.Device, error) {
	if !*r.missed {
		*r.missed = true
		return nil, common.ErrorNotFound
	}
	return r.Repository.FindByHardwareID(ctx, identityID, hardwareID)
}

func TestRegister_LosingRaceReturnsWinner(t *testing.T) {
	missed := true
	h := newHarnessWithRepos(t, func(s *memory.Store) repomanager.RepositoryManager {
		return racingDevices{Store: s, missed: &missed}
	})
	ctx := context.Background()

	winner, code, err := h.devices.Register(ctx, "u1", "hw", "first")
	require.NoError(t, err)
	require.NotEmpty(t, code)

	missed = false
	got, code, err := h.devices.Register(ctx, "u1", "hw", "second")
	require.NoError(t, err)
	assert.Empty(t, code)
	assert.Equal(t, winner.ID, got.ID)
}

func TestRegister_Validation(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.devices.Register(context.Background(), "u1", "   ", "")
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestRegister_StoresOnlyCodeHash(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	d, code, err := h.devices.Register(ctx, "u1", "hw", "Laptop")
	require.NoError(t, err)
	assert.Len(t, code, 8)
	for _, r := range code {
		assert.Contains(t, common.CodeAlphabet, string(r))
	}
	require.NotNil(t, d.VerificationCodeHash)
	assert.Equal(t, common.HashToken(code), *d.VerificationCodeHash)
	assert.Equal(t, "Laptop", *d.Name)
}

func TestFindTrusted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, code, err := h.devices.Register(ctx, "u1", "hw", "")
	require.NoError(t, err)

	_, err = h.devices.FindTrusted(ctx, "u1", "hw")
	assert.ErrorIs(t, err, common.ErrDeviceNotFound)

	_, err = h.devices.Verify(ctx, "u1", "hw", code)
	require.NoError(t, err)

	d, err := h.devices.FindTrusted(ctx, "u1", "hw")
	require.NoError(t, err)
	assert.True(t, d.Trusted)

	_, err = h.devices.FindTrusted(ctx, "u2", "hw")
	assert.ErrorIs(t, err, common.ErrDeviceNotFound)
}

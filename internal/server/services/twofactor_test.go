package services

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vonjiaina/pharmauth/internal/common"
)

func TestCheck_AcceptsAdjacentStepsOnly(t *testing.T) {
	h := newHarness(t)
	u := h.register(t, "totp@example.com", "pw")
	secret, _ := h.enable2FA(t, u.ID)

	identity, err := h.identities.Get(context.Background(), u.ID)
	require.NoError(t, err)

	now := h.clock.Now()
	for name, tc := range map[string]struct {
		offset time.Duration
		want   bool
	}{
		"current step":   {0, true},
		"previous step":  {-30 * time.Second, true},
		"next step":      {30 * time.Second, true},
		"two steps back": {-60 * time.Second, false},
		"two steps on":   {60 * time.Second, false},
	} {
		ok, err := h.twoFactor.Check(identity, h.totpCode(t, secret, now.Add(tc.offset)))
		require.NoError(t, err, name)
		assert.Equal(t, tc.want, ok, name)
	}

	ok, err := h.twoFactor.Check(identity, "12")
	require.NoError(t, err)
	assert.False(t, ok, "malformed codes are just wrong")
}

func TestSetup_StoresEncryptedSecret(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.register(t, "sec@example.com", "pw")

	enr, err := h.twoFactor.Setup(ctx, u.ID)
	require.NoError(t, err)

	uri, err := url.Parse(enr.OTPAuthURL)
	require.NoError(t, err)
	assert.Equal(t, "otpauth", uri.Scheme)
	assert.Equal(t, "totp", uri.Host)
	assert.Equal(t, "Vonjiaina", uri.Query().Get("issuer"))
	assert.Equal(t, enr.Secret, uri.Query().Get("secret"))
	assert.Len(t, enr.Secret, 32, "160-bit base32 secret")

	stored, err := h.identities.Get(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.TOTPSecret)
	assert.NotEqual(t, enr.Secret, *stored.TOTPSecret)
	assert.False(t, stored.TOTPEnabled)

	plain, err := h.cipher.Decrypt(*stored.TOTPSecret)
	require.NoError(t, err)
	assert.Equal(t, enr.Secret, string(plain))
}

func TestTwoFactor_StateErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.register(t, "state@example.com", "pw")

	_, err := h.twoFactor.VerifyAndEnable(ctx, u.ID, "123456")
	assert.ErrorIs(t, err, common.ErrTwoFactorNotInitialized)

	err = h.twoFactor.Disable(ctx, u.ID, "123456")
	assert.ErrorIs(t, err, common.ErrTwoFactorNotEnabled)

	enr, err := h.twoFactor.Setup(ctx, u.ID)
	require.NoError(t, err)

	_, err = h.twoFactor.VerifyAndEnable(ctx, u.ID, h.totpCode(t, enr.Secret, h.clock.Now().Add(-5*time.Minute)))
	assert.ErrorIs(t, err, common.ErrInvalidTwoFactorCode)

	codes, err := h.twoFactor.VerifyAndEnable(ctx, u.ID, h.totpCode(t, enr.Secret, h.clock.Now()))
	require.NoError(t, err)
	assert.Len(t, codes, 8)
	for _, c := range codes {
		assert.Len(t, c, 10)
	}

	_, err = h.twoFactor.Setup(ctx, u.ID)
	assert.ErrorIs(t, err, common.ErrTwoFactorAlreadyEnabled)
	_, err = h.twoFactor.VerifyAndEnable(ctx, u.ID, h.totpCode(t, enr.Secret, h.clock.Now()))
	assert.ErrorIs(t, err, common.ErrTwoFactorAlreadyEnabled)

	err = h.twoFactor.Disable(ctx, u.ID, h.totpCode(t, enr.Secret, h.clock.Now().Add(-time.Hour)))
	assert.ErrorIs(t, err, common.ErrInvalidTwoFactorCode)

	require.NoError(t, h.twoFactor.Disable(ctx, u.ID, h.totpCode(t, enr.Secret, h.clock.Now())))
	stored, err := h.identities.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.TOTPSecret)
	assert.False(t, stored.TOTPEnabled)

	left, err := h.repos.BackupCodes(h.store.Conn()).ListUnused(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestCheck_UndecryptableSecret(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.register(t, "rot@example.com", "pw")

	bogus := "bm90IGEgcmVhbCBjaXBoZXJ0ZXh0IGF0IGFsbA=="
	require.NoError(t, h.repos.Identities(h.store.Conn()).UpdateTOTP(ctx, u.ID, &bogus, true))
	identity, err := h.identities.Get(ctx, u.ID)
	require.NoError(t, err)

	_, err = h.twoFactor.Check(identity, "123456")
	assert.ErrorIs(t, err, common.ErrDecryptionFailure)
}

func TestCheckBackup_RegeneratedBatchReplacesOld(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.register(t, "batch@example.com", "pw")

	secret, first := h.enable2FA(t, u.ID)
	require.NoError(t, h.twoFactor.Disable(ctx, u.ID, h.totpCode(t, secret, h.clock.Now())))
	_, second := h.enable2FA(t, u.ID)

	ok, err := h.twoFactor.CheckBackup(ctx, u.ID, first[0])
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = h.twoFactor.CheckBackup(ctx, u.ID, second[0])
	require.NoError(t, err)
	assert.True(t, ok)
}

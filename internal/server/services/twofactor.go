package services

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/vonjiaina/pharmauth/internal/common"
	"github.com/vonjiaina/pharmauth/internal/dbx"
	"github.com/vonjiaina/pharmauth/internal/server/models"
	"github.com/vonjiaina/pharmauth/internal/server/repositories/repomanager"
)

const (
	backupCodeLength = 10
	totpSecretSize   = 20 // 160 bits
)

var totpOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// SecretSealer encrypts TOTP secrets at rest. *cryptox.SecretCipher is the
// production implementation.
type SecretSealer interface {
	Encrypt(plaintext []byte) (string, error)
	Decrypt(ciphertext string) ([]byte, error)
}

// Enrollment is returned once by Setup so the user can add the secret to an
// authenticator app.
type Enrollment struct {
	Secret     string
	OTPAuthURL string
}

// TwoFactorManager handles TOTP enrollment and second-factor checks.
type TwoFactorManager struct {
	store       dbx.Transactor
	repos       repomanager.RepositoryManager
	sealer      SecretSealer
	issuer      string
	backupCount int
	now         func() time.Time
}

func NewTwoFactorManager(store dbx.Transactor, repos repomanager.RepositoryManager, sealer SecretSealer, issuer string, backupCount int) *TwoFactorManager {
	if backupCount <= 0 {
		backupCount = 8
	}
	return &TwoFactorManager{
		store:       store,
		repos:       repos,
		sealer:      sealer,
		issuer:      issuer,
		backupCount: backupCount,
		now:         time.Now,
	}
}

// Setup stores a fresh secret, encrypted and not yet enabled, replacing any
// pending one.
func (m *TwoFactorManager) Setup(ctx context.Context, identityID string) (*Enrollment, error) {
	repo := m.repos.Identities(m.store.Conn())
	identity, err := repo.FindByID(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("error loading identity: %w", err)
	}
	if identity.TOTPEnabled {
		return nil, common.ErrTwoFactorAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.issuer,
		AccountName: identity.Email,
		SecretSize:  totpSecretSize,
	})
	if err != nil {
		return nil, fmt.Errorf("error generating totp secret: %w", err)
	}
	sealed, err := m.sealer.Encrypt([]byte(key.Secret()))
	if err != nil {
		return nil, fmt.Errorf("error encrypting totp secret: %w", err)
	}
	if err := repo.UpdateTOTP(ctx, identity.ID, &sealed, false); err != nil {
		return nil, fmt.Errorf("error storing totp secret: %w", err)
	}
	return &Enrollment{Secret: key.Secret(), OTPAuthURL: key.URL()}, nil
}

// VerifyAndEnable turns 2FA on after the first valid code and returns a new
// batch of plaintext backup codes. They are not retrievable later.
func (m *TwoFactorManager) VerifyAndEnable(ctx context.Context, identityID, code string) ([]string, error) {
	identity, err := m.repos.Identities(m.store.Conn()).FindByID(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("error loading identity: %w", err)
	}
	if identity.TOTPEnabled {
		return nil, common.ErrTwoFactorAlreadyEnabled
	}
	ok, err := m.Check(identity, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, common.ErrInvalidTwoFactorCode
	}

	plain := make([]string, 0, m.backupCount)
	rows := make([]*models.BackupCode, 0, m.backupCount)
	now := m.now().UTC()
	for i := 0; i < m.backupCount; i++ {
		c, err := common.MakeRandCode(backupCodeLength, common.CodeAlphabet)
		if err != nil {
			return nil, fmt.Errorf("backup code entropy: %w", err)
		}
		plain = append(plain, c)
		rows = append(rows, &models.BackupCode{
			ID:         uuid.NewString(),
			IdentityID: identity.ID,
			CodeHash:   common.HashToken(c),
			CreatedAt:  now,
		})
	}

	err = m.store.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if err := m.repos.Identities(tx).UpdateTOTP(ctx, identity.ID, identity.TOTPSecret, true); err != nil {
			return fmt.Errorf("error enabling totp: %w", err)
		}
		codes := m.repos.BackupCodes(tx)
		if err := codes.DeleteForIdentity(ctx, identity.ID); err != nil {
			return fmt.Errorf("error clearing backup codes: %w", err)
		}
		if err := codes.Insert(ctx, rows); err != nil {
			return fmt.Errorf("error storing backup codes: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plain, nil
}

// Disable requires a valid current code and removes the secret, the flag and
// the backup codes.
func (m *TwoFactorManager) Disable(ctx context.Context, identityID, code string) error {
	identity, err := m.repos.Identities(m.store.Conn()).FindByID(ctx, identityID)
	if err != nil {
		return fmt.Errorf("error loading identity: %w", err)
	}
	if !identity.TOTPEnabled {
		return common.ErrTwoFactorNotEnabled
	}
	ok, err := m.Check(identity, code)
	if err != nil {
		return err
	}
	if !ok {
		return common.ErrInvalidTwoFactorCode
	}
	return m.store.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if err := m.repos.Identities(tx).UpdateTOTP(ctx, identity.ID, nil, false); err != nil {
			return fmt.Errorf("error disabling totp: %w", err)
		}
		if err := m.repos.BackupCodes(tx).DeleteForIdentity(ctx, identity.ID); err != nil {
			return fmt.Errorf("error clearing backup codes: %w", err)
		}
		return nil
	})
}

// Check validates a TOTP code against the identity's stored secret,
// accepting one step of clock drift either way.
func (m *TwoFactorManager) Check(identity *models.Identity, code string) (bool, error) {
	if identity.TOTPSecret == nil {
		return false, common.ErrTwoFactorNotInitialized
	}
	secret, err := m.sealer.Decrypt(*identity.TOTPSecret)
	if err != nil {
		return false, err
	}
	defer common.WipeByteArray(secret)

	ok, err := totp.ValidateCustom(code, string(secret), m.now().UTC(), totpOpts)
	if err != nil {
		// malformed input, e.g. wrong length
		return false, nil
	}
	return ok, nil
}

// CheckBackup consumes a matching unused backup code. Every candidate is
// compared so the time taken does not depend on which one matches.
func (m *TwoFactorManager) CheckBackup(ctx context.Context, identityID, code string) (bool, error) {
	repo := m.repos.BackupCodes(m.store.Conn())
	candidates, err := repo.ListUnused(ctx, identityID)
	if err != nil {
		return false, fmt.Errorf("error listing backup codes: %w", err)
	}

	want := []byte(common.HashToken(common.NormalizeCode(code)))
	var match *models.BackupCode
	for _, c := range candidates {
		if subtle.ConstantTimeCompare([]byte(c.CodeHash), want) == 1 && match == nil {
			match = c
		}
	}
	if match == nil {
		return false, nil
	}
	used, err := repo.MarkUsed(ctx, match.ID)
	if err != nil {
		return false, fmt.Errorf("error consuming backup code: %w", err)
	}
	return used, nil
}

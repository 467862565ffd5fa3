package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vonjiaina/pharmauth/internal/common"
	"github.com/vonjiaina/pharmauth/internal/dbx"
	"github.com/vonjiaina/pharmauth/internal/server/models"
	"github.com/vonjiaina/pharmauth/internal/server/repositories/repomanager"
)

// refreshTokenBytes is the entropy of a refresh token value.
const refreshTokenBytes = 64

// Rotation is the outcome of a successful refresh: the plaintext successor
// value (handed to the client once), its stored row, and the revoked row.
type Rotation struct {
	Value    string
	Token    *models.RefreshToken
	Previous *models.RefreshToken
}

// RefreshTokenStore issues, rotates and revokes opaque refresh tokens.
// Only SHA-256 hashes of the values are ever stored.
type RefreshTokenStore struct {
	store dbx.Transactor
	repos repomanager.RepositoryManager
	ttl   time.Duration
	now   func() time.Time
}

func NewRefreshTokenStore(store dbx.Transactor, repos repomanager.RepositoryManager, ttl time.Duration) *RefreshTokenStore {
	return &RefreshTokenStore{store: store, repos: repos, ttl: ttl, now: time.Now}
}

// Issue creates a token for identityID, optionally bound to deviceID, using
// db so callers can include it in a wider transaction.
func (s *RefreshTokenStore) Issue(ctx context.Context, db dbx.DBTX, identityID string, deviceID *string) (string, *models.RefreshToken, error) {
	value, err := common.MakeRandURLString(refreshTokenBytes)
	if err != nil {
		return "", nil, fmt.Errorf("refresh token entropy: %w", err)
	}
	now := s.now().UTC()
	token := &models.RefreshToken{
		ID:         uuid.NewString(),
		TokenHash:  common.HashToken(value),
		IdentityID: identityID,
		DeviceID:   deviceID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.ttl),
	}
	if err := s.repos.RefreshTokens(db).Create(ctx, token); err != nil {
		return "", nil, fmt.Errorf("error creating refresh token: %w", err)
	}
	return value, token, nil
}

// Rotate exchanges value for a successor. The old row is revoked only if it
// is still live, so of two concurrent rotations of the same value exactly one
// wins. then runs inside the same transaction with the successor, letting the
// caller mint the access token atomically with the rotation.
func (s *RefreshTokenStore) Rotate(ctx context.Context, value string,
	then func(ctx context.Context, tx dbx.DBTX, successor *models.RefreshToken) error,
) (*Rotation, error) {
	var rot *Rotation
	err := s.store.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repos.RefreshTokens(tx)

		current, err := repo.FindByHash(ctx, common.HashToken(value))
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrInvalidOrExpiredToken
			}
			return fmt.Errorf("error searching refresh token: %w", err)
		}
		if current.Revoked {
			return common.ErrInvalidOrExpiredToken
		}
		if current.ExpiredAt(s.now()) {
			return common.ErrRefreshTokenExpired
		}

		flipped, err := repo.Revoke(ctx, current.ID)
		if err != nil {
			return fmt.Errorf("error revoking refresh token: %w", err)
		}
		if !flipped {
			return common.ErrInvalidOrExpiredToken
		}
		current.Revoked = true

		next, token, err := s.Issue(ctx, tx, current.IdentityID, current.DeviceID)
		if err != nil {
			return err
		}
		if then != nil {
			if err := then(ctx, tx, token); err != nil {
				return err
			}
		}
		rot = &Rotation{Value: next, Token: token, Previous: current}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rot, nil
}

// Revoke flips the token with the given value. It reports true only when a
// live row was found and revoked; unknown or already revoked values are not
// an error.
func (s *RefreshTokenStore) Revoke(ctx context.Context, value string) (*models.RefreshToken, bool, error) {
	repo := s.repos.RefreshTokens(s.store.Conn())

	token, err := repo.FindByHash(ctx, common.HashToken(value))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("error searching refresh token: %w", err)
	}
	flipped, err := repo.Revoke(ctx, token.ID)
	if err != nil {
		return nil, false, fmt.Errorf("error revoking refresh token: %w", err)
	}
	if flipped {
		token.Revoked = true
	}
	return token, flipped, nil
}

// RevokeAll revokes the live tokens of identityID bound to deviceID.
func (s *RefreshTokenStore) RevokeAll(ctx context.Context, db dbx.DBTX, identityID, deviceID string) (int64, error) {
	n, err := s.repos.RefreshTokens(db).RevokeAllForDevice(ctx, identityID, deviceID)
	if err != nil {
		return 0, fmt.Errorf("error revoking device tokens: %w", err)
	}
	return n, nil
}

// PurgeExpired deletes every row whose expiry has passed.
func (s *RefreshTokenStore) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.repos.RefreshTokens(s.store.Conn()).DeleteExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("error purging refresh tokens: %w", err)
	}
	return n, nil
}

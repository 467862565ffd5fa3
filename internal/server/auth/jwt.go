// Package auth signs and verifies bearer tokens.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/vonjiaina/pharmauth/internal/common"
)

// PreAuthTTL is the lifetime of tokens that only allow completing 2FA.
const PreAuthTTL = 5 * time.Minute

// Claims is the bearer payload. Subject carries the identity email.
type Claims struct {
	jwt.RegisteredClaims
	Role     string `json:"role,omitempty"`
	DeviceID string `json:"device_id,omitempty"`
	PreAuth  bool   `json:"pre_auth,omitempty"`
}

// TokenCodec issues and verifies HS256 tokens for one issuer. It holds no
// mutable state and is safe for concurrent use.
type TokenCodec struct {
	secret    []byte
	issuer    string
	accessTTL time.Duration
	now       func() time.Time
}

func NewTokenCodec(secret []byte, issuer string, accessTTL time.Duration) *TokenCodec {
	return &TokenCodec{secret: secret, issuer: issuer, accessTTL: accessTTL, now: time.Now}
}

// WithClock returns a copy of c reading time from now.
func (c *TokenCodec) WithClock(now func() time.Time) *TokenCodec {
	cp := *c
	cp.now = now
	return &cp
}

// AccessTTL is the default lifetime of access tokens.
func (c *TokenCodec) AccessTTL() time.Duration { return c.accessTTL }

// Issue signs claims. ttl <= 0 selects the access-token lifetime; pre-auth
// claims always get PreAuthTTL.
func (c *TokenCodec) Issue(claims Claims, ttl time.Duration) (string, error) {
	if claims.PreAuth {
		ttl = PreAuthTTL
	} else if ttl <= 0 {
		ttl = c.accessTTL
	}
	now := c.now()
	claims.Issuer = c.issuer
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

func (c *TokenCodec) IssueAccess(subject, role, deviceID string) (string, error) {
	return c.Issue(Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject},
		Role:             role,
		DeviceID:         deviceID,
	}, 0)
}

func (c *TokenCodec) IssuePreAuth(subject, deviceID string) (string, error) {
	return c.Issue(Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject},
		DeviceID:         deviceID,
		PreAuth:          true,
	}, PreAuthTTL)
}

// Verify parses token and checks algorithm, signature, issuer and expiry.
// Every failure is reported as common.ErrInvalidOrExpiredToken.
func (c *TokenCodec) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return nil, common.ErrInvalidOrExpiredToken
	}
	return claims, nil
}

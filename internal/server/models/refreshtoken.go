package models

import "time"

// RefreshToken is the stored half of a refresh token: only the SHA-256 of
// the value handed to the client is kept.
type RefreshToken struct {
	ID         string
	TokenHash  string
	IdentityID string
	DeviceID   *string
	Revoked    bool
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// ExpiredAt reports whether the token is no longer usable at now. Both sides
// are compared in UTC.
func (t *RefreshToken) ExpiredAt(now time.Time) bool {
	return !now.UTC().Before(t.ExpiresAt.UTC())
}

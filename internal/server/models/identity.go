// Package models defines the auth records persisted by the server.
package models

import (
	"fmt"
	"time"
)

// Role is the coarse authorization class of an identity.
type Role string

const (
	RoleAdmin    Role = "admin"
	RolePharmacy Role = "pharmacy"
	RoleUser     Role = "user"
)

// ParseRole validates s as a Role. An empty string yields RoleUser.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case "":
		return RoleUser, nil
	case RoleAdmin, RolePharmacy, RoleUser:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Identity is a registered account. TOTPSecret holds the encrypted secret
// once setup has started; TOTPEnabled flips only after the first valid code.
type Identity struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Role         Role
	PharmacyID   *int64
	Active       bool
	TOTPSecret   *string
	TOTPEnabled  bool
	CreatedAt    time.Time
}

// IdentitySnapshot is the sanitized projection handed to mirroring. It
// carries no password hash, TOTP secret or token material.
type IdentitySnapshot struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Name       string    `json:"nom"`
	Role       Role      `json:"role"`
	PharmacyID *int64    `json:"pharmacie_id,omitempty"`
	Active     bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
}

// Snapshot returns the sanitized projection of i.
func (i *Identity) Snapshot() IdentitySnapshot {
	return IdentitySnapshot{
		ID:         i.ID,
		Email:      i.Email,
		Name:       i.Name,
		Role:       i.Role,
		PharmacyID: i.PharmacyID,
		Active:     i.Active,
		CreatedAt:  i.CreatedAt,
	}
}

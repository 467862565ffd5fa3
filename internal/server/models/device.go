package models

import "time"

// Device associates a client hardware id with an identity. A device becomes
// trusted once the one-time verification code sent for it is confirmed.
type Device struct {
	ID                   string
	IdentityID           string
	HardwareID           string
	Name                 *string
	Trusted              bool
	VerificationCodeHash *string
	CodeConsumed         bool
	CreatedAt            time.Time
	VerifiedAt           *time.Time
	LastSeen             *time.Time
}

// CodePending reports whether a verification code is waiting to be used.
func (d *Device) CodePending() bool {
	return d.VerificationCodeHash != nil && !d.CodeConsumed
}

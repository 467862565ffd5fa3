package models

import "time"

// BackupCode is a hashed single-use substitute for a TOTP code.
type BackupCode struct {
	ID         string
	IdentityID string
	CodeHash   string
	Used       bool
	CreatedAt  time.Time
}

package models

import "time"

// AuditAction is the stable tag stored with every audit entry.
type AuditAction string

const (
	ActionTokenIssued        AuditAction = "token_issued"
	ActionTokenRefreshed     AuditAction = "token_refreshed"
	ActionTokenRevoked       AuditAction = "token_revoked"
	ActionTokensPurged       AuditAction = "tokens_purged"
	ActionDeviceRegistered   AuditAction = "device_registered"
	ActionDeviceVerified     AuditAction = "device_verified"
	ActionDeviceRevoked      AuditAction = "device_revoked"
	ActionIdentityRegistered AuditAction = "identity_registered"
	ActionTwoFactorSetup     AuditAction = "two_factor_setup"
	ActionTwoFactorEnabled   AuditAction = "two_factor_enabled"
	ActionTwoFactorDisabled  AuditAction = "two_factor_disabled"
)

// AuditEntry is an append-only security event.
type AuditEntry struct {
	ID         int64
	IdentityID *string
	Action     AuditAction
	ResourceID *string
	IPAddress  *string
	UserAgent  *string
	CreatedAt  time.Time
}

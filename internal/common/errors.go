// Package common defines the sentinel errors and small helpers shared by the
// pharmauth server layers. Callers should use errors.Is to match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal = errors.New("internal error")
	ErrValidation = errors.New("validation error")
	ErrForbidden  = errors.New("forbidden")

	// Credential errors.
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrEmailAlreadyRegistered = errors.New("email already registered")

	// ErrInvalidOrExpiredToken covers bad signatures, malformed tokens, expiry
	// and revoked or unknown refresh values alike.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")

	// ErrRefreshTokenExpired is matched by errors.Is(err, ErrInvalidOrExpiredToken).
	ErrRefreshTokenExpired = fmt.Errorf("%w: refresh token expired", ErrInvalidOrExpiredToken)

	// Two-factor errors.
	ErrTwoFactorNotInitialized = errors.New("two-factor authentication not initialized")
	ErrTwoFactorNotEnabled     = errors.New("two-factor authentication not enabled")
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor authentication already enabled")
	ErrInvalidTwoFactorCode    = errors.New("invalid two-factor code")
	ErrDecryptionFailure       = errors.New("decryption failure")

	// Device trust errors.
	ErrDeviceNotFound            = errors.New("device not found")
	ErrNoVerificationCodePending = errors.New("no verification code pending")
	ErrInvalidVerificationCode   = errors.New("invalid verification code")
)

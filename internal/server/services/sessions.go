// Package services contains the server-side business logic: credential
// checks, session issuance and rotation, two-factor enrollment and device
// trust. Every operation that yields or revokes a session writes one audit
// entry.
package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/vonjiaina/pharmauth/internal/common"
	"github.com/vonjiaina/pharmauth/internal/dbx"
	"github.com/vonjiaina/pharmauth/internal/logging"
	"github.com/vonjiaina/pharmauth/internal/server/auth"
	"github.com/vonjiaina/pharmauth/internal/server/models"
	"github.com/vonjiaina/pharmauth/internal/server/repositories/repomanager"
)

// Notifier delivers device verification codes out of band.
type Notifier interface {
	SendCode(ctx context.Context, destination, code string) error
}

// Credentials is the input of Login. HardwareID is optional.
type Credentials struct {
	Email      string
	Password   string
	HardwareID string
}

// Session is a freshly minted access and refresh token pair.
type Session struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64 // seconds
	Identity     *models.Identity
}

// LoginResult carries either a Session or, when the identity has 2FA on, a
// pre-auth token to be exchanged through Complete2FA.
type LoginResult struct {
	Session           *Session
	TwoFactorRequired bool
	PreAuthToken      string
}

// Principal is the authenticated caller behind an access token.
type Principal struct {
	Identity *models.Identity
	DeviceID string
}

// SessionDeps groups the collaborators of a SessionOrchestrator.
type SessionDeps struct {
	Store     dbx.Transactor
	Repos     repomanager.RepositoryManager
	Hasher    PasswordHasher
	Codec     *auth.TokenCodec
	Tokens    *RefreshTokenStore
	TwoFactor *TwoFactorManager
	Devices   *DeviceTrustRegistry
	Audit     *AuditLog
	Notifier  Notifier
	Log       logging.Logger
	// Purged counts refresh tokens removed by PurgeExpiredTokens. Optional.
	Purged Adder
}

// SessionOrchestrator drives the login, 2FA, refresh and logout flows.
type SessionOrchestrator struct {
	SessionDeps
}

func NewSessionOrchestrator(deps SessionDeps) *SessionOrchestrator {
	return &SessionOrchestrator{SessionDeps: deps}
}

// Login checks credentials. Unknown emails, wrong passwords and inactive
// accounts are indistinguishable to the caller.
func (o *SessionOrchestrator) Login(ctx context.Context, cred Credentials) (*LoginResult, error) {
	identity, err := o.Repos.Identities(o.Store.Conn()).FindByEmail(ctx, NormalizeEmail(cred.Email))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			o.Hasher.VerifyDummy(cred.Password)
			return nil, common.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("error loading identity: %w", err)
	}
	if !o.Hasher.Verify(cred.Password, identity.PasswordHash) || !identity.Active {
		return nil, common.ErrInvalidCredentials
	}
	o.upgradeHash(ctx, identity, cred.Password)

	deviceID := o.bindDevice(ctx, identity, cred.HardwareID)

	if identity.TOTPEnabled {
		pre, err := o.Codec.IssuePreAuth(identity.Email, deviceID)
		if err != nil {
			return nil, fmt.Errorf("error issuing pre-auth token: %w", err)
		}
		return &LoginResult{TwoFactorRequired: true, PreAuthToken: pre}, nil
	}

	session, err := o.issueSession(ctx, identity, deviceID)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Session: session}, nil
}

// Challenge is Login exposed under the two-factor route.
func (o *SessionOrchestrator) Challenge(ctx context.Context, cred Credentials) (*LoginResult, error) {
	return o.Login(ctx, cred)
}

// Complete2FA exchanges a pre-auth token plus exactly one of a TOTP code or
// a backup code for a session.
func (o *SessionOrchestrator) Complete2FA(ctx context.Context, preAuthToken, code, backupCode string) (*Session, error) {
	claims, err := o.Codec.Verify(preAuthToken)
	if err != nil {
		return nil, err
	}
	if !claims.PreAuth {
		return nil, common.ErrInvalidOrExpiredToken
	}
	if (code == "") == (backupCode == "") {
		return nil, fmt.Errorf("%w: provide exactly one of code or backup_code", common.ErrValidation)
	}

	identity, err := o.Repos.Identities(o.Store.Conn()).FindByEmail(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("error loading identity: %w", err)
	}
	if !identity.Active {
		return nil, common.ErrInvalidCredentials
	}
	if !identity.TOTPEnabled {
		return nil, common.ErrTwoFactorNotEnabled
	}

	var ok bool
	if code != "" {
		ok, err = o.TwoFactor.Check(identity, code)
	} else {
		ok, err = o.TwoFactor.CheckBackup(ctx, identity.ID, backupCode)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, common.ErrInvalidTwoFactorCode
	}
	return o.issueSession(ctx, identity, claims.DeviceID)
}

// Refresh rotates a refresh token and mints a new access token for the same
// identity and device.
func (o *SessionOrchestrator) Refresh(ctx context.Context, value string) (*Session, error) {
	var (
		identity *models.Identity
		access   string
	)
	rot, err := o.Tokens.Rotate(ctx, value, func(ctx context.Context, tx dbx.DBTX, next *models.RefreshToken) error {
		var err error
		identity, err = o.Repos.Identities(tx).FindByID(ctx, next.IdentityID)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrInvalidOrExpiredToken
			}
			return fmt.Errorf("error loading identity: %w", err)
		}
		if !identity.Active {
			return common.ErrInvalidOrExpiredToken
		}
		access, err = o.Codec.IssueAccess(identity.Email, string(identity.Role), deref(next.DeviceID))
		if err != nil {
			return fmt.Errorf("error issuing access token: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.Audit.Emit(ctx, AuditEvent{IdentityID: identity.ID, Action: models.ActionTokenRefreshed, ResourceID: rot.Token.ID})
	return o.session(identity, access, rot.Value), nil
}

// Logout revokes a refresh token. It reports whether a live token was
// revoked; unknown values are not an error.
func (o *SessionOrchestrator) Logout(ctx context.Context, value string) (bool, error) {
	token, flipped, err := o.Tokens.Revoke(ctx, value)
	if err != nil {
		return false, err
	}
	if flipped {
		o.Audit.Emit(ctx, AuditEvent{IdentityID: token.IdentityID, Action: models.ActionTokenRevoked, ResourceID: token.ID})
	}
	return flipped, nil
}

// Authenticate resolves an access token to the current identity. Pre-auth
// tokens are rejected.
func (o *SessionOrchestrator) Authenticate(ctx context.Context, accessToken string) (*Principal, error) {
	claims, err := o.Codec.Verify(accessToken)
	if err != nil {
		return nil, err
	}
	if claims.PreAuth {
		return nil, common.ErrInvalidOrExpiredToken
	}
	identity, err := o.Repos.Identities(o.Store.Conn()).FindByEmail(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidOrExpiredToken
		}
		return nil, fmt.Errorf("error loading identity: %w", err)
	}
	if !identity.Active {
		return nil, common.ErrInvalidOrExpiredToken
	}
	return &Principal{Identity: identity, DeviceID: claims.DeviceID}, nil
}

// RegisterDevice registers hardwareID for the caller and sends the
// verification code. sent is false for already known devices and when the
// notifier fails.
func (o *SessionOrchestrator) RegisterDevice(ctx context.Context, p *Principal, hardwareID, name string) (*models.Device, bool, error) {
	d, code, err := o.Devices.Register(ctx, p.Identity.ID, hardwareID, name)
	if err != nil {
		return nil, false, err
	}
	if code == "" {
		return d, false, nil
	}

	o.Audit.Emit(ctx, AuditEvent{IdentityID: p.Identity.ID, Action: models.ActionDeviceRegistered, ResourceID: d.ID})

	sent := false
	if o.Notifier != nil {
		if err := o.Notifier.SendCode(ctx, p.Identity.Email, code); err != nil {
			o.Log.Warn(ctx, "verification code delivery failed", "device_id", d.ID, "error", err)
		} else {
			sent = true
		}
	}
	return d, sent, nil
}

func (o *SessionOrchestrator) VerifyDevice(ctx context.Context, p *Principal, hardwareID, code string) (*models.Device, error) {
	d, err := o.Devices.Verify(ctx, p.Identity.ID, hardwareID, code)
	if err != nil {
		return nil, err
	}
	o.Audit.Emit(ctx, AuditEvent{IdentityID: p.Identity.ID, Action: models.ActionDeviceVerified, ResourceID: d.ID})
	return d, nil
}

// RevokeDevice deletes the device and revokes its refresh tokens in one
// transaction.
func (o *SessionOrchestrator) RevokeDevice(ctx context.Context, p *Principal, deviceID string) (*models.Device, int64, error) {
	var (
		d       *models.Device
		revoked int64
	)
	err := o.Store.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		d, err = o.Devices.Revoke(ctx, tx, p.Identity.ID, deviceID)
		if err != nil {
			return err
		}
		revoked, err = o.Tokens.RevokeAll(ctx, tx, p.Identity.ID, d.ID)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	o.Audit.Emit(ctx, AuditEvent{IdentityID: p.Identity.ID, Action: models.ActionDeviceRevoked, ResourceID: d.ID})
	return d, revoked, nil
}

func (o *SessionOrchestrator) ListDevices(ctx context.Context, p *Principal) ([]*models.Device, error) {
	return o.Devices.List(ctx, p.Identity.ID)
}

func (o *SessionOrchestrator) SetupTwoFactor(ctx context.Context, p *Principal) (*Enrollment, error) {
	enr, err := o.TwoFactor.Setup(ctx, p.Identity.ID)
	if err != nil {
		return nil, err
	}
	o.Audit.Emit(ctx, AuditEvent{IdentityID: p.Identity.ID, Action: models.ActionTwoFactorSetup})
	return enr, nil
}

func (o *SessionOrchestrator) EnableTwoFactor(ctx context.Context, p *Principal, code string) ([]string, error) {
	codes, err := o.TwoFactor.VerifyAndEnable(ctx, p.Identity.ID, code)
	if err != nil {
		return nil, err
	}
	o.Audit.Emit(ctx, AuditEvent{IdentityID: p.Identity.ID, Action: models.ActionTwoFactorEnabled})
	return codes, nil
}

func (o *SessionOrchestrator) DisableTwoFactor(ctx context.Context, p *Principal, code string) error {
	if err := o.TwoFactor.Disable(ctx, p.Identity.ID, code); err != nil {
		return err
	}
	o.Audit.Emit(ctx, AuditEvent{IdentityID: p.Identity.ID, Action: models.ActionTwoFactorDisabled})
	return nil
}

// PurgeExpiredTokens deletes expired refresh tokens and records the count.
func (o *SessionOrchestrator) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	n, err := o.Tokens.PurgeExpired(ctx)
	if err != nil {
		return 0, err
	}
	if o.Purged != nil {
		o.Purged.Add(float64(n))
	}
	o.Audit.Emit(ctx, AuditEvent{Action: models.ActionTokensPurged, ResourceID: strconv.FormatInt(n, 10)})
	return n, nil
}

// --- helpers below ---

func (o *SessionOrchestrator) issueSession(ctx context.Context, identity *models.Identity, deviceID string) (*Session, error) {
	var (
		value  string
		token  *models.RefreshToken
		access string
	)
	err := o.Store.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		value, token, err = o.Tokens.Issue(ctx, tx, identity.ID, optional(deviceID))
		if err != nil {
			return err
		}
		access, err = o.Codec.IssueAccess(identity.Email, string(identity.Role), deviceID)
		if err != nil {
			return fmt.Errorf("error issuing access token: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.Audit.Emit(ctx, AuditEvent{IdentityID: identity.ID, Action: models.ActionTokenIssued, ResourceID: token.ID})
	return o.session(identity, access, value), nil
}

func (o *SessionOrchestrator) session(identity *models.Identity, access, refresh string) *Session {
	return &Session{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    common.TokenType,
		ExpiresIn:    int64(o.Codec.AccessTTL().Seconds()),
		Identity:     identity,
	}
}

// bindDevice returns the id of the trusted device matching hardwareID, or ""
// when there is none.
func (o *SessionOrchestrator) bindDevice(ctx context.Context, identity *models.Identity, hardwareID string) string {
	if hardwareID == "" {
		return ""
	}
	d, err := o.Devices.FindTrusted(ctx, identity.ID, hardwareID)
	if err != nil {
		if !errors.Is(err, common.ErrDeviceNotFound) {
			o.Log.Warn(ctx, "device lookup failed", "identity_id", identity.ID, "error", err)
		}
		return ""
	}
	if err := o.Devices.Touch(ctx, d.ID); err != nil {
		o.Log.Warn(ctx, "device last-seen update failed", "device_id", d.ID, "error", err)
	}
	return d.ID
}

// upgradeHash re-hashes legacy or weak password hashes after a successful
// login. Failures only cost a retry on the next login.
func (o *SessionOrchestrator) upgradeHash(ctx context.Context, identity *models.Identity, password string) {
	if !o.Hasher.NeedsRehash(identity.PasswordHash) {
		return
	}
	hash, err := o.Hasher.Hash(password)
	if err != nil {
		o.Log.Warn(ctx, "password rehash failed", "identity_id", identity.ID, "error", err)
		return
	}
	if err := o.Repos.Identities(o.Store.Conn()).UpdatePasswordHash(ctx, identity.ID, hash); err != nil {
		o.Log.Warn(ctx, "password rehash failed", "identity_id", identity.ID, "error", err)
		return
	}
	identity.PasswordHash = hash
	o.Log.Info(ctx, "password hash upgraded", "identity_id", identity.ID)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

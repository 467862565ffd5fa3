package httpapi

import (
	"time"

	"github.com/vonjiaina/pharmauth/internal/server/models"
	"github.com/vonjiaina/pharmauth/internal/server/services"
)

type identityView struct {
	ID               string      `json:"id"`
	Email            string      `json:"email"`
	Name             string      `json:"nom"`
	Role             models.Role `json:"role"`
	PharmacyID       *int64      `json:"pharmacie_id,omitempty"`
	Active           bool        `json:"is_active"`
	TwoFactorEnabled bool        `json:"totp_enabled"`
	CreatedAt        time.Time   `json:"created_at"`
}

func newIdentityView(i *models.Identity) identityView {
	return identityView{
		ID:               i.ID,
		Email:            i.Email,
		Name:             i.Name,
		Role:             i.Role,
		PharmacyID:       i.PharmacyID,
		Active:           i.Active,
		TwoFactorEnabled: i.TOTPEnabled,
		CreatedAt:        i.CreatedAt,
	}
}

type sessionView struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	User         identityView `json:"user"`
}

func newSessionView(s *services.Session) sessionView {
	return sessionView{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    s.TokenType,
		ExpiresIn:    s.ExpiresIn,
		User:         newIdentityView(s.Identity),
	}
}

type challengeView struct {
	TwoFactorRequired bool   `json:"two_factor_required"`
	PreAuthToken      string `json:"pre_auth_token"`
}

type deviceView struct {
	ID         string     `json:"id"`
	HardwareID string     `json:"hardware_id"`
	Name       *string    `json:"name"`
	Trusted    bool       `json:"trusted"`
	CreatedAt  time.Time  `json:"created_at"`
	VerifiedAt *time.Time `json:"verified_at"`
	LastSeen   *time.Time `json:"last_seen"`
}

func newDeviceView(d *models.Device) deviceView {
	return deviceView{
		ID:         d.ID,
		HardwareID: d.HardwareID,
		Name:       d.Name,
		Trusted:    d.Trusted,
		CreatedAt:  d.CreatedAt,
		VerifiedAt: d.VerifiedAt,
		LastSeen:   d.LastSeen,
	}
}

type registeredDeviceView struct {
	deviceView
	VerificationSent bool `json:"verification_sent"`
}

type auditView struct {
	ID         int64              `json:"id"`
	IdentityID *string            `json:"identity_id"`
	Action     models.AuditAction `json:"action_type"`
	ResourceID *string            `json:"resource_id"`
	IPAddress  *string            `json:"ip_address"`
	UserAgent  *string            `json:"user_agent"`
	CreatedAt  time.Time          `json:"created_at"`
}

func newAuditViews(entries []*models.AuditEntry) []auditView {
	out := make([]auditView, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditView{
			ID:         e.ID,
			IdentityID: e.IdentityID,
			Action:     e.Action,
			ResourceID: e.ResourceID,
			IPAddress:  e.IPAddress,
			UserAgent:  e.UserAgent,
			CreatedAt:  e.CreatedAt,
		})
	}
	return out
}

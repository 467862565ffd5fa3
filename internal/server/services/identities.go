package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/vonjiaina/pharmauth/internal/common"
	"github.com/vonjiaina/pharmauth/internal/dbx"
	"github.com/vonjiaina/pharmauth/internal/server/models"
	"github.com/vonjiaina/pharmauth/internal/server/repositories/repomanager"
)

// PasswordHasher is implemented by *password.Hasher.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) bool
	NeedsRehash(encoded string) bool
	VerifyDummy(password string)
}

// Registration is the input of IdentityService.Register.
type Registration struct {
	Email      string
	Password   string
	Name       string
	Role       string
	PharmacyID *int64
}

// IdentityService creates and loads accounts.
type IdentityService struct {
	store  dbx.Transactor
	repos  repomanager.RepositoryManager
	hasher PasswordHasher
	audit  *AuditLog
}

func NewIdentityService(store dbx.Transactor, repos repomanager.RepositoryManager, hasher PasswordHasher, audit *AuditLog) *IdentityService {
	return &IdentityService{store: store, repos: repos, hasher: hasher, audit: audit}
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates an identity. Anonymous callers (actor == nil) and
// non-admins may only create user accounts.
func (s *IdentityService) Register(ctx context.Context, actor *Principal, reg Registration) (*models.Identity, error) {
	email := NormalizeEmail(reg.Email)
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, fmt.Errorf("%w: invalid email", common.ErrValidation)
	}
	if reg.Password == "" {
		return nil, fmt.Errorf("%w: password is required", common.ErrValidation)
	}
	name := strings.TrimSpace(reg.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", common.ErrValidation)
	}
	role, err := models.ParseRole(reg.Role)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrValidation, err)
	}
	if role != models.RoleUser && (actor == nil || actor.Identity.Role != models.RoleAdmin) {
		return nil, common.ErrForbidden
	}
	if role == models.RolePharmacy && reg.PharmacyID == nil {
		return nil, fmt.Errorf("%w: pharmacy_id is required for pharmacy accounts", common.ErrValidation)
	}

	hash, err := s.hasher.Hash(reg.Password)
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}
	created, err := s.repos.Identities(s.store.Conn()).Create(ctx, &models.Identity{
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Role:         role,
		PharmacyID:   reg.PharmacyID,
		Active:       true,
	})
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, common.ErrEmailAlreadyRegistered
		}
		return nil, fmt.Errorf("error creating identity: %w", err)
	}

	ev := AuditEvent{Action: models.ActionIdentityRegistered, IdentityID: created.ID, ResourceID: created.ID}
	s.audit.Emit(ctx, ev)
	return created, nil
}

func (s *IdentityService) Get(ctx context.Context, id string) (*models.Identity, error) {
	identity, err := s.repos.Identities(s.store.Conn()).FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("error loading identity: %w", err)
	}
	return identity, nil
}

// CreateAdmin registers an admin account on behalf of the operator. It backs
// the command-line tooling and is not reachable over HTTP.
func (s *IdentityService) CreateAdmin(ctx context.Context, email, name, password string) (*models.Identity, error) {
	operator := &Principal{Identity: &models.Identity{Role: models.RoleAdmin}}
	return s.Register(ctx, operator, Registration{
		Email:    email,
		Password: password,
		Name:     name,
		Role:     string(models.RoleAdmin),
	})
}

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/vonjiaina/pharmauth/internal/dbx"
	"github.com/vonjiaina/pharmauth/internal/logging"
	"github.com/vonjiaina/pharmauth/internal/server/models"
	"github.com/vonjiaina/pharmauth/internal/server/repositories/repomanager"
)

const (
	DefaultAuditLimit = 50
	MaxAuditLimit     = 500
)

type clientKey struct{}

// ClientInfo identifies the caller of a request for audit purposes.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// WithClient attaches the caller's address and user agent to ctx.
func WithClient(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, clientKey{}, ClientInfo{IP: ip, UserAgent: userAgent})
}

// ClientFrom returns the ClientInfo stored by WithClient, if any.
func ClientFrom(ctx context.Context) ClientInfo {
	c, _ := ctx.Value(clientKey{}).(ClientInfo)
	return c
}

// Counter is the slice of prometheus.Counter the audit log needs.
type Counter interface {
	Inc()
}

// Adder is the slice of prometheus.Counter that counts in bulk.
type Adder interface {
	Add(float64)
}

// AuditEvent is what callers record; the log fills in client and time.
type AuditEvent struct {
	IdentityID string
	Action     models.AuditAction
	ResourceID string
}

// AuditLog appends security events.
type AuditLog struct {
	store    dbx.Transactor
	repos    repomanager.RepositoryManager
	log      logging.Logger
	failures Counter
	now      func() time.Time
}

func NewAuditLog(store dbx.Transactor, repos repomanager.RepositoryManager, log logging.Logger, failures Counter) *AuditLog {
	return &AuditLog{store: store, repos: repos, log: log, failures: failures, now: time.Now}
}

// Record inserts one entry and returns its error.
func (a *AuditLog) Record(ctx context.Context, ev AuditEvent) error {
	client := ClientFrom(ctx)
	entry := &models.AuditEntry{
		IdentityID: optional(ev.IdentityID),
		Action:     ev.Action,
		ResourceID: optional(ev.ResourceID),
		IPAddress:  optional(client.IP),
		UserAgent:  optional(client.UserAgent),
		CreatedAt:  a.now().UTC().Truncate(time.Microsecond),
	}
	if _, err := a.repos.Audit(a.store.Conn()).Insert(ctx, entry); err != nil {
		return fmt.Errorf("audit insert: %w", err)
	}
	return nil
}

// Emit records ev without failing the caller. Write failures are logged
// and counted.
func (a *AuditLog) Emit(ctx context.Context, ev AuditEvent) {
	if err := a.Record(ctx, ev); err != nil {
		if a.failures != nil {
			a.failures.Inc()
		}
		a.log.Error(ctx, "audit write failed", "action", string(ev.Action), "identity_id", ev.IdentityID, "error", err)
	}
}

// Recent lists the newest entries. limit is clamped to [1, MaxAuditLimit],
// 0 selecting DefaultAuditLimit.
func (a *AuditLog) Recent(ctx context.Context, limit int) ([]*models.AuditEntry, error) {
	entries, err := a.repos.Audit(a.store.Conn()).Recent(ctx, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("audit recent: %w", err)
	}
	return entries, nil
}

func (a *AuditLog) ForIdentity(ctx context.Context, identityID string, limit int) ([]*models.AuditEntry, error) {
	entries, err := a.repos.Audit(a.store.Conn()).ForIdentity(ctx, identityID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("audit for identity: %w", err)
	}
	return entries, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultAuditLimit
	case limit > MaxAuditLimit:
		return MaxAuditLimit
	default:
		return limit
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

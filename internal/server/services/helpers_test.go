package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
	"github.com/vonjiaina/pharmauth/internal/cryptox"
	"github.com/vonjiaina/pharmauth/internal/dbx"
	"github.com/vonjiaina/pharmauth/internal/logging"
	"github.com/vonjiaina/pharmauth/internal/server/auth"
	"github.com/vonjiaina/pharmauth/internal/server/models"
	"github.com/vonjiaina/pharmauth/internal/server/password"
	"github.com/vonjiaina/pharmauth/internal/server/repositories/audit"
	"github.com/vonjiaina/pharmauth/internal/server/repositories/memory"
	"github.com/vonjiaina/pharmauth/internal/server/repositories/repomanager"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeNotifier struct {
	mu    sync.Mutex
	err   error
	sent  map[string][]string
	calls int
}

func (n *fakeNotifier) SendCode(_ context.Context, destination, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	if n.err != nil {
		return n.err
	}
	if n.sent == nil {
		n.sent = map[string][]string{}
	}
	n.sent[destination] = append(n.sent[destination], code)
	return nil
}

func (n *fakeNotifier) last(destination string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	codes := n.sent[destination]
	if len(codes) == 0 {
		return ""
	}
	return codes[len(codes)-1]
}

type countingCounter struct {
	mu sync.Mutex
	n  int
}

func (c *countingCounter) Inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *countingCounter) Add(v float64) {
	c.mu.Lock()
	c.n += int(v)
	c.mu.Unlock()
}

func (c *countingCounter) value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// brokenAudit wraps the memory store so that every audit insert fails.
type brokenAudit struct {
	*memory.Store
}

func (b brokenAudit) Audit(dbx.DBTX) audit.Repository { return failingAuditRepo{} }

type failingAuditRepo struct{}

func (failingAuditRepo) Insert(context.Context, *models.AuditEntry) (int64, error) {
	return 0, errors.New("audit table unavailable")
}

func (failingAuditRepo) Recent(context.Context, int) ([]*models.AuditEntry, error) { return nil, nil }

func (failingAuditRepo) ForIdentity(context.Context, string, int) ([]*models.AuditEntry, error) {
	return nil, nil
}

type harness struct {
	store      *memory.Store
	repos      repomanager.RepositoryManager
	clock      *fakeClock
	codec      *auth.TokenCodec
	cipher     *cryptox.SecretCipher
	tokens     *RefreshTokenStore
	twoFactor  *TwoFactorManager
	devices    *DeviceTrustRegistry
	audit      *AuditLog
	identities *IdentityService
	orch       *SessionOrchestrator
	notifier   *fakeNotifier
	failures   *countingCounter
	purged     *countingCounter
}

// epoch sits 15 seconds into a TOTP step.
var epoch = time.Unix(1_700_000_010, 0).UTC()

func newHarness(t *testing.T) *harness {
	return newHarnessWithRepos(t, nil)
}

func newHarnessWithRepos(t *testing.T, wrap func(*memory.Store) repomanager.RepositoryManager) *harness {
	t.Helper()

	h := &harness{
		store:    memory.New(),
		clock:    &fakeClock{t: epoch},
		notifier: &fakeNotifier{},
		failures: &countingCounter{},
		purged:   &countingCounter{},
	}
	h.repos = h.store
	if wrap != nil {
		h.repos = wrap(h.store)
	}

	cipher, err := cryptox.NewSecretCipher("", "test-signing-secret")
	require.NoError(t, err)
	h.cipher = cipher

	log := logging.Nop()
	hasher := password.NewHasher(password.Params{Time: 1, MemoryKiB: 1024, Threads: 1})

	h.codec = auth.NewTokenCodec([]byte("test-signing-secret"), "vonjiaina-api", 30*time.Minute).WithClock(h.clock.Now)

	h.tokens = NewRefreshTokenStore(h.store, h.repos, 7*24*time.Hour)
	h.tokens.now = h.clock.Now
	h.twoFactor = NewTwoFactorManager(h.store, h.repos, cipher, "Vonjiaina", 8)
	h.twoFactor.now = h.clock.Now
	h.devices = NewDeviceTrustRegistry(h.store, h.repos)
	h.devices.now = h.clock.Now
	h.audit = NewAuditLog(h.store, h.repos, log, h.failures)
	h.audit.now = h.clock.Now

	h.identities = NewIdentityService(h.store, h.repos, hasher, h.audit)
	h.orch = NewSessionOrchestrator(SessionDeps{
		Store:     h.store,
		Repos:     h.repos,
		Hasher:    hasher,
		Codec:     h.codec,
		Tokens:    h.tokens,
		TwoFactor: h.twoFactor,
		Devices:   h.devices,
		Audit:     h.audit,
		Notifier:  h.notifier,
		Log:       log,
		Purged:    h.purged,
	})
	return h
}

func (h *harness) register(t *testing.T, email, pw string) *models.Identity {
	t.Helper()
	id, err := h.identities.Register(context.Background(), nil, Registration{Email: email, Password: pw, Name: "Test"})
	require.NoError(t, err)
	return id
}

func (h *harness) principal(t *testing.T, identityID string) *Principal {
	t.Helper()
	id, err := h.identities.Get(context.Background(), identityID)
	require.NoError(t, err)
	return &Principal{Identity: id}
}

func (h *harness) totpCode(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, at, totpOpts)
	require.NoError(t, err)
	return code
}

// enable2FA runs setup and verification and returns the plaintext secret
// and backup codes.
func (h *harness) enable2FA(t *testing.T, identityID string) (string, []string) {
	t.Helper()
	ctx := context.Background()
	p := h.principal(t, identityID)

	enr, err := h.orch.SetupTwoFactor(ctx, p)
	require.NoError(t, err)
	codes, err := h.orch.EnableTwoFactor(ctx, p, h.totpCode(t, enr.Secret, h.clock.Now()))
	require.NoError(t, err)
	return enr.Secret, codes
}

func (h *harness) actions(t *testing.T, identityID string) []models.AuditAction {
	t.Helper()
	entries, err := h.audit.ForIdentity(context.Background(), identityID, MaxAuditLimit)
	require.NoError(t, err)
	out := make([]models.AuditAction, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i].Action)
	}
	return out
}

// Package memory is an in-process RepositoryManager and dbx.Transactor used
// by tests and by the server when no database DSN is configured.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/vonjiaina/pharmauth/internal/dbx"
	"github.com/vonjiaina/pharmauth/internal/server/models"
	"github.com/vonjiaina/pharmauth/internal/server/repositories/audit"
	"github.com/vonjiaina/pharmauth/internal/server/repositories/backupcodes"
	"github.com/vonjiaina/pharmauth/internal/server/repositories/devices"
	"github.com/vonjiaina/pharmauth/internal/server/repositories/identities"
	"github.com/vonjiaina/pharmauth/internal/server/repositories/refreshtokens"
)

var errNoSQL = errors.New("memory store does not execute SQL")

// handle satisfies dbx.DBTX so services can pass it around like a pool or a
// transaction. The repositories never call it.
type handle struct{}

func (handle) ExecContext(context.Context, string, ...any) (sql.Result, error) {
	return nil, errNoSQL
}

func (handle) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, errNoSQL
}

func (handle) QueryRowContext(context.Context, string, ...any) *sql.Row {
	return nil
}

type state struct {
	identities map[string]models.Identity
	tokens     map[string]models.RefreshToken
	devices    map[string]models.Device
	codes      map[string]models.BackupCode
	audit      []models.AuditEntry
	auditSeq   int64
}

func newState() state {
	return state{
		identities: map[string]models.Identity{},
		tokens:     map[string]models.RefreshToken{},
		devices:    map[string]models.Device{},
		codes:      map[string]models.BackupCode{},
	}
}

// txHandle is the handle WithTx passes to fn. Repositories bound to it
// record an inverse step for every write so a failed transaction can undo
// its own changes without touching writes committed through Conn.
type txHandle struct {
	handle
	undo []func(st *state)
}

// record is called with the store mutex held. A nil receiver means the
// repository is bound to Conn and the write commits immediately.
func (t *txHandle) record(step func(st *state)) {
	if t != nil {
		t.undo = append(t.undo, step)
	}
}

func txOf(db dbx.DBTX) *txHandle {
	tx, _ := db.(*txHandle)
	return tx
}

// Store keeps every record in maps guarded by a mutex. Transactions are
// serialized and roll back by replaying their undo log in reverse.
type Store struct {
	txMu sync.Mutex

	mu sync.Mutex
	st state
}

func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) Conn() dbx.DBTX { return handle{} }

// WithTx runs fn under the transaction lock. If fn fails or panics every
// change made through tx is undone.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) (err error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &txHandle{}
	defer func() {
		if p := recover(); p != nil {
			s.rollback(tx)
			panic(p)
		}
		if err != nil {
			s.rollback(tx)
		}
	}()

	return fn(ctx, tx)
}

func (s *Store) rollback(tx *txHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i](&s.st)
	}
	tx.undo = nil
}

// RunMigrations is a no-op; the schema is the Go types.
func (s *Store) RunMigrations(context.Context, *sql.DB) error { return nil }

func (s *Store) Identities(db dbx.DBTX) identities.Repository { return &identityRepo{s: s, tx: txOf(db)} }

func (s *Store) RefreshTokens(db dbx.DBTX) refreshtokens.Repository { return &tokenRepo{s: s, tx: txOf(db)} }

func (s *Store) Devices(db dbx.DBTX) devices.Repository { return &deviceRepo{s: s, tx: txOf(db)} }

func (s *Store) BackupCodes(db dbx.DBTX) backupcodes.Repository { return &backupCodeRepo{s: s, tx: txOf(db)} }

func (s *Store) Audit(db dbx.DBTX) audit.Repository { return &auditRepo{s: s, tx: txOf(db)} }

func (s *Store) locked(fn func(st *state)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.st)
}

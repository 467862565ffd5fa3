package repomanager

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pressly/goose/v3"
	"github.com/vonjiaina/pharmauth/internal/server/repositories/audit"
	"github.com/vonjiaina/pharmauth/internal/server/repositories/backupcodes"
	"github.com/vonjiaina/pharmauth/internal/server/repositories/devices"
	"github.com/vonjiaina/pharmauth/internal/server/repositories/identities"
	"github.com/vonjiaina/pharmauth/internal/server/repositories/refreshtokens"
)

func newDB(t *testing.T) *sql.DB {
	t.Helper()
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNewPostgresRepositoryManager_ImplementsInterface(t *testing.T) {
	var _ RepositoryManager = NewPostgresRepositoryManager()
}

func TestFactories_ReturnPostgresRepos(t *testing.T) {
	db := newDB(t)
	m := NewPostgresRepositoryManager()

	if _, ok := m.Identities(db).(*identities.PostgresRepository); !ok {
		t.Fatal("Identities() is not the postgres repository")
	}
	if _, ok := m.RefreshTokens(db).(*refreshtokens.PostgresRepository); !ok {
		t.Fatal("RefreshTokens() is not the postgres repository")
	}
	if _, ok := m.Devices(db).(*devices.PostgresRepository); !ok {
		t.Fatal("Devices() is not the postgres repository")
	}
	if _, ok := m.BackupCodes(db).(*backupcodes.PostgresRepository); !ok {
		t.Fatal("BackupCodes() is not the postgres repository")
	}
	if _, ok := m.Audit(db).(*audit.PostgresRepository); !ok {
		t.Fatal("Audit() is not the postgres repository")
	}
}

func TestRunMigrations_Success(t *testing.T) {
	db := newDB(t)

	orig := gooseUpContext
	called := false
	gooseUpContext = func(ctx context.Context, got *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		called = true
		if got != db {
			return errors.New("unexpected db")
		}
		if dir != "." {
			return errors.New("unexpected dir")
		}
		return nil
	}
	t.Cleanup(func() { gooseUpContext = orig })

	if err := NewPostgresRepositoryManager().RunMigrations(context.Background(), db); err != nil {
		t.Fatalf("RunMigrations error: %v", err)
	}
	if !called {
		t.Fatal("goose was not invoked")
	}
}

func TestRunMigrations_Error(t *testing.T) {
	db := newDB(t)

	orig := gooseUpContext
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return errors.New("boom")
	}
	t.Cleanup(func() { gooseUpContext = orig })

	err := NewPostgresRepositoryManager().RunMigrations(context.Background(), db)
	if err == nil || err.Error() != "boom" {
		t.Fatalf("expected boom, got %v", err)
	}
}

package server

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vonjiaina/pharmauth/internal/server/config"
	"github.com/vonjiaina/pharmauth/internal/server/services"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	c := &config.Config{}
	c.LoadDefaults()
	c.DatabaseDSN = ""
	c.ListenAddr = "127.0.0.1:0"
	c.LogLevel = "error"
	c.Argon2MemoryKiB = 8 * 1024
	c.Argon2Threads = 1
	return c
}

func TestNewApp_MemoryStore(t *testing.T) {
	ctx := context.Background()
	app, err := NewApp(ctx, memoryConfig(t))
	require.NoError(t, err)
	defer app.Close()

	_, err = app.Identities().Register(ctx, nil, services.Registration{Email: "a@example.com", Password: "pw", Name: "A"})
	require.NoError(t, err)

	res, err := app.Sessions().Login(ctx, services.Credentials{Email: "a@example.com", Password: "pw"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Session.RefreshToken)

	n, err := app.PurgeTokens(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	entries, err := app.Audit().Recent(ctx, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestNewApp_BadTOTPKey(t *testing.T) {
	c := memoryConfig(t)
	c.TOTPEncryptionKey = "not base64!"
	_, err := NewApp(context.Background(), c)
	assert.ErrorContains(t, err, "totp cipher")
}

func TestNewApp_DatabaseUnreachable(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	mock.ExpectClose()

	orig := openDB
	openDB = func(string) (*sql.DB, error) { return db, nil }
	defer func() { openDB = orig }()

	c := memoryConfig(t)
	c.DatabaseDSN = "postgres://nowhere"
	_, err = NewApp(context.Background(), c)
	assert.ErrorContains(t, err, "db init error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInitSignalHandler_ExitsOnCancel(t *testing.T) {
	app := &App{}
	ctx, cancel := context.WithCancel(context.Background())

	var fired atomic.Bool
	done := app.initSignalHandler(ctx, func() { fired.Store(true) })
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("signal watcher still running after cancel")
	}
	assert.False(t, fired.Load())
}

func TestPurgeTokens_CountsOnce(t *testing.T) {
	ctx := context.Background()
	c := memoryConfig(t)
	c.RefreshTokenValidityDuration = time.Millisecond
	app, err := NewApp(ctx, c)
	require.NoError(t, err)
	defer app.Close()

	_, err = app.Identities().Register(ctx, nil, services.Registration{Email: "p@example.com", Password: "pw", Name: "P"})
	require.NoError(t, err)
	_, err = app.Sessions().Login(ctx, services.Credentials{Email: "p@example.com", Password: "pw"})
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	n, err := app.PurgeTokens(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, 1.0, testutil.ToFloat64(app.metrics.TokensPurged))
}

func TestRun_StopsOnCancel(t *testing.T) {
	app, err := NewApp(context.Background(), memoryConfig(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		app.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

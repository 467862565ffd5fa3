// Package server wires configuration, storage and the auth services into a
// running HTTP server. It also owns the periodic refresh-token purge.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/vonjiaina/pharmauth/internal/cryptox"
	"github.com/vonjiaina/pharmauth/internal/dbx"
	"github.com/vonjiaina/pharmauth/internal/logging"
	"github.com/vonjiaina/pharmauth/internal/server/auth"
	"github.com/vonjiaina/pharmauth/internal/server/config"
	"github.com/vonjiaina/pharmauth/internal/server/httpapi"
	"github.com/vonjiaina/pharmauth/internal/server/metrics"
	"github.com/vonjiaina/pharmauth/internal/server/mirror"
	"github.com/vonjiaina/pharmauth/internal/server/notify"
	"github.com/vonjiaina/pharmauth/internal/server/password"
	"github.com/vonjiaina/pharmauth/internal/server/repositories/memory"
	"github.com/vonjiaina/pharmauth/internal/server/repositories/repomanager"
	"github.com/vonjiaina/pharmauth/internal/server/services"
)

const retryBackoff = 50 * time.Millisecond

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	store   dbx.Transactor
	repos   repomanager.RepositoryManager
	metrics *metrics.Metrics

	identities *services.IdentityService
	sessions   *services.SessionOrchestrator
	audit      *services.AuditLog
	mirror     *mirror.Mirror
}

// openDB is a seam for tests.
var openDB = func(dsn string) (*sql.DB, error) {
	return sql.Open("pgx", dsn)
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)
	app := &App{config: c, logger: logger, metrics: metrics.New()}

	if c.UsesDefaultSecret() {
		logger.Warn(ctx, "using the development signing secret; set SECRET_KEY in production")
	}

	if err := app.initStorage(ctx); err != nil {
		return nil, err
	}

	cipher, err := cryptox.NewSecretCipher(c.TOTPEncryptionKey, c.SecretKey)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("totp cipher: %w", err)
	}
	if cipher.DerivedFromSigningSecret() {
		logger.Warn(ctx, "TOTP encryption key derived from the signing secret; set TOTP_ENCRYPTION_KEY in production")
	}

	sink, err := app.snapshotSink(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}

	hasher := password.NewHasher(password.Params{
		Time:      c.Argon2Time,
		MemoryKiB: c.Argon2MemoryKiB,
		Threads:   c.Argon2Threads,
	})
	codec := auth.NewTokenCodec([]byte(c.SecretKey), c.Issuer, c.AccessTokenValidityDuration)

	app.audit = services.NewAuditLog(app.store, app.repos, logger.With("module", "audit"), app.metrics.AuditWriteFailures)
	app.identities = services.NewIdentityService(app.store, app.repos, hasher, app.audit)
	app.sessions = services.NewSessionOrchestrator(services.SessionDeps{
		Store:     app.store,
		Repos:     app.repos,
		Hasher:    hasher,
		Codec:     codec,
		Tokens:    services.NewRefreshTokenStore(app.store, app.repos, c.RefreshTokenValidityDuration),
		TwoFactor: services.NewTwoFactorManager(app.store, app.repos, cipher, c.TOTPIssuer, c.BackupCodeCount),
		Devices:   services.NewDeviceTrustRegistry(app.store, app.repos),
		Audit:     app.audit,
		Notifier:  notify.NewCounting(app.notifier(), app.metrics.NotificationsSent),
		Log:       logger.With("module", "sessions"),
		Purged:    app.metrics.TokensPurged,
	})
	app.mirror = mirror.New(app.store, app.repos, sink, app.metrics.MirroredIdentities)

	return app, nil
}

// initStorage opens PostgreSQL and applies migrations, or falls back to the
// in-memory store when no DSN is configured.
func (app *App) initStorage(ctx context.Context) error {
	if app.config.DatabaseDSN == "" {
		app.logger.Warn(ctx, "no database DSN configured; using the in-memory store")
		mem := memory.New()
		app.store, app.repos = mem, mem
		return nil
	}

	db, err := openDB(app.config.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("db init error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("db init error: %w", err)
	}

	repos := repomanager.NewPostgresRepositoryManager()
	if err := repos.RunMigrations(ctx, db); err != nil {
		db.Close()
		return fmt.Errorf("db migration error: %w", err)
	}

	app.db = db
	app.repos = repos
	app.store = dbx.NewSQLTransactor(db, app.config.DBRetryAttempts, retryBackoff)
	return nil
}

func (app *App) notifier() notify.Notifier {
	if app.config.AMQPURL == "" {
		return notify.NewLogNotifier(app.logger.With("module", "notify"))
	}
	return notify.NewAMQPNotifier(app.config.AMQPURL, app.config.NotifyQueue)
}

func (app *App) snapshotSink(ctx context.Context) (mirror.SnapshotSink, error) {
	c := app.config
	if c.S3Bucket == "" {
		return mirror.NewLogSink(app.logger.With("module", "mirror")), nil
	}
	sink, err := mirror.NewS3Sink(ctx, mirror.S3Config{
		Region:       c.S3Region,
		AccessKey:    c.S3RootUser,
		SecretKey:    c.S3RootPassword,
		BaseEndpoint: c.S3BaseEndpoint,
		Bucket:       c.S3Bucket,
		Prefix:       c.S3Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 init error: %w", err)
	}
	return sink, nil
}

func (app *App) Identities() *services.IdentityService { return app.identities }
func (app *App) Sessions() *services.SessionOrchestrator { return app.sessions }
func (app *App) Audit() *services.AuditLog { return app.audit }
func (app *App) Logger() logging.Logger { return app.logger }

// PurgeTokens deletes expired refresh tokens.
func (app *App) PurgeTokens(ctx context.Context) (int64, error) {
	return app.sessions.PurgeExpiredTokens(ctx)
}

// Close releases the database pool, if any.
func (app *App) Close() {
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error(context.Background(), "closing database", "error", err)
		}
		app.db = nil
	}
}

// initSignalHandler cancels on the first termination signal. The returned
// channel closes once the watcher goroutine has exited and stopped
// signal delivery.
func (app *App) initSignalHandler(ctx context.Context, cancelFunc context.CancelFunc) <-chan struct{} {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer signal.Stop(sigs)
		select {
		case <-sigs:
			cancelFunc()
		case <-ctx.Done():
		}
	}()
	return done
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := httpapi.NewServer(app.config.ListenAddr, httpapi.Deps{
		Sessions:   app.sessions,
		Identities: app.identities,
		Audit:      app.audit,
		Mirror:     app.mirror,
		Metrics:    app.metrics,
		Log:        app.logger,
	})

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) runPurgeLoop(ctx context.Context) {
	interval := app.config.PurgeInterval
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := app.PurgeTokens(ctx)
			if err != nil {
				app.logger.Error(ctx, "refresh token purge failed", "error", err)
				continue
			}
			app.logger.Info(ctx, "expired refresh tokens purged", "count", n)
		}
	}
}

// Run serves until ctx is cancelled or a termination signal arrives.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	sigDone := app.initSignalHandler(ctx, cancelFunc)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.runPurgeLoop(ctx)
	}()

	wg.Wait()
	cancelFunc()
	<-sigDone
	app.Close()
	app.logger.Info(context.Background(), "App stopped")
}

// Package httpapi exposes the session flows over HTTP with echo.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/vonjiaina/pharmauth/internal/logging"
	"github.com/vonjiaina/pharmauth/internal/server/metrics"
	"github.com/vonjiaina/pharmauth/internal/server/mirror"
	"github.com/vonjiaina/pharmauth/internal/server/services"
)

// APIPrefix is the mount point of every versioned route.
const APIPrefix = "/api/v1"

const shutdownTimeout = 10 * time.Second

// Deps are the collaborators behind the handlers.
type Deps struct {
	Sessions   *services.SessionOrchestrator
	Identities *services.IdentityService
	Audit      *services.AuditLog
	Mirror     *mirror.Mirror
	Metrics    *metrics.Metrics
	Log        logging.Logger
}

type Server struct {
	address string
	echo    *echo.Echo
	logger  logging.Logger
}

func NewServer(address string, d Deps) *Server {
	h := &handlers{Deps: d, logger: d.Log.With("module", "http_server")}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = h.handleError

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(h.observe)
	e.Use(middleware.Recover())
	e.Use(clientInfo)

	h.routes(e)

	return &Server{address: address, echo: e, logger: h.logger}
}

// Handler returns the root handler, for httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "http shutdown", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := s.echo.Start(s.address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type handlers struct {
	Deps
	logger logging.Logger
}

func (h *handlers) routes(e *echo.Echo) {
	e.GET("/health", h.health)
	if h.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(h.Metrics.Handler()))
	}

	api := e.Group(APIPrefix)

	a := api.Group("/auth")
	a.POST("/register", h.register, h.optionalAuth)
	a.POST("/login", h.login)
	a.POST("/2fa/challenge", h.challenge)
	a.POST("/2fa/complete", h.complete2FA)
	a.POST("/refresh", h.refresh)
	a.POST("/logout", h.logout)
	a.GET("/me", h.me, h.requireAuth)
	a.POST("/2fa/setup", h.setup2FA, h.requireAuth)
	a.POST("/2fa/verify", h.verify2FA, h.requireAuth)
	a.POST("/2fa/disable", h.disable2FA, h.requireAuth)

	d := api.Group("/devices", h.requireAuth)
	d.POST("", h.registerDevice)
	d.POST("/verify", h.verifyDevice)
	d.GET("", h.listDevices)
	d.DELETE("/:id", h.revokeDevice)

	adm := api.Group("/admin", h.requireAuth, requireAdmin)
	adm.GET("/audit", h.listAudit)
	adm.POST("/sync", h.syncIdentities)
	adm.POST("/tokens/purge", h.purgeTokens)
}

func (h *handlers) health(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

package httpapi

import (
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/vonjiaina/pharmauth/internal/common"
	"github.com/vonjiaina/pharmauth/internal/server/models"
	"github.com/vonjiaina/pharmauth/internal/server/services"
)

const principalKey = "principal"

// observe logs every request and records the HTTP metrics. Errors are
// rendered here so the logged status is the one sent.
func (h *handlers) observe(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.Metrics != nil {
			h.Metrics.HTTPInFlight.Inc()
			defer h.Metrics.HTTPInFlight.Dec()
		}
		start := time.Now()

		if err := next(c); err != nil {
			c.Error(err)
		}

		elapsed := time.Since(start)
		req := c.Request()
		status := c.Response().Status
		route := c.Path()
		if route == "" {
			route = "unmatched"
		}

		if h.Metrics != nil {
			code := strconv.Itoa(status)
			h.Metrics.HTTPRequestsTotal.WithLabelValues(req.Method, route, code).Inc()
			h.Metrics.HTTPRequestDuration.WithLabelValues(req.Method, route, code).Observe(elapsed.Seconds())
		}

		h.logger.Info(req.Context(), "http request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
			"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
		)
		return nil
	}
}

// clientInfo stores the caller's address and user agent for audit entries.
func clientInfo(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		ctx := services.WithClient(req.Context(), c.RealIP(), req.UserAgent())
		c.SetRequest(req.WithContext(ctx))
		return next(c)
	}
}

func bearerToken(c echo.Context) (string, bool) {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func (h *handlers) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, ok := bearerToken(c)
		if !ok {
			return common.ErrInvalidOrExpiredToken
		}
		p, err := h.Sessions.Authenticate(c.Request().Context(), token)
		if err != nil {
			return err
		}
		c.Set(principalKey, p)
		return next(c)
	}
}

// optionalAuth resolves a bearer when one is sent. A bad token is still
// rejected.
func (h *handlers) optionalAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if c.Request().Header.Get(echo.HeaderAuthorization) == "" {
			return next(c)
		}
		return h.requireAuth(next)(c)
	}
}

func requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		p := principal(c)
		if p == nil || p.Identity.Role != models.RoleAdmin {
			return common.ErrForbidden
		}
		return next(c)
	}
}

func principal(c echo.Context) *services.Principal {
	p, _ := c.Get(principalKey).(*services.Principal)
	return p
}

package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/vonjiaina/pharmauth/internal/common"
	"github.com/vonjiaina/pharmauth/internal/server/models"
)

type syncRequest struct {
	Since *time.Time `json:"since"`
}

func (h *handlers) listAudit(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return fmt.Errorf("%w: limit must be a non-negative integer", common.ErrValidation)
		}
		limit = n
	}

	ctx := c.Request().Context()
	var (
		entries []*models.AuditEntry
		err     error
	)
	if id := c.QueryParam("identity_id"); id != "" {
		entries, err = h.Audit.ForIdentity(ctx, id, limit)
	} else {
		entries, err = h.Audit.Recent(ctx, limit)
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newAuditViews(entries))
}

func (h *handlers) syncIdentities(c echo.Context) error {
	if h.Mirror == nil {
		return errors.New("identity mirror not configured")
	}
	var req syncRequest
	if c.Request().ContentLength != 0 {
		if err := bind(c, &req); err != nil {
			return err
		}
	}
	n, err := h.Mirror.SyncIdentities(c.Request().Context(), req.Since)
	if err != nil {
		return fmt.Errorf("identity sync: %w", err)
	}
	return c.JSON(http.StatusOK, echo.Map{"identities": n})
}

func (h *handlers) purgeTokens(c echo.Context) error {
	n, err := h.Sessions.PurgeExpiredTokens(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"purged": n})
}

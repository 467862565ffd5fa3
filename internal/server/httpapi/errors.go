package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/vonjiaina/pharmauth/internal/common"
)

type errorBody struct {
	Detail string `json:"detail"`
}

// errorTable maps service errors to a status and the message shown to the
// client. First match wins.
var errorTable = []struct {
	target error
	status int
	detail string
}{
	{common.ErrInvalidCredentials, http.StatusUnauthorized, "invalid credentials"},
	{common.ErrInvalidOrExpiredToken, http.StatusUnauthorized, "invalid or expired token"},
	{common.ErrInvalidTwoFactorCode, http.StatusUnauthorized, "invalid two-factor code"},
	{common.ErrForbidden, http.StatusForbidden, "forbidden"},
	{common.ErrEmailAlreadyRegistered, http.StatusConflict, "email already registered"},
	{common.ErrTwoFactorAlreadyEnabled, http.StatusConflict, "two-factor authentication already enabled"},
	{common.ErrTwoFactorNotInitialized, http.StatusBadRequest, "two-factor authentication not initialized"},
	{common.ErrTwoFactorNotEnabled, http.StatusBadRequest, "two-factor authentication not enabled"},
	{common.ErrNoVerificationCodePending, http.StatusBadRequest, "no verification code pending"},
	{common.ErrInvalidVerificationCode, http.StatusBadRequest, "invalid verification code"},
	{common.ErrDeviceNotFound, http.StatusNotFound, "device not found"},
	{common.ErrorNotFound, http.StatusNotFound, "not found"},
	{common.ErrDecryptionFailure, http.StatusInternalServerError, "two-factor authentication unavailable"},
}

// classify returns the status and client message for err. Anything not
// listed is an opaque 500.
func classify(err error) (int, string) {
	if errors.Is(err, common.ErrValidation) {
		return http.StatusBadRequest, err.Error()
	}
	for _, e := range errorTable {
		if errors.Is(err, e.target) {
			return e.status, e.detail
		}
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if msg, ok := he.Message.(string); ok && he.Code < http.StatusInternalServerError {
			return he.Code, msg
		}
		return he.Code, http.StatusText(he.Code)
	}
	return http.StatusInternalServerError, "internal error"
}

func (h *handlers) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, detail := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(c.Request().Context(), "request failed",
			"error", err,
			"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
		)
	}
	if status == http.StatusUnauthorized {
		c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
	}

	var werr error
	if c.Request().Method == http.MethodHead {
		werr = c.NoContent(status)
	} else {
		werr = c.JSON(status, errorBody{Detail: detail})
	}
	if werr != nil {
		h.logger.Error(c.Request().Context(), "writing error response", "error", werr)
	}
}

package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/vonjiaina/pharmauth/internal/common"
	"github.com/vonjiaina/pharmauth/internal/server/services"
)

type registerRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	PharmacyID *int64 `json:"pharmacy_id"`
}

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	HardwareID string `json:"hardware_id"`
}

type completeRequest struct {
	PreAuthToken string `json:"pre_auth_token"`
	Code         string `json:"code"`
	BackupCode   string `json:"backup_code"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type codeRequest struct {
	Code string `json:"code"`
}

// bind decodes the JSON body. Any decoding failure is a validation error.
func bind(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return fmt.Errorf("%w: malformed request body", common.ErrValidation)
	}
	return nil
}

func (h *handlers) register(c echo.Context) error {
	var req registerRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	identity, err := h.Identities.Register(c.Request().Context(), principal(c), services.Registration{
		Email:      req.Email,
		Password:   req.Password,
		Name:       req.Name,
		Role:       req.Role,
		PharmacyID: req.PharmacyID,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, newIdentityView(identity))
}

func (h *handlers) login(c echo.Context) error {
	return h.authenticate(c, h.Sessions.Login)
}

func (h *handlers) challenge(c echo.Context) error {
	return h.authenticate(c, h.Sessions.Challenge)
}

func (h *handlers) authenticate(c echo.Context, flow func(context.Context, services.Credentials) (*services.LoginResult, error)) error {
	var req loginRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	res, err := flow(c.Request().Context(), services.Credentials{
		Email:      req.Email,
		Password:   req.Password,
		HardwareID: req.HardwareID,
	})
	if err != nil {
		return err
	}
	if res.TwoFactorRequired {
		return c.JSON(http.StatusOK, challengeView{TwoFactorRequired: true, PreAuthToken: res.PreAuthToken})
	}
	return c.JSON(http.StatusOK, newSessionView(res.Session))
}

func (h *handlers) complete2FA(c echo.Context) error {
	var req completeRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	s, err := h.Sessions.Complete2FA(c.Request().Context(), req.PreAuthToken, req.Code, req.BackupCode)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newSessionView(s))
}

func (h *handlers) refresh(c echo.Context) error {
	var req refreshRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	s, err := h.Sessions.Refresh(c.Request().Context(), req.RefreshToken)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newSessionView(s))
}

func (h *handlers) logout(c echo.Context) error {
	var req refreshRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	revoked, err := h.Sessions.Logout(c.Request().Context(), req.RefreshToken)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"revoked": revoked})
}

func (h *handlers) me(c echo.Context) error {
	return c.JSON(http.StatusOK, newIdentityView(principal(c).Identity))
}

func (h *handlers) setup2FA(c echo.Context) error {
	enr, err := h.Sessions.SetupTwoFactor(c.Request().Context(), principal(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"otpauth_url": enr.OTPAuthURL, "secret": enr.Secret})
}

func (h *handlers) verify2FA(c echo.Context) error {
	var req codeRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	codes, err := h.Sessions.EnableTwoFactor(c.Request().Context(), principal(c), req.Code)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"backup_codes": codes})
}

func (h *handlers) disable2FA(c echo.Context) error {
	var req codeRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.Sessions.DisableTwoFactor(c.Request().Context(), principal(c), req.Code); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type registerDeviceRequest struct {
	HardwareID string `json:"hardware_id"`
	Name       string `json:"name"`
}

type verifyDeviceRequest struct {
	HardwareID       string `json:"hardware_id"`
	VerificationCode string `json:"verification_code"`
}

func (h *handlers) registerDevice(c echo.Context) error {
	var req registerDeviceRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	d, sent, err := h.Sessions.RegisterDevice(c.Request().Context(), principal(c), req.HardwareID, req.Name)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, registeredDeviceView{deviceView: newDeviceView(d), VerificationSent: sent})
}

func (h *handlers) verifyDevice(c echo.Context) error {
	var req verifyDeviceRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	d, err := h.Sessions.VerifyDevice(c.Request().Context(), principal(c), req.HardwareID, req.VerificationCode)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newDeviceView(d))
}

func (h *handlers) listDevices(c echo.Context) error {
	devices, err := h.Sessions.ListDevices(c.Request().Context(), principal(c))
	if err != nil {
		return err
	}
	out := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		out = append(out, newDeviceView(d))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *handlers) revokeDevice(c echo.Context) error {
	d, revoked, err := h.Sessions.RevokeDevice(c.Request().Context(), principal(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"id": d.ID, "revoked_tokens": revoked})
}

package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"flick_kiosk/internal/services"
)

type AuthHandler struct {
	auth *services.AuthClient
}

func NewAuthHandler(auth *services.AuthClient) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// Register signs the kiosk in from a registration QR payload scanned by
// booth staff.
func (h *AuthHandler) Register(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil || req.Code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "registration code is required")
	}
	if err := h.auth.RegisterWithCode(c.Request().Context(), req.Code); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, "registration failed")
	}
	return c.JSON(http.StatusOK, map[string]bool{"signed_in": true})
}

func (h *AuthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]bool{"signed_in": h.auth.SignedIn()})
}

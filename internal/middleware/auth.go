package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// RequireKioskToken guards the local API so only the paired display shell can
// drive the kiosk. The shell presents the shared token either as a bearer
// header or as X-Kiosk-Token. An empty configured token disables the guard
// (bench setups without a provisioned shell).
func RequireKioskToken(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if token == "" {
				return next(c)
			}

			presented := c.Request().Header.Get("X-Kiosk-Token")
			if presented == "" {
				auth := c.Request().Header.Get(echo.HeaderAuthorization)
				presented = strings.TrimPrefix(auth, "Bearer ")
			}

			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid kiosk token")
			}
			return next(c)
		}
	}
}

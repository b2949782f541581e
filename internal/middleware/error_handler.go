package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"flick_kiosk/internal/services"
)

// ErrorResponse is the JSON body the display shell receives for any failed
// call. Recovery tells it whether to offer a retry or to send the customer
// back to the catalog.
type ErrorResponse struct {
	Error    string `json:"error"`
	Code     string `json:"code,omitempty"`
	Recovery string `json:"recovery,omitempty"`
}

// JSONErrorHandler turns handler errors into the shell's error contract.
// Backend errors keep their taxonomy code and recovery action; everything
// else collapses to a generic message so the kiosk never renders internals.
func JSONErrorHandler(logger *zap.SugaredLogger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		body := ErrorResponse{Error: "Something went wrong. Please try again later."}

		var apiErr *services.APIError
		var httpErr *echo.HTTPError
		switch {
		case errors.As(err, &apiErr):
			status = apiErr.HTTPStatus
			if status < 400 || status > 599 {
				status = http.StatusBadGateway
			}
			body = ErrorResponse{
				Error:    apiErr.UserMessage(),
				Code:     apiErr.Code,
				Recovery: string(apiErr.Recovery()),
			}
		case errors.Is(err, services.ErrInvalidStudentID):
			status = http.StatusUnprocessableEntity
			body = ErrorResponse{Error: err.Error(), Recovery: string(services.RecoveryRetry)}
		case errors.Is(err, services.ErrEmptyCart):
			status = http.StatusConflict
			body = ErrorResponse{Error: err.Error(), Recovery: string(services.RecoveryReturnToCatalog)}
		case errors.As(err, &httpErr):
			status = httpErr.Code
			if msg, ok := httpErr.Message.(string); ok && msg != "" {
				body.Error = msg
			}
		}

		logger.Warnw("request failed",
			"method", c.Request().Method, "path", c.Request().URL.Path,
			"status", status, "err", err)

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		_ = c.JSON(status, body)
	}
}

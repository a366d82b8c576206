package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"warelay/internal/service"
)

// SuccessResponse writes the standard success envelope.
func SuccessResponse(c echo.Context, status int, message string, data interface{}) error {
	return c.JSON(status, map[string]interface{}{
		"success": true,
		"message": message,
		"data":    data,
	})
}

// ErrorResponse writes the standard error envelope.
func ErrorResponse(c echo.Context, status int, message, code, detail string) error {
	return c.JSON(status, map[string]interface{}{
		"success": false,
		"message": message,
		"error": map[string]string{
			"code":   code,
			"detail": detail,
		},
	})
}

// serviceError maps the service error taxonomy onto HTTP responses;
// anything unrecognized is a plain transport failure.
func serviceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrNotConnected):
		return ErrorResponse(c, http.StatusNotFound, "No active session for this identity", "NOT_CONNECTED", err.Error())
	case errors.Is(err, service.ErrNotReady):
		return ErrorResponse(c, http.StatusConflict, "Session is not ready yet", "NOT_READY", err.Error())
	case errors.Is(err, service.ErrAmbiguousTarget):
		return ErrorResponse(c, http.StatusBadRequest, "Invalid target address", "AMBIGUOUS_TARGET", err.Error())
	case errors.Is(err, service.ErrConnectionClosed):
		return ErrorResponse(c, http.StatusBadGateway, "Connection closed, message not delivered", "CONNECTION_CLOSED", err.Error())
	default:
		return ErrorResponse(c, http.StatusInternalServerError, "Operation failed", "TRANSPORT_ERROR", err.Error())
	}
}

package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"warelay/internal/service"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// POST /login
func Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return ErrorResponse(c, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	if err := service.Authenticate(req.Username, req.Password); err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			return ErrorResponse(c, http.StatusUnauthorized, "Invalid username or password", "INVALID_CREDENTIALS", "")
		}
		return ErrorResponse(c, http.StatusInternalServerError, "Login failed", "LOGIN_FAILED", err.Error())
	}

	token, err := service.GenerateAccessToken(req.Username)
	if err != nil {
		return ErrorResponse(c, http.StatusInternalServerError, "Failed to issue token", "TOKEN_FAILED", err.Error())
	}

	return SuccessResponse(c, http.StatusOK, "Login successful", map[string]interface{}{
		"access_token": token,
	})
}

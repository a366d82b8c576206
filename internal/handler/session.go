package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"warelay/internal/model"
	"warelay/internal/service"
)

type ConnectRequest struct {
	Name               string `json:"name"`
	WebhookURL         string `json:"webhook_url"`
	WebhookVerifyToken string `json:"webhook_verify_token"`
	IncludeMedia       bool   `json:"include_media"`
	FullHistorySync    bool   `json:"full_history_sync"`
	IgnoreGroups       bool   `json:"ignore_groups"`
}

func (r ConnectRequest) options() model.SessionOptions {
	return model.SessionOptions{
		Name:               r.Name,
		WebhookURL:         r.WebhookURL,
		WebhookVerifyToken: r.WebhookVerifyToken,
		IncludeMedia:       r.IncludeMedia,
		FullHistorySync:    r.FullHistorySync,
		IgnoreGroups:       r.IgnoreGroups,
	}
}

// POST /connect/:identity
func Connect(registry *service.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		identity := c.Param("identity")
		if identity == "" {
			return ErrorResponse(c, http.StatusBadRequest, "identity is required", "VALIDATION_ERROR", "")
		}

		var req ConnectRequest
		if err := c.Bind(&req); err != nil {
			return ErrorResponse(c, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
		}

		sess, err := registry.Connect(c.Request().Context(), identity, req.options())
		if err != nil {
			return serviceError(c, err)
		}

		return SuccessResponse(c, http.StatusOK, "Session is connecting", map[string]interface{}{
			"identity": sess.Identity(),
			"status":   sess.State().String(),
		})
	}
}

// GET /status/:identity
func SessionStatus(registry *service.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		sess, err := registry.Get(c.Param("identity"))
		if err != nil {
			return serviceError(c, err)
		}

		opts := sess.Options()
		return SuccessResponse(c, http.StatusOK, "Session status", map[string]interface{}{
			"identity":          sess.Identity(),
			"status":            sess.State().String(),
			"name":              opts.Name,
			"webhook_url":       opts.WebhookURL,
			"include_media":     opts.IncludeMedia,
			"full_history_sync": opts.FullHistorySync,
			"ignore_groups":     opts.IgnoreGroups,
		})
	}
}

// GET /sessions
func ListSessions(registry *service.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		sessions := registry.Sessions()
		out := make([]map[string]interface{}, 0, len(sessions))
		for _, sess := range sessions {
			out = append(out, map[string]interface{}{
				"identity": sess.Identity(),
				"status":   sess.State().String(),
				"name":     sess.Options().Name,
			})
		}
		return SuccessResponse(c, http.StatusOK, "Active sessions", map[string]interface{}{
			"count":    len(out),
			"sessions": out,
		})
	}
}

// POST /logout/:identity
func Logout(registry *service.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := registry.Logout(c.Request().Context(), c.Param("identity")); err != nil {
			return serviceError(c, err)
		}
		return SuccessResponse(c, http.StatusOK, "Logged out", nil)
	}
}

type WebhookConfigRequest struct {
	WebhookURL         string `json:"webhook_url"`
	WebhookVerifyToken string `json:"webhook_verify_token"`
}

// POST /webhook-setconfig/:identity
func SetWebhookConfig(registry *service.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		sess, err := registry.Get(c.Param("identity"))
		if err != nil {
			return serviceError(c, err)
		}

		var req WebhookConfigRequest
		if err := c.Bind(&req); err != nil {
			return ErrorResponse(c, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
		}

		opts := sess.Options()
		opts.WebhookURL = req.WebhookURL
		opts.WebhookVerifyToken = req.WebhookVerifyToken
		if err := sess.UpdateOptions(c.Request().Context(), opts); err != nil {
			return ErrorResponse(c, http.StatusInternalServerError, "Failed to update webhook config", "UPDATE_FAILED", err.Error())
		}

		return SuccessResponse(c, http.StatusOK, "Webhook config updated", map[string]interface{}{
			"identity":    sess.Identity(),
			"webhook_url": req.WebhookURL,
		})
	}
}

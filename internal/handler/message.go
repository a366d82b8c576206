package handler

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"warelay/internal/model"
	"warelay/internal/service"
)

type SendMessageRequest struct {
	To       string `json:"to"`
	Text     string `json:"text"`
	Caption  string `json:"caption"`
	Image    string `json:"image"` // base64
	Audio    string `json:"audio"` // base64
	Mimetype string `json:"mimetype"`
}

// POST /send/:identity
func SendMessage(registry *service.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		sess, err := registry.Get(c.Param("identity"))
		if err != nil {
			return serviceError(c, err)
		}

		var req SendMessageRequest
		if err := c.Bind(&req); err != nil {
			return ErrorResponse(c, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
		}
		if req.To == "" {
			return ErrorResponse(c, http.StatusBadRequest, "Field 'to' is required", "VALIDATION_ERROR", "")
		}
		if req.Text == "" && req.Image == "" && req.Audio == "" {
			return ErrorResponse(c, http.StatusBadRequest, "Message needs text, image or audio content", "VALIDATION_ERROR", "")
		}

		content := model.OutgoingMessage{
			Text:     req.Text,
			Caption:  req.Caption,
			Mimetype: req.Mimetype,
		}
		if req.Image != "" {
			data, err := base64.StdEncoding.DecodeString(req.Image)
			if err != nil {
				return ErrorResponse(c, http.StatusBadRequest, "Field 'image' is not valid base64", "INVALID_MEDIA", err.Error())
			}
			content.Image = data
		}
		if req.Audio != "" {
			data, err := base64.StdEncoding.DecodeString(req.Audio)
			if err != nil {
				return ErrorResponse(c, http.StatusBadRequest, "Field 'audio' is not valid base64", "INVALID_MEDIA", err.Error())
			}
			content.Audio = data
		}

		result, err := sess.SendMessage(c.Request().Context(), req.To, content)
		if err != nil {
			return serviceError(c, err)
		}

		return SuccessResponse(c, http.StatusOK, "Message sent", map[string]interface{}{
			"message_id": result.MessageID,
			"timestamp":  result.Timestamp,
		})
	}
}

type PresenceRequest struct {
	Presence string `json:"presence"`
	To       string `json:"to"`
}

// POST /presence/:identity
func SendPresence(registry *service.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		sess, err := registry.Get(c.Param("identity"))
		if err != nil {
			return serviceError(c, err)
		}

		var req PresenceRequest
		if err := c.Bind(&req); err != nil {
			return ErrorResponse(c, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
		}
		if req.Presence == "" {
			return ErrorResponse(c, http.StatusBadRequest, "Field 'presence' is required", "VALIDATION_ERROR", "")
		}

		if err := sess.SendPresenceUpdate(c.Request().Context(), req.Presence, req.To); err != nil {
			return serviceError(c, err)
		}
		return SuccessResponse(c, http.StatusOK, "Presence updated", nil)
	}
}

type ReadMessagesRequest struct {
	Keys []model.MessageKey `json:"keys"`
}

// POST /read/:identity
func ReadMessages(registry *service.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		sess, err := registry.Get(c.Param("identity"))
		if err != nil {
			return serviceError(c, err)
		}

		var req ReadMessagesRequest
		if err := c.Bind(&req); err != nil {
			return ErrorResponse(c, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
		}
		if len(req.Keys) == 0 {
			return ErrorResponse(c, http.StatusBadRequest, "Field 'keys' is required", "VALIDATION_ERROR", "")
		}

		if err := sess.ReadMessages(c.Request().Context(), req.Keys); err != nil {
			return serviceError(c, err)
		}
		return SuccessResponse(c, http.StatusOK, "Messages marked read", nil)
	}
}

type ChatModifyRequest struct {
	To     string             `json:"to"`
	Action string             `json:"action"`
	Value  bool               `json:"value"`
	Keys   []model.MessageKey `json:"keys"`
}

// POST /chat-modify/:identity
func ChatModify(registry *service.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		sess, err := registry.Get(c.Param("identity"))
		if err != nil {
			return serviceError(c, err)
		}

		var req ChatModifyRequest
		if err := c.Bind(&req); err != nil {
			return ErrorResponse(c, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
		}
		if req.To == "" || req.Action == "" {
			return ErrorResponse(c, http.StatusBadRequest, "Fields 'to' and 'action' are required", "VALIDATION_ERROR", "")
		}

		mod := model.ChatModification{
			Action: req.Action,
			Value:  req.Value,
			Keys:   req.Keys,
		}
		if err := sess.ChatModify(c.Request().Context(), mod, req.To); err != nil {
			return serviceError(c, err)
		}
		return SuccessResponse(c, http.StatusOK, "Chat updated", nil)
	}
}

type FetchHistoryRequest struct {
	Count           int              `json:"count"`
	OldestKey       model.MessageKey `json:"oldest_key"`
	OldestTimestamp int64            `json:"oldest_timestamp"` // unix seconds
}

// POST /history/:identity
func FetchMessageHistory(registry *service.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		sess, err := registry.Get(c.Param("identity"))
		if err != nil {
			return serviceError(c, err)
		}

		var req FetchHistoryRequest
		if err := c.Bind(&req); err != nil {
			return ErrorResponse(c, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
		}
		if req.Count <= 0 {
			req.Count = 50
		}

		ts := time.Unix(req.OldestTimestamp, 0)
		if err := sess.FetchMessageHistory(c.Request().Context(), req.Count, req.OldestKey, ts); err != nil {
			return serviceError(c, err)
		}
		return SuccessResponse(c, http.StatusOK, "History requested, results arrive via webhook", nil)
	}
}

type SendReceiptsRequest struct {
	Keys []model.MessageKey `json:"keys"`
	Type string             `json:"type"`
}

// POST /receipts/:identity
func SendReceipts(registry *service.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		sess, err := registry.Get(c.Param("identity"))
		if err != nil {
			return serviceError(c, err)
		}

		var req SendReceiptsRequest
		if err := c.Bind(&req); err != nil {
			return ErrorResponse(c, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
		}
		if len(req.Keys) == 0 {
			return ErrorResponse(c, http.StatusBadRequest, "Field 'keys' is required", "VALIDATION_ERROR", "")
		}

		if err := sess.SendReceipts(c.Request().Context(), req.Keys, req.Type); err != nil {
			return serviceError(c, err)
		}
		return SuccessResponse(c, http.StatusOK, "Receipts sent", nil)
	}
}

// GET /profile-picture/:identity?target=...&quality=preview|full
func ProfilePicture(registry *service.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		sess, err := registry.Get(c.Param("identity"))
		if err != nil {
			return serviceError(c, err)
		}

		target := c.QueryParam("target")
		if target == "" {
			return ErrorResponse(c, http.StatusBadRequest, "Query param 'target' is required", "VALIDATION_ERROR", "")
		}

		url, err := sess.ProfilePictureURL(c.Request().Context(), target, c.QueryParam("quality"))
		if err != nil {
			return serviceError(c, err)
		}
		return SuccessResponse(c, http.StatusOK, "Profile picture", map[string]interface{}{
			"target": target,
			"url":    url,
		})
	}
}

type LookupRequest struct {
	Targets []string `json:"targets"`
}

// POST /lookup/:identity
func Lookup(registry *service.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		sess, err := registry.Get(c.Param("identity"))
		if err != nil {
			return serviceError(c, err)
		}

		var req LookupRequest
		if err := c.Bind(&req); err != nil {
			return ErrorResponse(c, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
		}
		if len(req.Targets) == 0 {
			return ErrorResponse(c, http.StatusBadRequest, "Field 'targets' is required", "VALIDATION_ERROR", "")
		}

		results, err := sess.Lookup(c.Request().Context(), req.Targets)
		if err != nil {
			return serviceError(c, err)
		}
		return SuccessResponse(c, http.StatusOK, "Lookup results", map[string]interface{}{
			"results": results,
		})
	}
}

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"sync-client/internal/models"
)

// ListNotifications fetches the latest notification page, newest first.
// The payload goes through normalizeNotifications before anyone sees it.
func (c *Client) ListNotifications(ctx context.Context, page, limit int) ([]models.Notification, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/notifications", q, nil, &raw); err != nil {
		return nil, err
	}
	return normalizeNotifications(raw), nil
}

// MarkNotificationRead confirms the optimistic read flip with the server.
func (c *Client) MarkNotificationRead(ctx context.Context, notificationID string) error {
	return c.do(ctx, http.MethodPut, "/notifications/"+notificationID+"/read", nil, nil, nil)
}

// normalizeNotifications coerces the notification list payload into its
// canonical shape, {"notifications": [...]}. Two legacy nestings are still
// accepted as a migration shim: a bare array, and the canonical envelope
// wrapped once more under "data". Anything else normalizes to an empty
// list instead of failing the fetch.
func normalizeNotifications(raw []byte) []models.Notification {
	var wrapped struct {
		Notifications []models.Notification `json:"notifications"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Notifications != nil {
		return wrapped.Notifications
	}

	var direct []models.Notification
	if err := json.Unmarshal(raw, &direct); err == nil {
		return direct
	}

	var nested struct {
		Data struct {
			Notifications []models.Notification `json:"notifications"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &nested); err == nil && nested.Data.Notifications != nil {
		return nested.Data.Notifications
	}

	return []models.Notification{}
}

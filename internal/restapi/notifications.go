package restapi

import (
	"context"
	"net/http"
	"strconv"

	"pushfeed/internal/feed"
)

type listResponse struct {
	Notifications []feed.Notification `json:"notifications"`
	Total         int                 `json:"total"`
}

type countResponse struct {
	Count int `json:"count"`
}

// ListNotifications fetches one authoritative snapshot page, newest first.
// The fetch runs behind the snapshot circuit breaker.
func (c *Client) ListNotifications(ctx context.Context, limit int) ([]feed.Notification, error) {
	if limit <= 0 {
		limit = feed.DefaultWindow
	}
	v, err := c.snapshot(func() (any, error) {
		var resp listResponse
		path := "/notifications?limit=" + strconv.Itoa(limit)
		if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
			return nil, err
		}
		return resp.Notifications, nil
	})
	if err != nil {
		return nil, err
	}
	list, _ := v.([]feed.Notification)
	return list, nil
}

// UnreadCount fetches the server-side unread counter. The polling fallback
// uses it as a cheap probe before pulling a full page.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var resp countResponse
	if err := c.doJSON(ctx, http.MethodGet, "/notifications/unread-count", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// MarkRead reports locally-read ids to the backend.
func (c *Client) MarkRead(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	body := map[string][]string{"ids": ids}
	return c.doJSON(ctx, http.MethodPut, "/notifications/mark-read", body, nil)
}

// MarkAllRead reports a local mark-all to the backend.
func (c *Client) MarkAllRead(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPut, "/notifications/read-all", nil, nil)
}

// ClearAll deletes the server-side feed.
func (c *Client) ClearAll(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodDelete, "/notifications/all", nil, nil)
}

package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"waiting-client/internal/status"
	"waiting-client/models"
)

// WaitingPath returns the waiting resource path of a store.
func WaitingPath(storeID int64) string {
	return fmt.Sprintf("/api/stores/%d/waitings", storeID)
}

// SubscribePath returns the server-push stream path of a store.
func SubscribePath(storeID int64) string {
	return WaitingPath(storeID) + "/subscribe"
}

// JoinWaiting adds the current user to the store's waiting list.
func (c *Client) JoinWaiting(ctx context.Context, storeID int64) error {
	if err := c.Do(ctx, http.MethodPost, WaitingPath(storeID), nil, nil, nil); err != nil {
		return fmt.Errorf("join waiting: %w", err)
	}
	return nil
}

// CancelWaiting removes the current user from the store's waiting list.
func (c *Client) CancelWaiting(ctx context.Context, storeID int64) error {
	if err := c.Do(ctx, http.MethodDelete, WaitingPath(storeID), nil, nil, nil); err != nil {
		return fmt.Errorf("cancel waiting: %w", err)
	}
	return nil
}

// WaitingStatus reports whether the current user is waiting at the store.
func (c *Client) WaitingStatus(ctx context.Context, storeID int64) (models.WaitingStatus, error) {
	var out models.WaitingStatus
	if err := c.Do(ctx, http.MethodGet, WaitingPath(storeID), nil, nil, &out); err != nil {
		return models.WaitingStatus{}, fmt.Errorf("waiting status: %w", err)
	}
	return out, nil
}

// WaitingList fetches the owner's view of the queue.
func (c *Client) WaitingList(ctx context.Context, storeID int64) (models.QueueSnapshot, error) {
	var out models.QueueSnapshot
	if err := c.Do(ctx, http.MethodGet, WaitingPath(storeID)+"/list", nil, nil, &out); err != nil {
		return models.QueueSnapshot{}, fmt.Errorf("waiting list: %w", err)
	}
	return out, nil
}

// PollWaiting admits the first waiting user.
func (c *Client) PollWaiting(ctx context.Context, storeID int64) error {
	if err := c.Do(ctx, http.MethodPost, WaitingPath(storeID)+"/poll", nil, nil, nil); err != nil {
		return fmt.Errorf("poll waiting: %w", err)
	}
	return nil
}

// ClearWaiting removes every user whose rank is at least cutline.
func (c *Client) ClearWaiting(ctx context.Context, storeID int64, cutline int) error {
	if cutline < 1 {
		return fmt.Errorf("clear waiting: %w", status.ErrInvalidCutline)
	}
	query := url.Values{}
	query.Set("cutline", strconv.Itoa(cutline))

	if err := c.Do(ctx, http.MethodDelete, WaitingPath(storeID)+"/clear", query, nil, nil); err != nil {
		return fmt.Errorf("clear waiting: %w", err)
	}
	return nil
}

package notify

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound reports a missing notification or one owned by another user.
var ErrNotFound = errors.New("notify: notification not found")

// Store persists and queries notifications.
//
// Requirements:
//   - Page and UnreadCount exclude rows past their expiry.
//   - MarkAllRead matching zero rows is a successful no-op.
type Store interface {
	Insert(ctx context.Context, n *Notification) error
	Page(ctx context.Context, in PageInput) (PageResult, error)
	MarkRead(ctx context.Context, id, userID int64, at time.Time) error
	MarkAllRead(ctx context.Context, userID int64, at time.Time) (int64, error)
	UnreadCount(ctx context.Context, userID int64, now time.Time) (int64, error)
	Close() error
}

// PageInput describes a notification listing. Before is an exclusive id
// cursor; nil starts from the newest.
type PageInput struct {
	UserID     int64
	UnreadOnly bool
	Before     *int64
	Limit      int
	Now        time.Time
}

// PageResult contains one newest-first window of notifications.
type PageResult struct {
	Notifications []Notification
	HasMore       bool
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func clampPageSize(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}

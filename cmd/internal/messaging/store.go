package messaging

import (
	"context"
	"time"
)

// Store persists and queries messages.
//
// Requirements:
//   - Insert assigns the message id and preserves per-caller append order.
//   - Page is newest-first, cursor-restartable, and excludes soft-deleted rows.
//   - MarkRead is idempotent: re-running it updates zero rows without error.
type Store interface {
	Insert(ctx context.Context, m *Message) error
	Get(ctx context.Context, id int64) (Message, error)
	Page(ctx context.Context, in PageInput) (PageResult, error)
	MarkRead(ctx context.Context, conversationID string, readerID int64, at time.Time) (int64, error)
	UpdateContent(ctx context.Context, id int64, content string, at time.Time) error
	SoftDelete(ctx context.Context, id int64, at time.Time) error
	UnreadCount(ctx context.Context, conversationID string, readerID int64) (int64, error)
	Close() error
}

// PageInput describes a history query. Before is an exclusive message-id
// cursor; nil starts from the newest message.
type PageInput struct {
	ConversationID string
	Before         *int64
	Limit          int
}

// PageResult contains one newest-first window of a conversation.
type PageResult struct {
	Messages []Message
	HasMore  bool
}

const (
	defaultPageSize = 50
	maxPageSize     = 200
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

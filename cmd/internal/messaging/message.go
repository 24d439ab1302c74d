// Package messaging persists two-party messages and drives their delivery.
//
// Persistence is the system of record; delivery over the realtime layer is a
// best-effort overlay and never a precondition for a write to succeed.
package messaging

import "time"

// MessageType enumerates the persisted message kinds.
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageFile   MessageType = "file"
	MessageSystem MessageType = "system"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageFile, MessageSystem:
		return true
	default:
		return false
	}
}

// Message is the persisted message entity.
//
// Read state is exclusively mutated by the receiver; content only by the
// sender within the edit window. Messages are never hard-deleted: soft-deleted
// rows persist for audit but are excluded from pages and unread counts.
type Message struct {
	ID             int64
	SenderID       int64
	ReceiverID     int64
	Content        string
	Type           MessageType
	ConversationID string
	FileURL        string
	FileName       string
	IsRead         bool
	ReadAt         *time.Time
	IsDeleted      bool
	DeletedAt      *time.Time
	CreatedAt      time.Time
	EditedAt       *time.Time
}

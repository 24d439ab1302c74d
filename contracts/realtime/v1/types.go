// Package v1 defines the MicroHire Realtime Protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Type constants (wire-stable).
const (
	// TypeConversationJoin subscribes the connection to a conversation room (client -> server).
	TypeConversationJoin = "conversation_join"
	// TypeConversationLeave unsubscribes the connection from a conversation room (client -> server).
	TypeConversationLeave = "conversation_leave"

	// TypeTypingStart / TypeTypingStop relay advisory typing state (client -> server).
	TypeTypingStart = "typing_start"
	TypeTypingStop  = "typing_stop"

	// TypeMessageSend requests persisting and delivering a new message (client -> server).
	TypeMessageSend = "message_send"
	// TypeMarkRead flips read state for every unread message addressed to the caller
	// in a conversation (client -> server).
	TypeMarkRead = "mark_read"
	// TypeMessageEdit rewrites message content within the edit window (client -> server).
	TypeMessageEdit = "message_edit"
	// TypeMessageDelete soft-deletes a message (client -> server).
	TypeMessageDelete = "message_delete"

	// TypePresenceOnline re-announces the caller's online status (client -> server).
	TypePresenceOnline = "presence_online"

	// TypeReady acknowledges a successfully authenticated connection (server -> client).
	TypeReady = "ready"

	// TypeMessageNew delivers a newly persisted message (server -> private + conversation rooms).
	TypeMessageNew = "message_new"
	// TypeMessageEdited announces an in-window content edit (server -> rooms).
	TypeMessageEdited = "message_edited"
	// TypeMessageDeleted announces a soft delete (server -> rooms).
	TypeMessageDeleted = "message_deleted"
	// TypeMessageRead is a read receipt for the peer whose messages were read (server -> private room).
	TypeMessageRead = "message_read"

	// TypeUserTyping / TypeUserStoppedTyping relay typing state (server -> conversation room).
	TypeUserTyping        = "user_typing"
	TypeUserStoppedTyping = "user_stopped_typing"

	// TypeUserStatusChange announces presence transitions (server -> all connections).
	TypeUserStatusChange = "user_status_change"

	// TypeNotificationNew delivers a persisted notification (server -> private room).
	TypeNotificationNew = "notification_new"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeConversationJoin,
		TypeConversationLeave,
		TypeTypingStart,
		TypeTypingStop,
		TypeMessageSend,
		TypeMarkRead,
		TypeMessageEdit,
		TypeMessageDelete,
		TypePresenceOnline,
		TypeReady,
		TypeMessageNew,
		TypeMessageEdited,
		TypeMessageDeleted,
		TypeMessageRead,
		TypeUserTyping,
		TypeUserStoppedTyping,
		TypeUserStatusChange,
		TypeNotificationNew,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- client -> server payloads ----

// ConversationJoinPayload subscribes to a conversation room.
type ConversationJoinPayload struct {
	ConversationID string `json:"conversation_id"`
}

// ConversationLeavePayload unsubscribes from a conversation room.
type ConversationLeavePayload struct {
	ConversationID string `json:"conversation_id"`
}

// TypingPayload carries the conversation a typing event applies to.
type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
}

// MessageSendPayload requests a new message.
type MessageSendPayload struct {
	ReceiverID int64  `json:"receiver_id"`
	Content    string `json:"content"`
	FileURL    string `json:"file_url,omitempty"`
	FileName   string `json:"file_name,omitempty"`
}

// MarkReadPayload marks every unread message addressed to the caller as read.
type MarkReadPayload struct {
	ConversationID string `json:"conversation_id"`
}

// MessageEditPayload rewrites message content.
type MessageEditPayload struct {
	MessageID int64  `json:"message_id"`
	Content   string `json:"content"`
}

// MessageDeletePayload soft-deletes a message.
type MessageDeletePayload struct {
	MessageID int64 `json:"message_id"`
}

// ---- server -> client payloads ----

// ReadyPayload acknowledges a successfully authenticated connection.
type ReadyPayload struct {
	ConnectionID string `json:"connection_id"`
	UserID       int64  `json:"user_id"`
}

// MessagePayload is the wire view of a persisted message.
type MessagePayload struct {
	ID             int64     `json:"id"`
	SenderID       int64     `json:"sender_id"`
	ReceiverID     int64     `json:"receiver_id"`
	Content        string    `json:"content"`
	MessageType    string    `json:"message_type"`
	ConversationID string    `json:"conversation_id"`
	FileURL        string    `json:"file_url,omitempty"`
	FileName       string    `json:"file_name,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// MessageNewPayload delivers a newly persisted message.
type MessageNewPayload struct {
	Message        MessagePayload `json:"message"`
	ConversationID string         `json:"conversation_id"`
}

// MessageEditedPayload announces an in-window content edit.
type MessageEditedPayload struct {
	MessageID      int64     `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	Content        string    `json:"content"`
	EditedAt       time.Time `json:"edited_at"`
}

// MessageDeletedPayload announces a soft delete.
type MessageDeletedPayload struct {
	MessageID      int64  `json:"message_id"`
	ConversationID string `json:"conversation_id"`
}

// MessageReadPayload is the read receipt sent to the peer.
type MessageReadPayload struct {
	ConversationID string    `json:"conversation_id"`
	ReaderID       int64     `json:"reader_id"`
	Count          int64     `json:"count"`
	ReadAt         time.Time `json:"read_at"`
}

// UserTypingPayload relays typing start.
type UserTypingPayload struct {
	UserID   int64  `json:"user_id"`
	UserName string `json:"user_name"`
}

// UserStoppedTypingPayload relays typing stop.
type UserStoppedTypingPayload struct {
	UserID int64 `json:"user_id"`
}

// UserStatusChangePayload announces a presence transition.
type UserStatusChangePayload struct {
	UserID int64  `json:"user_id"`
	Status string `json:"status"`
}

// Presence status values carried by UserStatusChangePayload.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// NotificationPayload is the wire view of a persisted notification.
type NotificationPayload struct {
	ID        int64          `json:"id"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Type      string         `json:"type"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Priority  string         `json:"priority"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
}

// ErrorPayload is the generic error reply.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

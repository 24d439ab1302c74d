// Package realtime contains the MicroHire connection gateway, the live
// connection registry, and the room-addressed delivery primitives.
package realtime

import (
	"fmt"
	"strconv"
	"strings"
)

// RoomKind tags the two canonical room namespaces.
type RoomKind uint8

const (
	// RoomPrivate is the per-identity room joined automatically on connect.
	// It is the sole conduit for receiver-targeted events.
	RoomPrivate RoomKind = iota + 1
	// RoomConversation is joined only on explicit client request and carries
	// no persistence across reconnects.
	RoomConversation
)

// Room is a named broadcast group. The zero value is invalid; construct via
// PrivateRoom or ConversationRoom so the wire format is defined in one place.
type Room struct {
	kind         RoomKind
	userID       int64
	conversation string
}

// PrivateRoom returns the per-identity room for userID.
func PrivateRoom(userID int64) Room {
	return Room{kind: RoomPrivate, userID: userID}
}

// ConversationRoom returns the room for a conversation id.
func ConversationRoom(conversationID string) Room {
	return Room{kind: RoomConversation, conversation: strings.TrimSpace(conversationID)}
}

// Kind returns the room's namespace tag.
func (r Room) Kind() RoomKind { return r.kind }

// Valid reports whether the room names an addressable group.
func (r Room) Valid() bool {
	switch r.kind {
	case RoomPrivate:
		return r.userID > 0
	case RoomConversation:
		return r.conversation != ""
	default:
		return false
	}
}

// String is the single serialization point for room names.
func (r Room) String() string {
	switch r.kind {
	case RoomPrivate:
		return "user_" + strconv.FormatInt(r.userID, 10)
	case RoomConversation:
		return "conversation_" + r.conversation
	default:
		return fmt.Sprintf("invalid_room_%d", r.kind)
	}
}

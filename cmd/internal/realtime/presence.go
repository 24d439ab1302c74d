package realtime

import (
	"log/slog"

	v1 "github.com/pranaynidhi/microhire-backend/contracts/realtime/v1"
	"github.com/pranaynidhi/microhire-backend/cmd/internal/identity"
)

// Presence relays ephemeral online/offline and typing events.
//
// Nothing here is persisted and no ordering is guaranteed: presence and typing
// are advisory, at-most-once, and may be dropped under load.
type Presence struct {
	log    *slog.Logger
	router *Router
}

// NewPresence constructs a Presence broadcaster over the router.
func NewPresence(log *slog.Logger, router *Router) *Presence {
	return &Presence{log: log, router: router}
}

// SetOnline announces that an identity gained its first live connection.
// The identity's own devices are excluded from the broadcast.
func (p *Presence) SetOnline(ident identity.Identity) {
	p.log.Info("presence.online", "user_id", ident.ID)
	p.router.BroadcastExcept(ident.ID, v1.TypeUserStatusChange, v1.UserStatusChangePayload{
		UserID: ident.ID,
		Status: v1.StatusOnline,
	})
}

// SetOffline announces that an identity lost its last live connection.
// Any surviving connection of the same identity is excluded, so a reconnect
// racing the last disconnect never sees its own offline.
func (p *Presence) SetOffline(userID int64) {
	p.log.Info("presence.offline", "user_id", userID)
	p.router.BroadcastExcept(userID, v1.TypeUserStatusChange, v1.UserStatusChangePayload{
		UserID: userID,
		Status: v1.StatusOffline,
	})
}

// BroadcastTyping relays a typing indicator to the conversation room,
// excluding every connection owned by the sender.
func (p *Presence) BroadcastTyping(from identity.Identity, conversationID string, isTyping bool) {
	room := ConversationRoom(conversationID)
	if isTyping {
		p.router.SendExcept(room, from.ID, v1.TypeUserTyping, v1.UserTypingPayload{
			UserID:   from.ID,
			UserName: from.Name,
		})
		return
	}
	p.router.SendExcept(room, from.ID, v1.TypeUserStoppedTyping, v1.UserStoppedTypingPayload{
		UserID: from.ID,
	})
}

package realtime

import (
	"encoding/json"
	"log/slog"
	"time"

	v1 "github.com/pranaynidhi/microhire-backend/contracts/realtime/v1"
)

// Router maps logical recipients (rooms) to live connections and performs the
// actual send. It is the only component that reads registry membership; every
// other component addresses recipients by room, never by connection id.
//
// Concurrency guarantees:
// - Send is safe under concurrent registry mutation.
// - Send never blocks (drops under backpressure).
// - Send to an empty room is a no-op, not an error.
type Router struct {
	log     *slog.Logger
	reg     *Registry
	metrics *Metrics
}

// NewRouter constructs a Router over the registry owned by the gateway.
func NewRouter(log *slog.Logger, reg *Registry, metrics *Metrics) *Router {
	return &Router{log: log, reg: reg, metrics: metrics}
}

// Send fans an event out to every connection currently in room and returns the
// number of send queues it was enqueued to.
func (rt *Router) Send(room Room, eventType string, payload any) int {
	return rt.send(room, eventType, payload, 0)
}

// SendExcept is Send minus every connection owned by exceptUserID.
// Used for typing relays, which must not echo to the sender's own devices.
func (rt *Router) SendExcept(room Room, exceptUserID int64, eventType string, payload any) int {
	return rt.send(room, eventType, payload, exceptUserID)
}

// SendToUser delivers to the identity's private room.
func (rt *Router) SendToUser(userID int64, eventType string, payload any) int {
	return rt.Send(PrivateRoom(userID), eventType, payload)
}

// SendToConversation delivers to a conversation room.
func (rt *Router) SendToConversation(conversationID string, eventType string, payload any) int {
	return rt.Send(ConversationRoom(conversationID), eventType, payload)
}

// Broadcast delivers to every live connection (presence status changes).
func (rt *Router) Broadcast(eventType string, payload any) int {
	return rt.broadcast(eventType, payload, 0)
}

// BroadcastExcept is Broadcast minus every connection owned by exceptUserID.
// Status changes use it so an identity's own devices are not told about
// themselves.
func (rt *Router) BroadcastExcept(exceptUserID int64, eventType string, payload any) int {
	return rt.broadcast(eventType, payload, exceptUserID)
}

func (rt *Router) broadcast(eventType string, payload any, exceptUserID int64) int {
	env, err := rt.newEnvelope(eventType, payload)
	if err != nil {
		return 0
	}
	return rt.deliver(rt.reg.Connections(), env, exceptUserID)
}

func (rt *Router) send(room Room, eventType string, payload any, exceptUserID int64) int {
	if !room.Valid() {
		rt.log.Warn("delivery.invalid_room", "event", eventType)
		return 0
	}

	env, err := rt.newEnvelope(eventType, payload)
	if err != nil {
		return 0
	}

	members := rt.reg.Members(room)
	if len(members) == 0 {
		// DeliveryMiss: recipient offline is a normal outcome.
		rt.metrics.miss()
		rt.log.Debug("delivery.miss", "room", room.String(), "event", eventType)
		return 0
	}

	n := rt.deliver(members, env, exceptUserID)
	rt.log.Debug("delivery.sent", "room", room.String(), "event", eventType, "connections", n)
	return n
}

func (rt *Router) deliver(conns []*Conn, env v1.Envelope, exceptUserID int64) int {
	n := 0
	for _, c := range conns {
		if c == nil {
			continue
		}
		if exceptUserID != 0 && c.Identity.ID == exceptUserID {
			continue
		}

		select {
		case <-c.Done():
			// Skip connections that are shutting down.
			continue
		default:
		}

		select {
		case c.Send <- env:
			n++
		default:
			// Drop rather than block delivery to the rest of the room.
			rt.metrics.drop()
			rt.log.Warn("delivery.drop", "conn_id", c.ID, "event", env.Type)
		}
	}
	rt.metrics.sent(n)
	return n
}

func (rt *Router) newEnvelope(eventType string, payload any) (v1.Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		rt.log.Error("delivery.marshal.fail", "event", eventType, "err", err)
		return v1.Envelope{}, err
	}

	now := time.Now().UTC()
	id, err := NewEnvelopeID(now)
	if err != nil {
		rt.log.Error("delivery.envelope_id.fail", "err", err)
		return v1.Envelope{}, err
	}

	return v1.Envelope{
		V:       v1.Version,
		Type:    eventType,
		ID:      id,
		TS:      now,
		Payload: body,
	}, nil
}

package realtime

import (
	"log/slog"
	"sync"
)

// Registry owns the live connection set and room membership.
//
// It is the only concurrently-mutated in-memory shared structure in the core:
// every mutation (connect, disconnect, join, leave) is applied atomically with
// respect to concurrent membership reads performed by the Router. The registry
// is a disposable cache of "who is currently reachable"; it is rebuilt from
// nothing on process restart.
type Registry struct {
	log *slog.Logger

	mu       sync.RWMutex
	conns    map[string]*Conn
	rooms    map[Room]map[string]*Conn
	joined   map[string]map[Room]struct{}
	presence map[int64]int
}

// NewRegistry constructs an empty Registry.
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		log:      log,
		conns:    make(map[string]*Conn),
		rooms:    make(map[Room]map[string]*Conn),
		joined:   make(map[string]map[Room]struct{}),
		presence: make(map[int64]int),
	}
}

// Add registers a connection and reports whether it is the identity's first
// live connection (the presence-online transition).
func (r *Registry) Add(c *Conn) (first bool) {
	if c == nil || c.ID == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[c.ID] = c
	r.joined[c.ID] = make(map[Room]struct{})
	r.presence[c.Identity.ID]++
	return r.presence[c.Identity.ID] == 1
}

// Remove unregisters a connection, clears it from every room it was in, and
// reports whether it was the identity's last live connection (the
// presence-offline transition). Removing an unknown id is a no-op.
//
// Membership cleanup is the one guaranteed side effect of the terminal
// connection state, so it happens here, under one lock, not in callers.
func (r *Registry) Remove(connID string) (c *Conn, last bool) {
	if connID == "" {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return nil, false
	}
	delete(r.conns, connID)

	for room := range r.joined[connID] {
		r.dropMemberLocked(room, connID)
	}
	delete(r.joined, connID)

	userID := c.Identity.ID
	if r.presence[userID] > 0 {
		r.presence[userID]--
	}
	if r.presence[userID] == 0 {
		delete(r.presence, userID)
		return c, true
	}
	return c, false
}

// Join adds a connection to a room. Unknown connections and invalid rooms are
// ignored so a racing disconnect cannot resurrect membership.
func (r *Registry) Join(connID string, room Room) bool {
	if !room.Valid() {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return false
	}

	members := r.rooms[room]
	if members == nil {
		members = make(map[string]*Conn)
		r.rooms[room] = members
	}
	members[connID] = c
	r.joined[connID][room] = struct{}{}
	return true
}

// Leave removes a connection from a room.
func (r *Registry) Leave(connID string, room Room) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.dropMemberLocked(room, connID)
	if set, ok := r.joined[connID]; ok {
		delete(set, room)
	}
}

func (r *Registry) dropMemberLocked(room Room, connID string) {
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

// Members returns a snapshot of the room's current connections.
// An empty snapshot for an unknown room is a normal outcome, not an error.
func (r *Registry) Members(room Room) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	if len(members) == 0 {
		return nil
	}
	out := make([]*Conn, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

// Connections returns a snapshot of every live connection.
func (r *Registry) Connections() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// Online reports whether the identity has at least one live connection.
func (r *Registry) Online(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.presence[userID] > 0
}

// Len returns the live connection count.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

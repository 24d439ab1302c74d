package identity

import (
	"context"
	"sync"
)

// MemoryDirectory is an in-memory Directory for dev mode and tests.
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[int64]memoryUser
}

type memoryUser struct {
	ident  Identity
	active bool
}

// NewMemoryDirectory constructs an empty in-memory directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{users: make(map[int64]memoryUser)}
}

// Put registers or replaces a user.
func (d *MemoryDirectory) Put(ident Identity, active bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[ident.ID] = memoryUser{ident: ident, active: active}
}

// Lookup returns the identity for id.
func (d *MemoryDirectory) Lookup(ctx context.Context, id int64) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}

	d.mu.RLock()
	u, ok := d.users[id]
	d.mu.RUnlock()

	if !ok {
		return Identity{}, ErrNotFound
	}
	if !u.active {
		return Identity{}, ErrInactive
	}
	return u.ident, nil
}

package realtime

import (
	"sync"
	"time"

	v1 "github.com/pranaynidhi/microhire-backend/contracts/realtime/v1"
	"github.com/pranaynidhi/microhire-backend/cmd/internal/identity"
)

// Conn represents one live, authenticated connection.
//
// Design notes:
// - Send is intentionally NOT closed by the server to avoid panics from concurrent broadcasters.
// - done is used to signal goroutines to stop.
// - Close is idempotent.
type Conn struct {
	ID        string
	Identity  identity.Identity
	CreatedAt time.Time
	Send      chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once
}

// NewConn constructs a Conn with a bounded send queue.
func NewConn(id string, ident identity.Identity, sendQueueSize int) *Conn {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Conn{
		ID:        id,
		Identity:  ident,
		CreatedAt: time.Now().UTC(),
		Send:      make(chan v1.Envelope, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// Done returns a channel that is closed when the connection is shutting down.
func (c *Conn) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the connection goroutines to stop (idempotent).
// It does NOT close Send to keep fan-out safe under concurrency.
func (c *Conn) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

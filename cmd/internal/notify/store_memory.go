package notify

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for dev mode and tests.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*Notification
	byUser map[int64][]int64
}

// NewMemoryStore constructs an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[int64]*Notification),
		byUser: make(map[int64][]int64),
	}
}

// Close closes the store (noop for in-memory).
func (s *MemoryStore) Close() error { return nil }

// Insert assigns an id and persists the notification.
func (s *MemoryStore) Insert(ctx context.Context, n *Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	n.ID = s.nextID
	cp := *n
	s.byID[n.ID] = &cp
	s.byUser[n.UserID] = append(s.byUser[n.UserID], n.ID)
	return nil
}

// Page returns a newest-first window of unexpired notifications.
func (s *MemoryStore) Page(ctx context.Context, in PageInput) (PageResult, error) {
	if err := ctx.Err(); err != nil {
		return PageResult{}, err
	}

	limit := clampPageSize(in.Limit)
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	snap := make([]Notification, 0, len(s.byUser[in.UserID]))
	for _, id := range s.byUser[in.UserID] {
		n := s.byID[id]
		if n == nil || n.Expired(now) {
			continue
		}
		if in.UnreadOnly && n.IsRead {
			continue
		}
		snap = append(snap, *n)
	}
	s.mu.Unlock()

	sort.Slice(snap, func(i, j int) bool { return snap[i].ID > snap[j].ID })

	if in.Before != nil {
		before := *in.Before
		cut := sort.Search(len(snap), func(i int) bool { return snap[i].ID < before })
		snap = snap[cut:]
	}

	hasMore := len(snap) > limit
	if hasMore {
		snap = snap[:limit]
	}
	return PageResult{Notifications: snap, HasMore: hasMore}, nil
}

// MarkRead flips read state for one notification owned by userID.
// Marking an already-read notification is a successful no-op.
func (s *MemoryStore) MarkRead(ctx context.Context, id, userID int64, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.byID[id]
	if !ok || n.UserID != userID {
		return ErrNotFound
	}
	if n.IsRead {
		return nil
	}
	n.IsRead = true
	t := at
	n.ReadAt = &t
	return nil
}

// MarkAllRead flips read state for every unread notification owned by userID.
func (s *MemoryStore) MarkAllRead(ctx context.Context, userID int64, at time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, id := range s.byUser[userID] {
		n := s.byID[id]
		if n == nil || n.IsRead {
			continue
		}
		n.IsRead = true
		t := at
		n.ReadAt = &t
		count++
	}
	return count, nil
}

// UnreadCount counts notifications that are unread AND unexpired at "now".
func (s *MemoryStore) UnreadCount(ctx context.Context, userID int64, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, id := range s.byUser[userID] {
		n := s.byID[id]
		if n == nil || n.IsRead || n.Expired(now) {
			continue
		}
		count++
	}
	return count, nil
}

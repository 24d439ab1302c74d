package messaging

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
	byID   map[int64]*Message
	byConv map[string][]int64 // insertion order per conversation
}

// NewMemoryStore constructs an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[int64]*Message),
		byConv: make(map[string][]int64),
	}
}

// Close closes the store (noop for in-memory).
func (s *MemoryStore) Close() error { return nil }

// Insert assigns an id and persists the message.
func (s *MemoryStore) Insert(ctx context.Context, m *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	m.ID = s.nextID
	cp := *m
	s.byID[m.ID] = &cp
	s.byConv[m.ConversationID] = append(s.byConv[m.ConversationID], m.ID)
	return nil
}

// Get returns the message by id. Soft-deleted rows report ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, id int64) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok || m.IsDeleted {
		return Message{}, ErrNotFound
	}
	return *m, nil
}

// Page returns a newest-first window, excluding soft-deleted rows.
func (s *MemoryStore) Page(ctx context.Context, in PageInput) (PageResult, error) {
	if err := ctx.Err(); err != nil {
		return PageResult{}, err
	}
	limit := clampPageSize(in.Limit)

	s.mu.Lock()
	ids := append([]int64(nil), s.byConv[in.ConversationID]...)
	snap := make([]Message, 0, len(ids))
	for _, id := range ids {
		if m, ok := s.byID[id]; ok && !m.IsDeleted {
			snap = append(snap, *m)
		}
	}
	s.mu.Unlock()

	// Newest first.
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
	return PageResult{Messages: snap, HasMore: hasMore}, nil
}

// MarkRead flips read state for every unread message addressed to readerID.
func (s *MemoryStore) MarkRead(ctx context.Context, conversationID string, readerID int64, at time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, id := range s.byConv[conversationID] {
		m := s.byID[id]
		if m == nil || m.IsDeleted || m.IsRead || m.ReceiverID != readerID {
			continue
		}
		m.IsRead = true
		t := at
		m.ReadAt = &t
		n++
	}
	return n, nil
}

// UpdateContent rewrites message content and stamps the edit time.
func (s *MemoryStore) UpdateContent(ctx context.Context, id int64, content string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok || m.IsDeleted {
		return ErrNotFound
	}
	m.Content = content
	t := at
	m.EditedAt = &t
	return nil
}

// SoftDelete marks the row deleted; the row itself persists for audit.
func (s *MemoryStore) SoftDelete(ctx context.Context, id int64, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok || m.IsDeleted {
		return ErrNotFound
	}
	m.IsDeleted = true
	t := at
	m.DeletedAt = &t
	return nil
}

// UnreadCount counts unread, non-deleted messages addressed to readerID.
func (s *MemoryStore) UnreadCount(ctx context.Context, conversationID string, readerID int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, id := range s.byConv[conversationID] {
		m := s.byID[id]
		if m == nil || m.IsDeleted || m.IsRead || m.ReceiverID != readerID {
			continue
		}
		n++
	}
	return n, nil
}

package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	v1 "github.com/pranaynidhi/microhire-backend/contracts/realtime/v1"
	"github.com/pranaynidhi/microhire-backend/cmd/internal/identity"
)

const (
	// Hard boundary for sender edits, measured from message creation.
	defaultEditWindow = 5 * time.Minute

	maxContentChars = 2000
)

// Delivery is the best-effort realtime overlay. It is implemented by the
// realtime router; the messaging layer addresses recipients only by room
// semantics (user / conversation), never by connection.
type Delivery interface {
	SendToUser(userID int64, eventType string, payload any) int
	SendToConversation(conversationID string, eventType string, payload any) int
}

// Service implements the message store adapter consumed by the gateway and
// the REST layer.
type Service struct {
	log       *slog.Logger
	store     Store
	directory identity.Directory
	delivery  Delivery

	editWindow time.Duration
	now        func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithEditWindow overrides the sender edit window.
func WithEditWindow(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.editWindow = d
		}
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs the messaging service.
func NewService(log *slog.Logger, store Store, directory identity.Directory, delivery Delivery, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("messaging: nil store")
	}
	if directory == nil {
		return nil, errors.New("messaging: nil directory")
	}
	if delivery == nil {
		return nil, errors.New("messaging: nil delivery")
	}

	s := &Service{
		log:        log,
		store:      store,
		directory:  directory,
		delivery:   delivery,
		editWindow: defaultEditWindow,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// AppendInput describes a new message.
type AppendInput struct {
	SenderID   int64
	ReceiverID int64
	Content    string
	Type       MessageType
	FileURL    string
	FileName   string
}

// Append validates the receiver, persists the message, and fans it out.
//
// Delivery goes to the receiver's private room unconditionally and to the
// conversation room independently, so a peer with the conversation open gets
// a live view while a peer who never opened it still gets private delivery.
// Persistence failure surfaces to the caller; delivery misses never do.
func (s *Service) Append(ctx context.Context, in AppendInput) (Message, error) {
	if in.SenderID <= 0 || in.ReceiverID <= 0 {
		return Message{}, fmt.Errorf("%w: missing sender or receiver", ErrInvalidInput)
	}
	if in.SenderID == in.ReceiverID {
		return Message{}, fmt.Errorf("%w: cannot message yourself", ErrInvalidInput)
	}
	if in.Content == "" {
		return Message{}, fmt.Errorf("%w: empty content", ErrInvalidInput)
	}
	if len([]rune(in.Content)) > maxContentChars {
		return Message{}, fmt.Errorf("%w: content too long (max %d chars)", ErrInvalidInput, maxContentChars)
	}

	typ := in.Type
	if typ == "" {
		typ = MessageText
		if in.FileURL != "" {
			typ = MessageFile
		}
	}
	if !typ.Valid() {
		return Message{}, fmt.Errorf("%w: unknown message type %q", ErrInvalidInput, typ)
	}

	// Receiver must exist and be active (delegated to the account directory).
	if _, err := s.directory.Lookup(ctx, in.ReceiverID); err != nil {
		if errors.Is(err, identity.ErrNotFound) || errors.Is(err, identity.ErrInactive) {
			return Message{}, fmt.Errorf("%w: receiver %d: %v", ErrInvalidInput, in.ReceiverID, err)
		}
		return Message{}, fmt.Errorf("receiver lookup: %w", err)
	}

	// Computed once at creation time and stored, never recomputed.
	convID := ConversationID(in.SenderID, in.ReceiverID)

	m := Message{
		SenderID:       in.SenderID,
		ReceiverID:     in.ReceiverID,
		Content:        in.Content,
		Type:           typ,
		ConversationID: convID,
		FileURL:        in.FileURL,
		FileName:       in.FileName,
		CreatedAt:      s.now(),
	}
	if err := s.store.Insert(ctx, &m); err != nil {
		return Message{}, err
	}

	payload := v1.MessageNewPayload{Message: wireMessage(m), ConversationID: convID}
	s.delivery.SendToUser(in.ReceiverID, v1.TypeMessageNew, payload)
	s.delivery.SendToConversation(convID, v1.TypeMessageNew, payload)

	s.log.Info("message.append", "message_id", m.ID, "conversation_id", convID, "sender_id", in.SenderID)
	return m, nil
}

// Page returns one newest-first window of a conversation the requester
// participates in.
func (s *Service) Page(ctx context.Context, requesterID int64, conversationID string, before *int64, limit int) (PageResult, error) {
	if !IsParticipant(conversationID, requesterID) {
		return PageResult{}, fmt.Errorf("%w: not a participant of %s", ErrForbidden, conversationID)
	}
	return s.store.Page(ctx, PageInput{ConversationID: conversationID, Before: before, Limit: limit})
}

// MarkRead flips read state for every unread message addressed to readerID in
// the conversation and sends a read receipt to the peer. Idempotent.
func (s *Service) MarkRead(ctx context.Context, conversationID string, readerID int64) (int64, error) {
	lo, hi, err := ParticipantIDs(conversationID)
	if err != nil {
		return 0, err
	}
	if readerID != lo && readerID != hi {
		return 0, fmt.Errorf("%w: not a participant of %s", ErrForbidden, conversationID)
	}

	now := s.now()
	n, err := s.store.MarkRead(ctx, conversationID, readerID, now)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}

	peer := lo
	if readerID == lo {
		peer = hi
	}
	s.delivery.SendToUser(peer, v1.TypeMessageRead, v1.MessageReadPayload{
		ConversationID: conversationID,
		ReaderID:       readerID,
		Count:          n,
		ReadAt:         now,
	})
	return n, nil
}

// Edit rewrites message content. Only the original sender may edit, and only
// within the edit window measured from creation.
func (s *Service) Edit(ctx context.Context, messageID, editorID int64, content string) (Message, error) {
	if content == "" {
		return Message{}, fmt.Errorf("%w: empty content", ErrInvalidInput)
	}
	if len([]rune(content)) > maxContentChars {
		return Message{}, fmt.Errorf("%w: content too long (max %d chars)", ErrInvalidInput, maxContentChars)
	}

	m, err := s.store.Get(ctx, messageID)
	if err != nil {
		return Message{}, err
	}
	if m.SenderID != editorID {
		return Message{}, fmt.Errorf("%w: only the sender may edit", ErrForbidden)
	}

	now := s.now()
	if now.Sub(m.CreatedAt) > s.editWindow {
		return Message{}, fmt.Errorf("%w: %s elapsed", ErrEditWindowClosed, s.editWindow)
	}

	if err := s.store.UpdateContent(ctx, messageID, content, now); err != nil {
		return Message{}, err
	}
	m.Content = content
	m.EditedAt = &now

	payload := v1.MessageEditedPayload{
		MessageID:      m.ID,
		ConversationID: m.ConversationID,
		Content:        content,
		EditedAt:       now,
	}
	s.delivery.SendToUser(m.ReceiverID, v1.TypeMessageEdited, payload)
	s.delivery.SendToConversation(m.ConversationID, v1.TypeMessageEdited, payload)

	return m, nil
}

// SoftDelete hides a message from pages and unread counts. Either party of
// the conversation may delete; the row persists for audit.
func (s *Service) SoftDelete(ctx context.Context, messageID, requesterID int64) error {
	m, err := s.store.Get(ctx, messageID)
	if err != nil {
		return err
	}
	if requesterID != m.SenderID && requesterID != m.ReceiverID {
		return fmt.Errorf("%w: only sender or receiver may delete", ErrForbidden)
	}

	if err := s.store.SoftDelete(ctx, messageID, s.now()); err != nil {
		return err
	}

	payload := v1.MessageDeletedPayload{MessageID: m.ID, ConversationID: m.ConversationID}
	peer := m.SenderID
	if requesterID == m.SenderID {
		peer = m.ReceiverID
	}
	s.delivery.SendToUser(peer, v1.TypeMessageDeleted, payload)
	s.delivery.SendToConversation(m.ConversationID, v1.TypeMessageDeleted, payload)

	return nil
}

// UnreadCount counts unread, non-deleted messages addressed to readerID.
func (s *Service) UnreadCount(ctx context.Context, conversationID string, readerID int64) (int64, error) {
	return s.store.UnreadCount(ctx, conversationID, readerID)
}

func wireMessage(m Message) v1.MessagePayload {
	return v1.MessagePayload{
		ID:             m.ID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		Content:        m.Content,
		MessageType:    string(m.Type),
		ConversationID: m.ConversationID,
		FileURL:        m.FileURL,
		FileName:       m.FileName,
		CreatedAt:      m.CreatedAt,
	}
}

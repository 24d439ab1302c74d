package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	v1 "github.com/pranaynidhi/microhire-backend/contracts/realtime/v1"
)

const maxTitleChars = 200

// ErrInvalidInput reports a malformed notification request.
var ErrInvalidInput = errors.New("notify: invalid input")

// Delivery is the best-effort realtime overlay. It is implemented by the
// realtime router.
type Delivery interface {
	SendToUser(userID int64, eventType string, payload any) int
}

// Service persists notifications and pushes them to connected recipients.
// Persist fails -> the whole operation fails. Delivery fails or misses ->
// the operation still succeeds; a miss is a normal outcome.
type Service struct {
	log      *slog.Logger
	store    Store
	delivery Delivery

	now func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs the notification service.
func NewService(log *slog.Logger, store Store, delivery Delivery, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("notify: nil store")
	}
	if delivery == nil {
		return nil, errors.New("notify: nil delivery")
	}

	s := &Service{
		log:      log,
		store:    store,
		delivery: delivery,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s, nil
}

// Input describes one notification to create.
type Input struct {
	UserID    int64
	Title     string
	Message   string
	Type      Type
	Metadata  map[string]any
	Priority  Priority
	ExpiresAt *time.Time
}

func (in *Input) validate(now time.Time) error {
	in.Title = strings.TrimSpace(in.Title)
	in.Message = strings.TrimSpace(in.Message)

	if in.UserID <= 0 {
		return fmt.Errorf("%w: user id", ErrInvalidInput)
	}
	if in.Title == "" || len([]rune(in.Title)) > maxTitleChars {
		return fmt.Errorf("%w: title", ErrInvalidInput)
	}
	if in.Message == "" {
		return fmt.Errorf("%w: message", ErrInvalidInput)
	}
	if !in.Type.Valid() {
		return fmt.Errorf("%w: type %q", ErrInvalidInput, in.Type)
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if !in.Priority.Valid() {
		return fmt.Errorf("%w: priority %q", ErrInvalidInput, in.Priority)
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		return fmt.Errorf("%w: expires_at in the past", ErrInvalidInput)
	}
	return nil
}

// Notify persists a notification, then best-effort pushes it to the
// recipient's private room. The returned notification carries the assigned id.
func (s *Service) Notify(ctx context.Context, in Input) (Notification, error) {
	now := s.now()
	if err := in.validate(now); err != nil {
		return Notification{}, err
	}

	n := Notification{
		UserID:    in.UserID,
		Title:     in.Title,
		Message:   in.Message,
		Type:      in.Type,
		Metadata:  in.Metadata,
		Priority:  in.Priority,
		ExpiresAt: in.ExpiresAt,
		CreatedAt: now,
	}
	if err := s.store.Insert(ctx, &n); err != nil {
		return Notification{}, fmt.Errorf("persist notification: %w", err)
	}

	delivered := s.delivery.SendToUser(n.UserID, v1.TypeNotificationNew, wireNotification(n))
	if delivered == 0 {
		s.log.Debug("notification recipient offline",
			"notification_id", n.ID,
			"user_id", n.UserID,
			"type", string(n.Type),
		)
	}
	return n, nil
}

// ApplicationReceived notifies an employer about a new application.
func (s *Service) ApplicationReceived(ctx context.Context, employerID int64, applicantName, internshipTitle string, applicationID int64) (Notification, error) {
	return s.Notify(ctx, Input{
		UserID:  employerID,
		Title:   "New Application Received",
		Message: fmt.Sprintf("%s applied for %s", applicantName, internshipTitle),
		Type:    TypeApplicationReceived,
		Metadata: map[string]any{
			"application_id": applicationID,
		},
		Priority: PriorityHigh,
	})
}

// ApplicationStatusChanged notifies a student that their application moved.
func (s *Service) ApplicationStatusChanged(ctx context.Context, studentID int64, internshipTitle, status string, applicationID int64) (Notification, error) {
	priority := PriorityMedium
	if status == "accepted" || status == "rejected" {
		priority = PriorityHigh
	}
	return s.Notify(ctx, Input{
		UserID:  studentID,
		Title:   "Application Status Updated",
		Message: fmt.Sprintf("Your application for %s is now %s", internshipTitle, status),
		Type:    TypeApplicationStatusChanged,
		Metadata: map[string]any{
			"application_id": applicationID,
			"status":         status,
		},
		Priority: priority,
	})
}

// NewMessage notifies a recipient about an incoming direct message.
func (s *Service) NewMessage(ctx context.Context, receiverID int64, senderName string, messageID int64, conversationID string) (Notification, error) {
	return s.Notify(ctx, Input{
		UserID:  receiverID,
		Title:   "New Message",
		Message: fmt.Sprintf("You have a new message from %s", senderName),
		Type:    TypeNewMessage,
		Metadata: map[string]any{
			"message_id":      messageID,
			"conversation_id": conversationID,
		},
		Priority: PriorityMedium,
	})
}

// DeadlineReminder notifies a student about an approaching internship deadline.
func (s *Service) DeadlineReminder(ctx context.Context, studentID int64, internshipTitle string, internshipID int64, deadline time.Time) (Notification, error) {
	expires := deadline
	return s.Notify(ctx, Input{
		UserID:  studentID,
		Title:   "Application Deadline Approaching",
		Message: fmt.Sprintf("The deadline for %s is %s", internshipTitle, deadline.Format("Jan 2, 2006")),
		Type:    TypeInternshipDeadline,
		Metadata: map[string]any{
			"internship_id": internshipID,
		},
		Priority:  PriorityUrgent,
		ExpiresAt: &expires,
	})
}

// Page lists the user's notifications, newest first, excluding expired rows.
func (s *Service) Page(ctx context.Context, in PageInput) (PageResult, error) {
	if in.UserID <= 0 {
		return PageResult{}, fmt.Errorf("%w: user id", ErrInvalidInput)
	}
	if in.Now.IsZero() {
		in.Now = s.now()
	}
	return s.store.Page(ctx, in)
}

// MarkRead flips read state for one notification. Already-read is a no-op.
func (s *Service) MarkRead(ctx context.Context, id, userID int64) error {
	if id <= 0 || userID <= 0 {
		return fmt.Errorf("%w: id", ErrInvalidInput)
	}
	return s.store.MarkRead(ctx, id, userID, s.now())
}

// MarkAllRead flips read state for all unread notifications. Zero matches is
// a successful no-op; the count of flipped rows is returned.
func (s *Service) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	if userID <= 0 {
		return 0, fmt.Errorf("%w: user id", ErrInvalidInput)
	}
	return s.store.MarkAllRead(ctx, userID, s.now())
}

// UnreadCount counts unread, unexpired notifications for badge display.
func (s *Service) UnreadCount(ctx context.Context, userID int64) (int64, error) {
	if userID <= 0 {
		return 0, fmt.Errorf("%w: user id", ErrInvalidInput)
	}
	return s.store.UnreadCount(ctx, userID, s.now())
}

func wireNotification(n Notification) v1.NotificationPayload {
	return v1.NotificationPayload{
		ID:        n.ID,
		Title:     n.Title,
		Message:   n.Message,
		Type:      string(n.Type),
		Metadata:  n.Metadata,
		Priority:  string(n.Priority),
		CreatedAt: n.CreatedAt,
		ExpiresAt: n.ExpiresAt,
	}
}

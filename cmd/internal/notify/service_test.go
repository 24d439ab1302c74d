package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

type recordingDelivery struct {
	online map[int64]int

	events []deliveredEvent
}

type deliveredEvent struct {
	userID    int64
	eventType string
	payload   any
}

func (d *recordingDelivery) SendToUser(userID int64, eventType string, payload any) int {
	d.events = append(d.events, deliveredEvent{userID: userID, eventType: eventType, payload: payload})
	return d.online[userID]
}

func newTestService(t *testing.T, delivery *recordingDelivery, now time.Time) (*Service, *MemoryStore) {
	t.Helper()

	store := NewMemoryStore()
	svc, err := NewService(slog.New(slog.NewTextHandler(io.Discard, nil)), store, delivery, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store
}

func TestNotifyPersistsBeforeDelivery(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	delivery := &recordingDelivery{online: map[int64]int{7: 1}}
	svc, store := newTestService(t, delivery, now)

	n, err := svc.Notify(context.Background(), Input{
		UserID:  7,
		Title:   "New Application Received",
		Message: "Alice applied for Backend Intern",
		Type:    TypeApplicationReceived,
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if n.ID == 0 {
		t.Fatal("expected assigned id")
	}
	if n.Priority != PriorityMedium {
		t.Fatalf("default priority = %q, want %q", n.Priority, PriorityMedium)
	}

	page, err := store.Page(context.Background(), PageInput{UserID: 7, Now: now})
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	if len(page.Notifications) != 1 {
		t.Fatalf("persisted %d notifications, want 1", len(page.Notifications))
	}

	if len(delivery.events) != 1 {
		t.Fatalf("delivered %d events, want 1", len(delivery.events))
	}
	if got := delivery.events[0].eventType; got != "notification_new" {
		t.Fatalf("event type = %q, want notification_new", got)
	}
}

func TestNotifySucceedsWhenRecipientOffline(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	delivery := &recordingDelivery{}
	svc, store := newTestService(t, delivery, now)

	n, err := svc.Notify(context.Background(), Input{
		UserID:  42,
		Title:   "System Maintenance",
		Message: "Scheduled downtime tonight",
		Type:    TypeSystemAnnouncement,
	})
	if err != nil {
		t.Fatalf("Notify with offline recipient: %v", err)
	}

	// The record must be findable on next login even though nobody was
	// connected when the event fired.
	count, err := store.UnreadCount(context.Background(), 42, now)
	if err != nil {
		t.Fatalf("UnreadCount: %v", err)
	}
	if count != 1 {
		t.Fatalf("unread count = %d, want 1", count)
	}
	if n.ID == 0 {
		t.Fatal("expected assigned id")
	}
}

func TestNotifyValidation(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)

	cases := []struct {
		name string
		in   Input
	}{
		{"zero user", Input{Title: "t", Message: "m", Type: TypeNewMessage}},
		{"empty title", Input{UserID: 1, Message: "m", Type: TypeNewMessage}},
		{"empty message", Input{UserID: 1, Title: "t", Type: TypeNewMessage}},
		{"unknown type", Input{UserID: 1, Title: "t", Message: "m", Type: "shipped"}},
		{"unknown priority", Input{UserID: 1, Title: "t", Message: "m", Type: TypeNewMessage, Priority: "asap"}},
		{"expiry in the past", Input{UserID: 1, Title: "t", Message: "m", Type: TypeNewMessage, ExpiresAt: &past}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			svc, _ := newTestService(t, &recordingDelivery{}, now)
			if _, err := svc.Notify(context.Background(), tc.in); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("Notify(%s) err = %v, want ErrInvalidInput", tc.name, err)
			}
		})
	}
}

func TestUnreadCountExcludesExpired(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, store := newTestService(t, &recordingDelivery{}, now)

	soon := now.Add(time.Minute)
	if _, err := svc.Notify(context.Background(), Input{
		UserID: 5, Title: "Deadline", Message: "Closes soon",
		Type: TypeInternshipDeadline, ExpiresAt: &soon,
	}); err != nil {
		t.Fatalf("Notify expiring: %v", err)
	}
	if _, err := svc.Notify(context.Background(), Input{
		UserID: 5, Title: "Review", Message: "You got a review",
		Type: TypeReviewReceived,
	}); err != nil {
		t.Fatalf("Notify durable: %v", err)
	}

	count, err := svc.UnreadCount(context.Background(), 5)
	if err != nil {
		t.Fatalf("UnreadCount before expiry: %v", err)
	}
	if count != 2 {
		t.Fatalf("unread before expiry = %d, want 2", count)
	}

	// Advance past the first notification's expiry.
	later := now.Add(2 * time.Minute)
	svcLater, err := NewService(slog.New(slog.NewTextHandler(io.Discard, nil)), store, &recordingDelivery{}, WithClock(func() time.Time { return later }))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	count, err = svcLater.UnreadCount(context.Background(), 5)
	if err != nil {
		t.Fatalf("UnreadCount after expiry: %v", err)
	}
	if count != 1 {
		t.Fatalf("unread after expiry = %d, want 1", count)
	}

	page, err := svcLater.Page(context.Background(), PageInput{UserID: 5})
	if err != nil {
		t.Fatalf("Page after expiry: %v", err)
	}
	if len(page.Notifications) != 1 {
		t.Fatalf("page after expiry has %d rows, want 1", len(page.Notifications))
	}
	if page.Notifications[0].Type != TypeReviewReceived {
		t.Fatalf("surviving type = %q, want %q", page.Notifications[0].Type, TypeReviewReceived)
	}
}

func TestMarkReadIdempotent(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, &recordingDelivery{}, now)

	n, err := svc.Notify(context.Background(), Input{
		UserID: 9, Title: "t", Message: "m", Type: TypeNewMessage,
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if err := svc.MarkRead(context.Background(), n.ID, 9); err != nil {
		t.Fatalf("first MarkRead: %v", err)
	}
	if err := svc.MarkRead(context.Background(), n.ID, 9); err != nil {
		t.Fatalf("second MarkRead should be a no-op, got %v", err)
	}

	if err := svc.MarkRead(context.Background(), n.ID, 10); !errors.Is(err, ErrNotFound) {
		t.Fatalf("MarkRead by non-owner err = %v, want ErrNotFound", err)
	}
	if err := svc.MarkRead(context.Background(), n.ID+100, 9); !errors.Is(err, ErrNotFound) {
		t.Fatalf("MarkRead of missing id err = %v, want ErrNotFound", err)
	}
}

func TestMarkAllReadZeroRows(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, &recordingDelivery{}, now)

	count, err := svc.MarkAllRead(context.Background(), 11)
	if err != nil {
		t.Fatalf("MarkAllRead with nothing unread: %v", err)
	}
	if count != 0 {
		t.Fatalf("flipped %d rows, want 0", count)
	}

	for range 3 {
		if _, err := svc.Notify(context.Background(), Input{
			UserID: 11, Title: "t", Message: "m", Type: TypeSystemAnnouncement,
		}); err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}

	count, err = svc.MarkAllRead(context.Background(), 11)
	if err != nil {
		t.Fatalf("MarkAllRead: %v", err)
	}
	if count != 3 {
		t.Fatalf("flipped %d rows, want 3", count)
	}

	unread, err := svc.UnreadCount(context.Background(), 11)
	if err != nil {
		t.Fatalf("UnreadCount: %v", err)
	}
	if unread != 0 {
		t.Fatalf("unread after MarkAllRead = %d, want 0", unread)
	}
}

func TestDomainHelpers(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, &recordingDelivery{}, now)
	ctx := context.Background()

	n, err := svc.ApplicationReceived(ctx, 3, "Alice", "Backend Intern", 55)
	if err != nil {
		t.Fatalf("ApplicationReceived: %v", err)
	}
	if n.Type != TypeApplicationReceived || n.Priority != PriorityHigh {
		t.Fatalf("unexpected application-received shape: type=%q priority=%q", n.Type, n.Priority)
	}
	if n.Metadata["application_id"] != int64(55) {
		t.Fatalf("metadata application_id = %v, want 55", n.Metadata["application_id"])
	}

	n, err = svc.ApplicationStatusChanged(ctx, 4, "Backend Intern", "accepted", 55)
	if err != nil {
		t.Fatalf("ApplicationStatusChanged: %v", err)
	}
	if n.Priority != PriorityHigh {
		t.Fatalf("accepted status priority = %q, want high", n.Priority)
	}

	n, err = svc.ApplicationStatusChanged(ctx, 4, "Backend Intern", "pending", 55)
	if err != nil {
		t.Fatalf("ApplicationStatusChanged pending: %v", err)
	}
	if n.Priority != PriorityMedium {
		t.Fatalf("pending status priority = %q, want medium", n.Priority)
	}

	n, err = svc.NewMessage(ctx, 8, "Bob", 101, "conv_4_8")
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	if n.Metadata["conversation_id"] != "conv_4_8" {
		t.Fatalf("metadata conversation_id = %v", n.Metadata["conversation_id"])
	}

	deadline := now.Add(48 * time.Hour)
	n, err = svc.DeadlineReminder(ctx, 4, "Backend Intern", 12, deadline)
	if err != nil {
		t.Fatalf("DeadlineReminder: %v", err)
	}
	if n.ExpiresAt == nil || !n.ExpiresAt.Equal(deadline) {
		t.Fatalf("deadline reminder expiry = %v, want %v", n.ExpiresAt, deadline)
	}
	if n.Priority != PriorityUrgent {
		t.Fatalf("deadline priority = %q, want urgent", n.Priority)
	}
}

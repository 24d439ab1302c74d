// Package notify turns domain events into persisted notification records and
// pushes them to any currently-connected recipient.
//
// Persistence always happens first; delivery to a live connection is a
// best-effort overlay. A recipient who is offline when the event fires finds
// the notification via the REST surface on next login.
package notify

import "time"

// Type enumerates the domain events a notification can represent.
type Type string

const (
	TypeApplicationReceived      Type = "application_received"
	TypeApplicationStatusChanged Type = "application_status_changed"
	TypeNewMessage               Type = "new_message"
	TypeInternshipDeadline       Type = "internship_deadline"
	TypeSystemAnnouncement       Type = "system_announcement"
	TypeReviewReceived           Type = "review_received"
	TypeCertificateGenerated     Type = "certificate_generated"
)

// Valid reports whether t is a known notification type.
func (t Type) Valid() bool {
	switch t {
	case TypeApplicationReceived, TypeApplicationStatusChanged, TypeNewMessage,
		TypeInternshipDeadline, TypeSystemAnnouncement, TypeReviewReceived,
		TypeCertificateGenerated:
		return true
	default:
		return false
	}
}

// Priority orders notifications for display; it has no delivery semantics.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	default:
		return false
	}
}

// Notification is the persisted notification entity.
//
// Mutated only to flip read state. A notification past ExpiresAt is filtered
// out of pages and unread counts, never deleted.
type Notification struct {
	ID        int64
	UserID    int64
	Title     string
	Message   string
	Type      Type
	Metadata  map[string]any
	Priority  Priority
	IsRead    bool
	ReadAt    *time.Time
	ExpiresAt *time.Time
	CreatedAt time.Time
}

// Expired reports whether the notification is past its expiry at "now".
func (n Notification) Expired(now time.Time) bool {
	return n.ExpiresAt != nil && !n.ExpiresAt.After(now)
}

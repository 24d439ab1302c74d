package messaging

import "errors"

// Sentinel errors exposed to the gateway and REST handlers for classification.
var (
	// ErrInvalidInput covers malformed payloads: missing receiver, empty or
	// oversized content, unknown message type.
	ErrInvalidInput = errors.New("messaging: invalid input")
	// ErrNotFound reports a missing or already-soft-deleted message.
	ErrNotFound = errors.New("messaging: message not found")
	// ErrForbidden reports acting on a message or conversation one does not own.
	ErrForbidden = errors.New("messaging: forbidden")
	// ErrEditWindowClosed reports an edit attempted after the fixed window.
	// The window is a hard boundary, not advisory.
	ErrEditWindowClosed = errors.New("messaging: edit window closed")
)

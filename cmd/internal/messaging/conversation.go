package messaging

import (
	"fmt"
	"strconv"
	"strings"
)

// ConversationID derives the canonical identifier for the two-party stream
// between a and b. It is symmetric: ConversationID(a, b) == ConversationID(b, a).
//
// Call it once at message-creation time and store the result; never recompute
// it from message content afterwards.
func ConversationID(a, b int64) string {
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	return fmt.Sprintf("conv_%d_%d", lo, hi)
}

// ParticipantIDs inverts ConversationID, returning the two participant ids.
func ParticipantIDs(conversationID string) (int64, int64, error) {
	rest, ok := strings.CutPrefix(conversationID, "conv_")
	if !ok {
		return 0, 0, fmt.Errorf("%w: malformed conversation id %q", ErrInvalidInput, conversationID)
	}
	parts := strings.Split(rest, "_")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: malformed conversation id %q", ErrInvalidInput, conversationID)
	}
	lo, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: malformed conversation id %q", ErrInvalidInput, conversationID)
	}
	hi, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: malformed conversation id %q", ErrInvalidInput, conversationID)
	}
	if lo <= 0 || hi <= 0 || lo > hi {
		return 0, 0, fmt.Errorf("%w: malformed conversation id %q", ErrInvalidInput, conversationID)
	}
	return lo, hi, nil
}

// IsParticipant reports whether userID is one of the conversation's two parties.
func IsParticipant(conversationID string, userID int64) bool {
	lo, hi, err := ParticipantIDs(conversationID)
	if err != nil {
		return false
	}
	return userID == lo || userID == hi
}

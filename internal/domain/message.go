//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_store.go -package=mocks

package domain

import (
	"cmp"
	"context"
	"slices"
	"time"
)

// TimestampLayout is the wire format of message timestamps.
const TimestampLayout = "2006-01-02 15:04:05"

// Message is a persisted direct message. ID and Timestamp are assigned by the
// store; the core treats messages as immutable.
type Message struct {
	ID         int64
	SenderID   UserID
	ReceiverID UserID
	Content    string
	Timestamp  time.Time
}

// Compare orders messages by timestamp, then by ID.
func (m Message) Compare(other Message) int {
	if c := m.Timestamp.Compare(other.Timestamp); c != 0 {
		return c
	}
	return cmp.Compare(m.ID, other.ID)
}

// SortMessages sorts msgs ascending by (Timestamp, ID) in place.
func SortMessages(msgs []Message) {
	slices.SortStableFunc(msgs, Message.Compare)
}

// Between reports whether m was exchanged between a and b, in either direction.
func (m Message) Between(a, b UserID) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

// MessageStore is the durable message collaborator. Implementations must be
// safe for concurrent use and assign IDs atomically on Create.
type MessageStore interface {
	// Create persists a message and returns it with ID and Timestamp set.
	Create(ctx context.Context, senderID, receiverID UserID, content string) (Message, error)
	// Query returns every message between a and b ordered by (Timestamp, ID).
	Query(ctx context.Context, a, b UserID) ([]Message, error)
}

// Package pubsub carries in-process events between chat components: session
// lifecycle, status announcements and presence changes.
package pubsub

import (
	"context"
)

// Message is one event on the bus. Payload is JSON for typed events.
type Message struct {
	Topic string
	// UserID is the user the event concerns, in decimal form. It may be empty.
	UserID   string
	Payload  []byte
	Metadata map[string]string
}

// Handler processes one delivered message. A returned error is logged and
// the message is still acknowledged.
type Handler func(ctx context.Context, msg Message) error

// Publisher sends messages to a topic.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Subscriber registers handlers for a topic. Subscribe returns once the
// subscription is live; delivery stops when ctx ends or the subscriber closes.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}

// Bus is the application-wide event bus.
type Bus interface {
	Publisher
	Subscriber
}

var _ Bus = (*WatermillBridge)(nil)

// Package pubsub is the in-process bus for connection lifecycle
// notifications. Chat events never travel over it; they go through the hub.
package pubsub

import "context"

// Message is one notification on the bus.
type Message struct {
	Topic string
	// ConnID is the connection the notification is about.
	ConnID string
	// Payload is the JSON-encoded event body.
	Payload []byte
}

// Handler processes a delivered notification. A returned error is logged;
// the notification is not redelivered.
type Handler func(ctx context.Context, msg Message) error

// Publisher sends notifications.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Subscriber receives notifications for a topic until ctx is cancelled.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}

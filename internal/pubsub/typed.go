package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Topics for connection lifecycle notifications.
const (
	TopicConnectionOpened = "relay.connection.opened"
	TopicConnectionClosed = "relay.connection.closed"
)

// ConnectionOpened is published when a WebSocket connection is accepted.
type ConnectionOpened struct {
	ConnID     string    `json:"connID"`
	RemoteAddr string    `json:"remoteAddr"`
	OpenedAt   time.Time `json:"openedAt"`
}

// ConnectionClosed is published after a connection has been torn down.
type ConnectionClosed struct {
	ConnID   string    `json:"connID"`
	Reason   string    `json:"reason"`
	ClosedAt time.Time `json:"closedAt"`
}

// Event[T] binds a topic name to its payload type for type-safe publishing.
type Event[T any] struct {
	topicName string
}

// NewEvent creates a typed event for the named topic.
func NewEvent[T any](name string) Event[T] {
	return Event[T]{topicName: name}
}

// Name returns the topic name.
func (e Event[T]) Name() string {
	return e.topicName
}

// Typed lifecycle events.
var (
	ConnectionOpenedEvent = NewEvent[ConnectionOpened](TopicConnectionOpened)
	ConnectionClosedEvent = NewEvent[ConnectionClosed](TopicConnectionClosed)
)

// Publish sends a typed event. The compiler ensures 'payload' matches 'T'.
func Publish[T any](ctx context.Context, p Publisher, event Event[T], connID string, payload T) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event.Name(), err)
	}

	return p.Publish(ctx, Message{
		Topic:   event.Name(),
		ConnID:  connID,
		Payload: data,
	})
}

// Decode unmarshals a message published with Publish back into T.
func Decode[T any](event Event[T], msg Message) (T, error) {
	var payload T
	if msg.Topic != event.Name() {
		return payload, fmt.Errorf("decode %s payload: unexpected topic %q", event.Name(), msg.Topic)
	}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return payload, fmt.Errorf("decode %s payload: %w", event.Name(), err)
	}
	return payload, nil
}

// Subscribe delivers every payload published for event to fn.
func Subscribe[T any](ctx context.Context, s Subscriber, event Event[T], fn func(ctx context.Context, payload T) error) error {
	return s.Subscribe(ctx, event.Name(), func(ctx context.Context, msg Message) error {
		payload, err := Decode(event, msg)
		if err != nil {
			return err
		}
		return fn(ctx, payload)
	})
}

package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// outputBuffer is the per-subscriber backlog GoChannel keeps before the
// publisher has to wait.
const outputBuffer = 64

const metaConnID = "conn_id"

// ErrEmptyTopic is returned when publishing or subscribing without a topic.
var ErrEmptyTopic = errors.New("empty topic")

// WatermillBridge is a Publisher and Subscriber backed by watermill's
// in-memory GoChannel.
type WatermillBridge struct {
	channel *gochannel.GoChannel
	logger  *slog.Logger
}

// NewWatermillBridge creates an in-memory bus.
func NewWatermillBridge() *WatermillBridge {
	return &WatermillBridge{
		channel: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: outputBuffer},
			watermill.NewStdLogger(false, false),
		),
		logger: slog.Default().With("component", "bus"),
	}
}

// Publish implements Publisher.
func (b *WatermillBridge) Publish(ctx context.Context, msg Message) error {
	if msg.Topic == "" {
		return ErrEmptyTopic
	}

	wm := message.NewMessage(watermill.NewUUID(), msg.Payload)
	wm.Metadata.Set(metaConnID, msg.ConnID)
	wm.SetContext(ctx)

	if err := b.channel.Publish(msg.Topic, wm); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Topic, err)
	}
	return nil
}

// Subscribe implements Subscriber. Delivery runs on its own goroutine, so
// Subscribe returns as soon as the subscription is registered.
func (b *WatermillBridge) Subscribe(ctx context.Context, topic string, handler Handler) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	messages, err := b.channel.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}

	go b.consume(topic, messages, handler)
	return nil
}

func (b *WatermillBridge) consume(topic string, messages <-chan *message.Message, handler Handler) {
	for wm := range messages {
		msg := Message{
			Topic:   topic,
			ConnID:  wm.Metadata.Get(metaConnID),
			Payload: wm.Payload,
		}
		if err := handler(wm.Context(), msg); err != nil {
			b.logger.Warn("Lifecycle handler failed", "topic", topic, "connID", msg.ConnID, "error", err)
		}
		// A nacked message is redelivered by GoChannel until it succeeds.
		wm.Ack()
	}
	b.logger.Debug("Subscription ended", "topic", topic)
}

// Close stops every subscription.
func (b *WatermillBridge) Close() error {
	return b.channel.Close()
}

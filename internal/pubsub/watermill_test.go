package pubsub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBridge(t *testing.T) *WatermillBridge {
	t.Helper()
	bridge := NewWatermillBridge()
	t.Cleanup(func() { _ = bridge.Close() })
	return bridge
}

func TestWatermillBridge_PublishSubscribe(t *testing.T) {
	bridge := newBridge(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type delivery struct {
		msg Message
		ctx context.Context
	}
	received := make(chan delivery, 1)
	require.NoError(t, bridge.Subscribe(ctx, "test.topic", func(ctx context.Context, msg Message) error {
		received <- delivery{msg: msg, ctx: ctx}
		return nil
	}))

	require.NoError(t, bridge.Publish(ctx, Message{
		Topic:   "test.topic",
		ConnID:  "conn-1",
		Payload: []byte(`{"key":"value"}`),
	}))

	select {
	case d := <-received:
		assert.Equal(t, "test.topic", d.msg.Topic)
		assert.Equal(t, "conn-1", d.msg.ConnID)
		assert.JSONEq(t, `{"key":"value"}`, string(d.msg.Payload))
		require.NotNil(t, d.ctx)
	case <-time.After(2 * time.Second):
		t.Fatal("message was not delivered")
	}
}

func TestWatermillBridge_EmptyTopic(t *testing.T) {
	bridge := newBridge(t)
	ctx := context.Background()

	assert.ErrorIs(t, bridge.Publish(ctx, Message{ConnID: "c1"}), ErrEmptyTopic)
	assert.ErrorIs(t, bridge.Subscribe(ctx, "", func(context.Context, Message) error { return nil }), ErrEmptyTopic)
}

func TestWatermillBridge_HandlerErrorDoesNotStallTopic(t *testing.T) {
	bridge := newBridge(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var calls []string
	require.NoError(t, bridge.Subscribe(ctx, "test.topic", func(ctx context.Context, msg Message) error {
		mu.Lock()
		calls = append(calls, msg.ConnID)
		mu.Unlock()
		if msg.ConnID == "bad" {
			return errors.New("boom")
		}
		return nil
	}))

	require.NoError(t, bridge.Publish(ctx, Message{Topic: "test.topic", ConnID: "bad"}))
	require.NoError(t, bridge.Publish(ctx, Message{Topic: "test.topic", ConnID: "good"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"bad", "good"}, calls, "a failed message must be handled exactly once")
}

func TestTypedPublishSubscribe(t *testing.T) {
	bridge := newBridge(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan ConnectionOpened, 1)
	require.NoError(t, Subscribe(ctx, bridge, ConnectionOpenedEvent, func(ctx context.Context, ev ConnectionOpened) error {
		received <- ev
		return nil
	}))

	opened := ConnectionOpened{ConnID: "c1", RemoteAddr: "192.0.2.1:1234", OpenedAt: time.Now().UTC().Truncate(time.Second)}
	require.NoError(t, Publish(ctx, bridge, ConnectionOpenedEvent, opened.ConnID, opened))

	select {
	case got := <-received:
		assert.Equal(t, opened, got)
	case <-time.After(2 * time.Second):
		t.Fatal("typed message was not delivered")
	}
}

func TestTypedSubscribe_SkipsMalformedPayload(t *testing.T) {
	bridge := newBridge(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan ConnectionClosed, 2)
	require.NoError(t, Subscribe(ctx, bridge, ConnectionClosedEvent, func(ctx context.Context, ev ConnectionClosed) error {
		received <- ev
		return nil
	}))

	require.NoError(t, bridge.Publish(ctx, Message{Topic: TopicConnectionClosed, ConnID: "x", Payload: []byte("not json")}))
	require.NoError(t, Publish(ctx, bridge, ConnectionClosedEvent, "c2", ConnectionClosed{ConnID: "c2", Reason: "shutdown"}))

	select {
	case got := <-received:
		assert.Equal(t, "c2", got.ConnID, "the malformed payload never reaches the handler")
	case <-time.After(2 * time.Second):
		t.Fatal("typed message was not delivered")
	}
}

func TestDecode_WrongTopic(t *testing.T) {
	_, err := Decode(ConnectionClosedEvent, Message{Topic: TopicConnectionOpened, Payload: []byte(`{}`)})
	assert.Error(t, err)
}

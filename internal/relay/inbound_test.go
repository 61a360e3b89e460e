package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/relay/internal/config"
	"github.com/nfrund/relay/internal/events"
	"github.com/nfrund/relay/internal/hub"
	"github.com/nfrund/relay/internal/metrics"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newInbound(conn *fakeConn, h *hub.Hub, policy string) (*Inbound, *metrics.RelayMetrics) {
	m := metrics.NewRelayMetrics(prometheus.NewRegistry())
	return &Inbound{Reader: conn, Hub: h, Policy: policy, Metrics: m, Logger: discardLogger()}, m
}

func runAsync(ctx context.Context, run func(context.Context) error) <-chan error {
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()
	return done
}

func waitErr(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("pump did not return")
		return nil
	}
}

func TestInbound_PublishesDecodedEvents(t *testing.T) {
	h := hub.New(8)
	sub, err := h.Subscribe()
	require.NoError(t, err)
	defer sub.Close()

	conn := newFakeConn()
	in, m := newInbound(conn, h, config.DecodePolicyClose)
	done := runAsync(context.Background(), in.Run)

	conn.sendText(`{"type":"Message","user":"alice","content":"hi"}`)
	conn.sendText(`{"type":"Message","user":"bob","content":"yo"}`)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, events.Message{User: "alice", Content: "hi"}, ev)
	ev, err = sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, events.Message{User: "bob", Content: "yo"}, ev)

	close(conn.in)
	require.NoError(t, waitErr(t, done), "end of stream is a normal return")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsReceived))
}

func TestInbound_NoSubscribersIsNotAnError(t *testing.T) {
	conn := newFakeConn()
	in, m := newInbound(conn, hub.New(4), config.DecodePolicyClose)
	done := runAsync(context.Background(), in.Run)

	conn.sendText(`{"type":"Message","user":"alice","content":"anyone?"}`)
	close(conn.in)

	require.NoError(t, waitErr(t, done))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsReceived))
}

func TestInbound_ReadErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantNil   bool
		wantTrans bool
	}{
		{name: "normal closure", err: websocket.CloseError{Code: websocket.StatusNormalClosure}, wantNil: true},
		{name: "going away", err: websocket.CloseError{Code: websocket.StatusGoingAway}, wantNil: true},
		{name: "eof", err: io.EOF, wantNil: true},
		{name: "abnormal close", err: websocket.CloseError{Code: websocket.StatusProtocolError}, wantTrans: true},
		{name: "reset", err: errors.New("connection reset by peer"), wantTrans: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := newFakeConn()
			in, _ := newInbound(conn, hub.New(4), config.DecodePolicyClose)
			done := runAsync(context.Background(), in.Run)

			conn.failReads(tt.err)
			err := waitErr(t, done)

			if tt.wantNil {
				assert.NoError(t, err)
				return
			}
			var te *TransportError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, "read", te.Op)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestInbound_DecodeErrorClosePolicy(t *testing.T) {
	conn := newFakeConn()
	in, m := newInbound(conn, hub.New(4), config.DecodePolicyClose)
	done := runAsync(context.Background(), in.Run)

	conn.sendText(`{"type":"Poke"}`)

	err := waitErr(t, done)
	var de *events.DecodeError
	require.ErrorAs(t, err, &de)
	assert.ErrorIs(t, err, events.ErrUnknownType)
	assert.Equal(t, `{"type":"Poke"}`, string(de.Raw))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecodeErrors))
}

func TestInbound_BinaryFrameIsDecodeError(t *testing.T) {
	conn := newFakeConn()
	in, _ := newInbound(conn, hub.New(4), config.DecodePolicyClose)
	done := runAsync(context.Background(), in.Run)

	conn.in <- frame{typ: websocket.MessageBinary, data: []byte{0x01, 0x02}}

	err := waitErr(t, done)
	var de *events.DecodeError
	require.ErrorAs(t, err, &de)
	assert.ErrorIs(t, err, ErrBinaryFrame)
}

func TestInbound_DecodeErrorSkipPolicy(t *testing.T) {
	h := hub.New(4)
	sub, err := h.Subscribe()
	require.NoError(t, err)
	defer sub.Close()

	conn := newFakeConn()
	in, m := newInbound(conn, h, config.DecodePolicySkip)
	done := runAsync(context.Background(), in.Run)

	conn.sendText(`not json`)
	conn.sendText(`{"type":"Poke"}`)
	conn.sendText(`{"type":"Message","user":"alice","content":"still here"}`)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, events.Message{User: "alice", Content: "still here"}, ev)

	close(conn.in)
	require.NoError(t, waitErr(t, done))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DecodeErrors))
}

func TestInbound_HubClosed(t *testing.T) {
	h := hub.New(4)
	sub, err := h.Subscribe()
	require.NoError(t, err)
	defer sub.Close()
	require.NoError(t, h.Close())

	conn := newFakeConn()
	in, _ := newInbound(conn, h, config.DecodePolicyClose)
	done := runAsync(context.Background(), in.Run)

	conn.sendText(`{"type":"Message","user":"alice","content":"late"}`)
	assert.ErrorIs(t, waitErr(t, done), hub.ErrClosed)
}

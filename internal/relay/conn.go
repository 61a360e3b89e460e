// Package relay runs the per-connection pumps that move chat events between
// a WebSocket and the hub, and the supervisor that ties their lifetimes
// together.
package relay

import (
	"context"

	"github.com/coder/websocket"
)

// FrameReader is the read half of a connection.
type FrameReader interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
}

// FrameWriter is the write half of a connection.
type FrameWriter interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
}

// Conn is an accepted WebSocket. *websocket.Conn satisfies it.
type Conn interface {
	FrameReader
	FrameWriter
	Close(code websocket.StatusCode, reason string) error
	CloseNow() error
}

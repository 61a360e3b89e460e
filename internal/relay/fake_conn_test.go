package relay

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/coder/websocket"
)

type frame struct {
	typ  websocket.MessageType
	data []byte
}

// fakeConn is an in-memory Conn. Frames sent on in are returned by Read;
// closing in ends the stream with io.EOF. Writes land on out.
type fakeConn struct {
	in  chan frame
	out chan []byte

	mu        sync.Mutex
	readErr   error
	writeErr  error
	closeCode websocket.StatusCode
	closedNow bool

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan frame, 16),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) sendText(s string) {
	c.in <- frame{typ: websocket.MessageText, data: []byte(s)}
}

func (c *fakeConn) failReads(err error) {
	c.mu.Lock()
	c.readErr = err
	c.mu.Unlock()
	c.in <- frame{}
}

func (c *fakeConn) failWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

func (c *fakeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case f, ok := <-c.in:
		if !ok {
			return 0, nil, io.EOF
		}
		c.mu.Lock()
		err := c.readErr
		c.mu.Unlock()
		if err != nil {
			return 0, nil, err
		}
		return f.typ, f.data, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (c *fakeConn) Write(ctx context.Context, typ websocket.MessageType, p []byte) error {
	c.mu.Lock()
	err := c.writeErr
	c.mu.Unlock()
	if err != nil {
		return err
	}
	select {
	case c.out <- p:
		return nil
	case <-c.closed:
		return net.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeConn) Close(code websocket.StatusCode, reason string) error {
	err := errors.New("already closed")
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeCode = code
		c.mu.Unlock()
		close(c.closed)
		err = nil
	})
	return err
}

func (c *fakeConn) CloseNow() error {
	err := errors.New("already closed")
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closedNow = true
		c.mu.Unlock()
		close(c.closed)
		err = nil
	})
	return err
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) status() (websocket.StatusCode, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closedNow
}

package relay

import (
	"errors"
	"fmt"
)

// ErrBinaryFrame is the decode failure reported for non-text frames.
var ErrBinaryFrame = errors.New("binary frames are not supported")

// TransportError is a read or write failure on the socket. It always ends
// the connection.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("websocket %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

package wire

import "errors"

// ErrNotConnected is returned by Send/Ping once the socket has closed, and
// delivered to any send that was in flight when the closure happened.
var ErrNotConnected = errors.New("wire: not connected")

// ErrTimeout is returned when a send or ping does not receive its
// acknowledgement within the configured deadline.
var ErrTimeout = errors.New("wire: timeout")

// ErrConnectTimeout is returned by Connect when the peer's OPEN frame does
// not arrive within ConnectTimeout.
var ErrConnectTimeout = errors.New("wire: connect timeout")

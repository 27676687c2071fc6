package host

import (
	"errors"
	"fmt"

	"github.com/relaykit/host-sdk/internal/wire"
)

// Timeout and NotConnected are the host package's names for the transport
// layer's sentinels, re-exported so callers never need to import
// internal/wire directly to compare errors.
var (
	Timeout      = wire.ErrTimeout
	NotConnected = wire.ErrNotConnected
)

// IOErrorKind enumerates the reasons a pending render or I/O await can be
// rejected without a handler-level error ever being thrown.
type IOErrorKind string

const (
	IOCanceled         IOErrorKind = "CANCELED"
	IOTransactionClosed IOErrorKind = "TRANSACTION_CLOSED"
	IOBadResponse      IOErrorKind = "BAD_RESPONSE"
	IORenderError      IOErrorKind = "RENDER_ERROR"
)

// IOError is returned from io.* calls when a render is aborted by the
// server, by local transaction closure, or by a malformed reply, rather
// than by ordinary validation or the handler's own logic.
type IOError struct {
	Kind    IOErrorKind
	Message string
}

func (e *IOError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("host: io error (%s): %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("host: io error (%s)", e.Kind)
}

// IsCanceled reports whether err is an IOError produced by server-initiated
// cancellation, the one IOErrorKind a handler is expected to recover from.
func IsCanceled(err error) bool {
	var ioErr *IOError
	if errors.As(err, &ioErr) {
		return ioErr.Kind == IOCanceled
	}
	return false
}

// ValidationError reports a schema parse failure on an inbound message,
// either at the DuplexRPC layer or in a ComponentRegistry parse call.
type ValidationError struct {
	MethodName string
	Cause      error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("host: validation failed for %q: %v", e.MethodName, e.Cause)
}

func (e *ValidationError) Unwrap() error { return e.Cause }

// HostError covers higher-level orchestration failures that are not tied to
// a single transaction: an invalid apiKey, or an operation attempted while
// a graceful shutdown is in progress.
type HostError struct {
	Message string
	Cause   error
}

func (e *HostError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("host: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("host: %s", e.Message)
}

func (e *HostError) Unwrap() error { return e.Cause }

// ErrShuttingDown is returned by handleStartTransaction when a transaction arrives after
// BeginShutdown but before the socket has fully closed.
var ErrShuttingDown = &HostError{Message: "host is shutting down, rejecting new transaction"}

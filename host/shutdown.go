package host

import (
	"context"
	"time"
)

// BeginShutdown asks the server to stop dispatching new transactions via
// BEGIN_HOST_SHUTDOWN, then waits for every in-flight transaction to reach
// MARK_TRANSACTION_COMPLETE (drained from the transactions map) before
// closing the socket, per spec.md §4.3's "safelyClose" semantics.
func (h *Host) BeginShutdown(ctx context.Context) error {
	h.mu.Lock()
	if h.shuttingDown {
		h.mu.Unlock()
		return nil
	}
	h.shuttingDown = true
	h.mu.Unlock()

	if err := h.call(ctx, "BEGIN_HOST_SHUTDOWN", BeginHostShutdownParams{InstanceID: h.instanceID}, nil); err != nil {
		h.logger.Warn("BEGIN_HOST_SHUTDOWN failed, closing anyway", "error", err)
	}

	h.waitForDrain(ctx)

	time.Sleep(h.cfg.CompleteHTTPRequestDelay)
	return h.closeSocket()
}

func (h *Host) waitForDrain(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		h.mu.Lock()
		remaining := len(h.transactions)
		h.mu.Unlock()
		if remaining == 0 {
			return
		}
		select {
		case <-ctx.Done():
			h.logger.Warn("shutdown drain timed out with transactions still in flight", "remaining", remaining)
			return
		case <-ticker.C:
		}
	}
}

// ImmediatelyClose aborts the connection without draining in-flight
// transactions, per spec.md §4.3's "immediatelyClose() aborts without
// draining".
func (h *Host) ImmediatelyClose() error {
	h.mu.Lock()
	h.shuttingDown = true
	h.mu.Unlock()
	return h.closeSocket()
}

func (h *Host) closeSocket() error {
	h.mu.Lock()
	h.closed = true
	h.initialized = false
	socket := h.socket
	h.mu.Unlock()

	h.closeOnce.Do(func() { close(h.shutdownCh) })
	h.routes.Unobserve(h)

	if socket == nil {
		return nil
	}
	return socket.Close()
}

// Done returns a channel closed once the host has fully shut down.
func (h *Host) Done() <-chan struct{} {
	return h.shutdownCh
}

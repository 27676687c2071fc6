package host

import (
	"context"
	"time"

	"github.com/relaykit/host-sdk/internal/wire"
)

// resendAll runs the three resend coordinators spec.md §4.3 names, after a
// successful reconnect. Each walks its own PendingRenderTable snapshot and
// is independent of the others; a slow or failing page-layout resend must
// not block transaction renders from going out.
func (h *Host) resendAll() {
	go h.resendPendingRenders()
	go h.resendPendingPageLayouts()
	go h.resendTransactionLoadingStates()
}

// resendPendingRenders replays the last render instruction for every
// TransactionID still tracked as active, so the service's view survives a
// reconnect (spec.md §8 "After a socket reconnect, the set of PendingRender
// keys is a subset of those present immediately before the disconnect").
func (h *Host) resendPendingRenders() {
	for _, entry := range h.renderTable.Snapshot() {
		h.mu.Lock()
		_, stillActive := h.transactions[entry.TransactionID]
		h.mu.Unlock()
		if !stillActive {
			h.renderTable.delete(entry.TransactionID)
			continue
		}
		h.resendWithBackoff(entry.TransactionID, func(ctx context.Context) error {
			return h.call(ctx, "SEND_IO_CALL", SendIOCallParams{
				TransactionID: entry.TransactionID,
				RenderID:      entry.RenderID,
				ToRender:      entry.Instruction,
			}, nil)
		}, func() { h.renderTable.delete(entry.TransactionID) })
	}
}

func (h *Host) resendPendingPageLayouts() {
	for _, entry := range h.pageTable.Snapshot() {
		h.mu.Lock()
		_, stillActive := h.pages[entry.TransactionID]
		h.mu.Unlock()
		if !stillActive {
			h.pageTable.delete(entry.TransactionID)
			continue
		}
		h.resendWithBackoff(entry.TransactionID, func(ctx context.Context) error {
			return h.sendPage(ctx, SendPageParams{PageKey: entry.TransactionID, Layout: entry.Instruction})
		}, func() { h.pageTable.delete(entry.TransactionID) })
	}
}

func (h *Host) resendTransactionLoadingStates() {
	h.mu.Lock()
	snaps := make(map[string]LoadingState, len(h.loadingSnaps))
	for k, v := range h.loadingSnaps {
		snaps[k] = v
	}
	h.mu.Unlock()

	for transactionID, state := range snaps {
		h.mu.Lock()
		_, stillActive := h.transactions[transactionID]
		h.mu.Unlock()
		if !stillActive {
			h.mu.Lock()
			delete(h.loadingSnaps, transactionID)
			h.mu.Unlock()
			continue
		}
		h.resendWithBackoff(transactionID, func(ctx context.Context) error {
			return h.sendLoadingCall(ctx, transactionID, state)
		}, func() {
			h.mu.Lock()
			delete(h.loadingSnaps, transactionID)
			h.mu.Unlock()
		})
	}
}

// resendWithBackoff retries attempt up to Config.MaxResendAttempts times
// with backoff attemptNumber*RetryInterval (spec.md §4.3, §8: "maxResendAttempts
// = 0 produces exactly one attempt and then fails"). It evicts the entry via
// onUnrecoverable on success or on an error the server reports as terminal.
func (h *Host) resendWithBackoff(key string, attempt func(ctx context.Context) error, onUnrecoverable func()) {
	maxAttempts := *h.cfg.MaxResendAttempts + 1
	for n := 1; n <= maxAttempts; n++ {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SendTimeout)
		err := attempt(ctx)
		cancel()
		if err == nil {
			onUnrecoverable()
			return
		}
		if isUnrecoverableResendError(err) {
			onUnrecoverable()
			return
		}
		if n == maxAttempts {
			h.logger.Warn("resend exhausted attempts, giving up", "key", key, "error", err)
			return
		}
		// Back off n*RetryInterval before the next attempt.
		time.Sleep(time.Duration(n) * h.cfg.RetryInterval)
	}
}

func isUnrecoverableResendError(err error) bool {
	if _, ok := err.(*wire.RemoteError); ok {
		return true
	}
	if ioErr, ok := err.(*IOError); ok {
		return ioErr.Kind == IOCanceled || ioErr.Kind == IOTransactionClosed
	}
	return false
}

package host

import "context"

// sendIOCall implements ioSender for TransactionRuntime's IOClient.
func (h *Host) sendIOCall(ctx context.Context, params SendIOCallParams) error {
	return h.call(ctx, "SEND_IO_CALL", params, nil)
}

// sendPage is SEND_IO_CALL's page-session analogue; it is not part of the
// ioSender interface since only page handlers invoke it, never an action's
// IOClient.
func (h *Host) sendPage(ctx context.Context, params SendPageParams) error {
	return h.call(ctx, "SEND_PAGE", params, nil)
}

// sendRedirectCall implements ioSender.
func (h *Host) sendRedirectCall(ctx context.Context, params SendRedirectParams) error {
	return h.call(ctx, "SEND_REDIRECT", params, nil)
}

// sendLog implements logSender.
func (h *Host) sendLog(ctx context.Context, params SendLogParams) error {
	return h.call(ctx, "SEND_LOG", params, nil)
}

// sendLoadingCall implements loadingSender. It also snapshots the state
// into loadingSnaps so the resend coordinator can replay it after a
// reconnect even if the handler never mutates the LoadingHandle again.
func (h *Host) sendLoadingCall(ctx context.Context, transactionID string, state LoadingState) error {
	h.mu.Lock()
	h.loadingSnaps[transactionID] = state
	h.mu.Unlock()
	return h.call(ctx, "SEND_LOADING_CALL", SendLoadingCallParams{TransactionID: transactionID, State: state}, nil)
}

// markTransactionComplete implements transactionSender; it also clears the
// loading-state snapshot, since a completed transaction has nothing left
// to resend.
func (h *Host) markTransactionComplete(ctx context.Context, transactionID string, result ActionResult) error {
	h.mu.Lock()
	delete(h.loadingSnaps, transactionID)
	h.mu.Unlock()
	h.renderTable.delete(transactionID)
	return h.call(ctx, "MARK_TRANSACTION_COMPLETE", MarkTransactionCompleteParams{TransactionID: transactionID, Result: result}, nil)
}

// onErrorCallback implements transactionSender.
func (h *Host) onErrorCallback() func(err error, ec ErrorContext) {
	return h.cfg.OnError
}

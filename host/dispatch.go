package host

import (
	"context"
	"strings"

	"github.com/relaykit/host-sdk/internal/fastjson"
	"github.com/relaykit/host-sdk/internal/wire"
)

// responderHandlers builds the wire.Handler table for every service-to-host
// method spec.md §4.3 names. Each wraps a strictly-typed request parse
// around the corresponding handle* method.
func (h *Host) responderHandlers() map[string]wire.Handler {
	return map[string]wire.Handler{
		"START_TRANSACTION": wrapTyped(h, func(ctx context.Context, params StartTransactionParams) (any, error) {
			return nil, h.handleStartTransaction(params)
		}),
		"OPEN_PAGE": wrapTyped(h, func(ctx context.Context, params OpenPageParams) (any, error) {
			return nil, h.handleOpenPage(params)
		}),
		"IO_RESPONSE": wrapTyped(h, func(ctx context.Context, params IOResponseParams) (any, error) {
			h.handleIOResponse(params)
			return nil, nil
		}),
		"CLOSE_TRANSACTION": wrapTyped(h, func(ctx context.Context, params CloseTransactionParams) (any, error) {
			h.handleCloseTransaction(params.TransactionID)
			return nil, nil
		}),
		"CLOSE_PAGE": wrapTyped(h, func(ctx context.Context, params ClosePageParams) (any, error) {
			h.handleClosePage(params.PageKey)
			return nil, nil
		}),
	}
}

// wrapTyped adapts a typed handler into a wire.Handler. Malformed payloads
// are logged and dropped rather than killing the connection (spec.md
// §4.2); handler errors are likewise logged, since the only caller is the
// service and there is no response channel worth rejecting back to it for
// these fire-and-forget notifications.
func wrapTyped[T any](h *Host, fn func(ctx context.Context, params T) (any, error)) wire.Handler {
	return func(ctx context.Context, data []byte) ([]byte, error) {
		var params T
		if err := wire.StrictUnmarshal(data, &params); err != nil {
			h.logger.Warn("dropping malformed inbound call", "error", err)
			return []byte("null"), nil
		}
		result, err := fn(ctx, params)
		if err != nil {
			h.logger.Warn("inbound RPC handler failed", "error", err)
			return []byte("null"), nil
		}
		if result == nil {
			return []byte("null"), nil
		}
		return fastjson.Marshal(result)
	}
}

func (h *Host) handleStartTransaction(params StartTransactionParams) error {
	h.mu.Lock()
	if h.shuttingDown {
		h.mu.Unlock()
		h.logger.Info("rejecting START_TRANSACTION during shutdown", "transactionId", params.TransactionID)
		return ErrShuttingDown
	}
	h.mu.Unlock()

	action, ok := h.routes.Action(params.Action.Slug)
	if !ok {
		h.logger.Warn("START_TRANSACTION for unknown action slug", "slug", params.Action.Slug)
		return nil
	}

	if url, err := h.DashboardURL(params.Action.Slug, params.TransactionID); err == nil {
		h.logger.Debug("transaction started", "transactionId", params.TransactionID, "dashboardUrl", url)
	}

	rt := newTransactionRuntime(h, action, params, h.registry, h, h, h, h.renderTable, h.logger)

	h.mu.Lock()
	h.transactions[params.TransactionID] = rt
	h.mu.Unlock()

	go func() {
		rt.Run(context.Background())
		h.mu.Lock()
		delete(h.transactions, params.TransactionID)
		h.mu.Unlock()
	}()
	return nil
}

func (h *Host) handleOpenPage(params OpenPageParams) error {
	slug := strings.TrimPrefix(params.Page.Slug, "/")
	page, ok := h.routes.Page(slug)
	if !ok || page.Handler == nil {
		h.logger.Warn("OPEN_PAGE for unknown page slug", "slug", slug)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	ioc := newIOClient(params.PageKey, h.registry, h, h.pageTable, h.logger)
	ps := &pageSession{pageKey: params.PageKey, page: page, io: ioc, cancel: cancel, done: make(chan struct{})}

	h.mu.Lock()
	h.pages[params.PageKey] = ps
	h.mu.Unlock()

	go func() {
		defer close(ps.done)
		rc := &RunContext{PageKey: params.PageKey, User: params.User, Environment: params.Environment, Params: params.Params, io: ioc}
		ambientCtx := withAmbient(ctx, ioc, rc)
		components, err := page.Handler(ambientCtx, ioc, rc)
		if err != nil {
			h.logger.Warn("page handler failed", "pageKey", params.PageKey, "error", err)
			components = nil
		}
		layout := RenderInstruction{Components: components}
		h.pageTable.set(PendingRenderEntry{TransactionID: params.PageKey, Instruction: layout})
		_ = h.sendPage(context.Background(), SendPageParams{PageKey: params.PageKey, Layout: layout})

		h.mu.Lock()
		delete(h.pages, params.PageKey)
		h.mu.Unlock()
	}()
	return nil
}

func (h *Host) handleIOResponse(params IOResponseParams) {
	h.mu.Lock()
	rt, ok := h.transactions[params.TransactionID]
	h.mu.Unlock()
	if ok {
		rt.io.onResponse(params)
		return
	}
	h.logger.Debug("IO_RESPONSE for unknown transaction, dropping", "transactionId", params.TransactionID)
}

func (h *Host) handleCloseTransaction(transactionID string) {
	h.mu.Lock()
	rt, ok := h.transactions[transactionID]
	delete(h.transactions, transactionID)
	h.mu.Unlock()
	if ok {
		rt.Cancel(IOCanceled)
	}
	h.renderTable.delete(transactionID)
}

func (h *Host) handleClosePage(pageKey string) {
	h.mu.Lock()
	ps, ok := h.pages[pageKey]
	delete(h.pages, pageKey)
	h.mu.Unlock()
	if ok {
		ps.cancel()
	}
	h.pageTable.delete(pageKey)
}

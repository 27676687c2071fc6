package host

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	actionResultSchemaVersion = 1
	logMessageCap             = 10_000
	logTruncationMarker       = "...[truncated]"
)

// logSender is the narrow surface logSequence needs from the controller.
type logSender interface {
	sendLog(ctx context.Context, params SendLogParams) error
}

// logSequence assigns each ctx.log call within one transaction a
// monotonically increasing index, so delivery order can be reconstructed
// by the server even across retried network attempts (spec.md §4.5, §8).
type logSequence struct {
	transactionID string
	sender        logSender

	mu   sync.Mutex
	next int
}

func newLogSequence(transactionID string, sender logSender) *logSequence {
	return &logSequence{transactionID: transactionID, sender: sender}
}

func (l *logSequence) emit(ctx context.Context, args ...any) error {
	msg := fmt.Sprintln(args...)
	if len(msg) > 0 && msg[len(msg)-1] == '\n' {
		msg = msg[:len(msg)-1]
	}
	truncated := false
	if len(msg) > logMessageCap {
		msg = msg[:logMessageCap-len(logTruncationMarker)] + logTruncationMarker
		truncated = true
	}

	l.mu.Lock()
	idx := l.next
	l.next++
	l.mu.Unlock()

	return l.sender.sendLog(ctx, SendLogParams{
		TransactionID: l.transactionID,
		Index:         idx,
		Message:       msg,
		Truncated:     truncated,
		Timestamp:     time.Now().UnixMilli(),
	})
}

// transactionSender is the narrow surface TransactionRuntime needs from the
// controller to report a terminal result.
type transactionSender interface {
	markTransactionComplete(ctx context.Context, transactionID string, result ActionResult) error
	onErrorCallback() func(err error, ec ErrorContext)
}

// TransactionRuntime owns the lifecycle of one action invocation: context
// construction, handler execution, and result reporting (spec.md §4.5).
type TransactionRuntime struct {
	host          transactionSender
	transactionID string
	action        *Action
	params        StartTransactionParams

	io *IOClient
	rc *RunContext

	cancel context.CancelFunc
	done   chan struct{}
}

func newTransactionRuntime(h transactionSender, action *Action, params StartTransactionParams, registry ComponentRegistry, sender ioSender, logSnd logSender, loadSnd loadingSender, table *PendingRenderTable, logger *slog.Logger) *TransactionRuntime {
	io := newIOClient(params.TransactionID, registry, sender, table, logger)
	rc := &RunContext{
		TransactionID: params.TransactionID,
		User:          params.User,
		Environment:   params.Environment,
		Params:        params.Params,
		ParamsMeta:    params.ParamsMeta,
		io:            io,
		loading:       newLoadingHandle(params.TransactionID, loadSnd, logger),
		logs:          newLogSequence(params.TransactionID, logSnd),
	}
	return &TransactionRuntime{
		host:          h,
		transactionID: params.TransactionID,
		action:        action,
		params:        params,
		io:            io,
		rc:            rc,
		done:          make(chan struct{}),
	}
}

// Run invokes the action handler to completion (or cancellation) and
// reports the outcome via MARK_TRANSACTION_COMPLETE. It must be called on
// its own goroutine; Run itself does not return until the handler does.
func (t *TransactionRuntime) Run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	t.cancel = cancel
	defer cancel()
	defer close(t.done)

	ambientCtx := withAmbient(ctx, t.io, t.rc)

	data, err := t.runHandlerSafely(ambientCtx)
	result := t.translate(data, err)

	if err != nil && result.Status == StatusFailure {
		if cb := t.host.onErrorCallback(); cb != nil {
			cb(err, ErrorContext{Slug: t.params.Action.Slug, Params: t.params.Params, User: t.params.User})
		}
	}

	_ = t.host.markTransactionComplete(context.Background(), t.transactionID, result)
}

// runHandlerSafely recovers a handler panic into an error so one action's
// bug cannot take down the dispatch goroutine, consistent with spec.md
// §4.5's "TransactionRuntime catches all handler errors... never propagates
// them past the transaction boundary."
func (t *TransactionRuntime) runHandlerSafely(ctx context.Context) (data any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("host: action %q panicked: %v", t.action.Slug, r)
		}
	}()
	return t.action.Handler(ctx, t.io, t.rc)
}

func (t *TransactionRuntime) translate(data any, err error) ActionResult {
	if ioErr, ok := err.(*IOError); ok && ioErr.Kind == IOCanceled {
		return ActionResult{SchemaVersion: actionResultSchemaVersion, Status: StatusCanceled}
	}
	if err != nil {
		return ActionResult{
			SchemaVersion: actionResultSchemaVersion,
			Status:        StatusFailure,
			Meta:          &ActionResultError{Error: fmt.Sprintf("%T", err), Message: err.Error()},
		}
	}
	return ActionResult{SchemaVersion: actionResultSchemaVersion, Status: StatusSuccess, Data: data}
}

// Cancel aborts the transaction from the host side (server CLOSE_TRANSACTION
// or local closure), rejecting any outstanding render with an IOError of
// the given kind and canceling the handler's context.
func (t *TransactionRuntime) Cancel(kind IOErrorKind) {
	t.io.close(kind)
	if t.cancel != nil {
		t.cancel()
	}
}

// Wait blocks until the handler has returned and the result has been
// reported.
func (t *TransactionRuntime) Wait() {
	<-t.done
}

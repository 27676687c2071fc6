package host

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const loadingCoalesceWindow = 100 * time.Millisecond

// loadingSender is the narrow surface LoadingHandle needs from the
// controller to ship a coalesced update; satisfied by *Host.
type loadingSender interface {
	sendLoadingCall(ctx context.Context, transactionID string, state LoadingState) error
}

// LoadingHandle is the per-transaction coalesced progress tracker described
// in spec.md §4.6. Mutations within loadingCoalesceWindow are merged into a
// single SEND_LOADING_CALL.
type LoadingHandle struct {
	transactionID string
	sender        loadingSender
	logger        *slog.Logger

	mu      sync.Mutex
	state   LoadingState
	started bool
	timer   *time.Timer
	pending bool
}

func newLoadingHandle(transactionID string, sender loadingSender, logger *slog.Logger) *LoadingHandle {
	return &LoadingHandle{transactionID: transactionID, sender: sender, logger: logger}
}

// Start initializes the loading state, typically with a title/description
// and a known queue size.
func (l *LoadingHandle) Start(title, description string, itemsInQueue int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = true
	if title != "" {
		l.state.Title = &title
	}
	if description != "" {
		l.state.Description = &description
	}
	if itemsInQueue > 0 {
		l.state.ItemsInQueue = &itemsInQueue
	}
	zero := 0
	l.state.ItemsCompleted = &zero
	l.scheduleLocked()
}

// Update merges partial fields into the current loading state. An empty
// title or description leaves that field unchanged, so Update cannot clear
// a field.
func (l *LoadingHandle) Update(title, description string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if title != "" {
		l.state.Title = &title
	}
	if description != "" {
		l.state.Description = &description
	}
	l.scheduleLocked()
}

// CompleteOne increments itemsCompleted by one. Calling it before Start is
// a warning no-op, and it never drives itemsCompleted past itemsInQueue.
func (l *LoadingHandle) CompleteOne() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.started {
		if l.logger != nil {
			l.logger.Warn("loading.CompleteOne called before Start, ignoring", "transactionId", l.transactionID)
		}
		return
	}
	completed := 0
	if l.state.ItemsCompleted != nil {
		completed = *l.state.ItemsCompleted
	}
	completed++
	if l.state.ItemsInQueue != nil && completed > *l.state.ItemsInQueue {
		completed = *l.state.ItemsInQueue
	}
	l.state.ItemsCompleted = &completed
	l.scheduleLocked()
}

// snapshot returns the current loading state.
func (l *LoadingHandle) snapshot() LoadingState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *LoadingHandle) scheduleLocked() {
	if l.pending {
		return
	}
	l.pending = true
	l.timer = time.AfterFunc(loadingCoalesceWindow, l.flush)
}

func (l *LoadingHandle) flush() {
	l.mu.Lock()
	l.pending = false
	state := l.state
	sender := l.sender
	transactionID := l.transactionID
	l.mu.Unlock()

	if sender == nil {
		return
	}
	if err := sender.sendLoadingCall(context.Background(), transactionID, state); err != nil && l.logger != nil {
		l.logger.Debug("loading state send failed, relying on resend coordinator", "transactionId", transactionID, "error", err)
	}
}

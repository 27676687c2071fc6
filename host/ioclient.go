package host

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// ioSender is the narrow surface IOClient needs from the controller to ship
// a render and to register itself for incoming IO_RESPONSE dispatch.
type ioSender interface {
	sendIOCall(ctx context.Context, params SendIOCallParams) error
	sendRedirectCall(ctx context.Context, params SendRedirectParams) error
}

// PendingRenderEntry is one row of the PendingRenderTable: the last render
// instruction sent for a TransactionID, kept for resend after reconnect
// (spec.md §3, §4.3).
type PendingRenderEntry struct {
	TransactionID string
	RenderID      string
	Instruction   RenderInstruction
}

// PendingRenderTable tracks, per TransactionID, the last render instruction
// shipped and not yet superseded by a new render or a transaction close.
// The HostController's resend coordinators walk it after reconnect.
type PendingRenderTable struct {
	mu      sync.Mutex
	entries map[string]PendingRenderEntry
}

// NewPendingRenderTable constructs an empty table.
func NewPendingRenderTable() *PendingRenderTable {
	return &PendingRenderTable{entries: make(map[string]PendingRenderEntry)}
}

func (t *PendingRenderTable) set(e PendingRenderEntry) {
	t.mu.Lock()
	t.entries[e.TransactionID] = e
	t.mu.Unlock()
}

func (t *PendingRenderTable) delete(transactionID string) {
	t.mu.Lock()
	delete(t.entries, transactionID)
	t.mu.Unlock()
}

// Snapshot returns every pending entry, for a resend coordinator pass.
func (t *PendingRenderTable) Snapshot() []PendingRenderEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]PendingRenderEntry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	return out
}

// Len reports the number of tracked entries.
func (t *PendingRenderTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// GroupResult is what Render returns: the positional parsed return values
// and, if the group had choice buttons, the activated button's value.
type GroupResult struct {
	Values []any
	Choice string
}

type activeRender struct {
	renderID   string
	components []*liveComponent
	resultCh   chan groupOutcome
	validate   func(values []any) (string, error)
	displayImmediate bool
}

type groupOutcome struct {
	result GroupResult
	err    error
}

// IOClient is the per-transaction render loop described in spec.md §4.4. It
// refuses to issue a second render while one is outstanding, matching the
// strict per-transaction FIFO spec.md §5 requires.
type IOClient struct {
	transactionID string
	registry      ComponentRegistry
	sender        ioSender
	table         *PendingRenderTable
	logger        *slog.Logger

	// DisplayResolvesImmediately is copied onto each render as it is
	// issued, but Render does not act on it: every render, display-only or
	// not, waits for the service's response, a cancellation, or ctx.
	DisplayResolvesImmediately bool

	mu        sync.Mutex
	nextGen   uint64
	active    *activeRender
	closed    bool
	closeErr  error
}

func newIOClient(transactionID string, registry ComponentRegistry, sender ioSender, table *PendingRenderTable, logger *slog.Logger) *IOClient {
	return &IOClient{
		transactionID: transactionID,
		registry:      registry,
		sender:        sender,
		table:         table,
		logger:        logger,
	}
}

// Render ships one render instruction for the given descriptors as a
// single group and blocks until the service returns a value for every
// non-optional component, the group is canceled, or ctx is done.
func (c *IOClient) Render(ctx context.Context, descriptors []*Descriptor) (GroupResult, error) {
	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		if err == nil {
			err = &IOError{Kind: IOTransactionClosed}
		}
		return GroupResult{}, err
	}
	if c.active != nil {
		c.mu.Unlock()
		return GroupResult{}, fmt.Errorf("host: render already outstanding for transaction %s", c.transactionID)
	}

	c.nextGen++
	genID := fmt.Sprintf("%s-gen-%d", c.transactionID, c.nextGen)

	components := make([]*liveComponent, 0, len(descriptors))
	wireComponents := make([]Component, 0, len(descriptors))
	var choices []ChoiceButton
	var validate func(values []any) (string, error)
	for _, d := range descriptors {
		lc := newLiveComponent(d)
		components = append(components, lc)
		wireComponents = append(wireComponents, lc.current)
		if d.groupChoices != nil {
			choices = d.groupChoices
		}
		if d.groupValidate != nil {
			validate = d.groupValidate
		}
	}

	instr := RenderInstruction{
		Components:    wireComponents,
		ChoiceButtons: choices,
		HasValidator:  validate != nil,
	}

	ar := &activeRender{
		renderID:   genID,
		components: components,
		resultCh:   make(chan groupOutcome, 1),
		validate:   validate,
		displayImmediate: c.DisplayResolvesImmediately,
	}
	c.active = ar
	c.mu.Unlock()

	c.table.set(PendingRenderEntry{TransactionID: c.transactionID, RenderID: genID, Instruction: instr})

	if err := c.sender.sendIOCall(ctx, SendIOCallParams{TransactionID: c.transactionID, RenderID: genID, ToRender: instr}); err != nil {
		c.clearActive()
		return GroupResult{}, err
	}

	select {
	case outcome := <-ar.resultCh:
		c.clearActive()
		return outcome.result, outcome.err
	case <-ctx.Done():
		c.clearActive()
		return GroupResult{}, ctx.Err()
	}
}

// One is a convenience wrapper for a single-component render.
func (c *IOClient) One(ctx context.Context, d *Descriptor) (any, error) {
	res, err := c.Render(ctx, []*Descriptor{d})
	if err != nil {
		return nil, err
	}
	if len(res.Values) == 0 {
		return nil, nil
	}
	return res.Values[0], nil
}

func (c *IOClient) clearActive() {
	c.mu.Lock()
	c.active = nil
	c.mu.Unlock()
}

// sendRedirect ships SEND_REDIRECT on behalf of RunContext.Redirect.
func (c *IOClient) sendRedirect(ctx context.Context, url string) error {
	return c.sender.sendRedirectCall(ctx, SendRedirectParams{TransactionID: c.transactionID, URL: url})
}

// onResponse is invoked by the HostController's inbound dispatcher when an
// IO_RESPONSE arrives for this transaction (spec.md §4.3, §4.4).
func (c *IOClient) onResponse(resp IOResponseParams) {
	c.mu.Lock()
	ar := c.active
	c.mu.Unlock()
	if ar == nil || ar.renderID != resp.ID {
		// Stale or mismatched generation: log-and-drop rather than risk
		// resolving the wrong render.
		if c.logger != nil {
			c.logger.Debug("dropping IO_RESPONSE for unknown or stale render generation", "transactionId", c.transactionID, "id", resp.ID)
		}
		return
	}

	switch resp.Kind {
	case IOKindCancel:
		c.resolveCancel(ar, IOCanceled)

	case IOKindSetState:
		for i, lc := range ar.components {
			if i >= len(resp.Values) {
				break
			}
			if err := lc.applySetState(c.registry, resp.Values[i]); err != nil && c.logger != nil {
				c.logger.Warn("SET_STATE parse failed, ignoring", "transactionId", c.transactionID, "error", err)
			}
		}
		// Re-render with merged props; same generation id since this is a
		// continuation of the same outstanding round (spec.md §4.4).
		wireComponents := make([]Component, 0, len(ar.components))
		for _, lc := range ar.components {
			wireComponents = append(wireComponents, lc.current)
		}
		instr := RenderInstruction{Components: wireComponents, HasValidator: ar.validate != nil}
		c.table.set(PendingRenderEntry{TransactionID: c.transactionID, RenderID: ar.renderID, Instruction: instr})
		_ = c.sender.sendIOCall(context.Background(), SendIOCallParams{TransactionID: c.transactionID, RenderID: ar.renderID, ToRender: instr})

	case IOKindValidate:
		values := make([]any, len(ar.components))
		for i := range ar.components {
			if i < len(resp.Values) {
				values[i] = resp.Values[i]
			}
		}
		msg := ""
		var verr error
		if ar.validate != nil {
			msg, verr = ar.validate(values)
		}
		if verr != nil {
			msg = verr.Error()
		}
		wireComponents := make([]Component, 0, len(ar.components))
		for _, lc := range ar.components {
			wireComponents = append(wireComponents, lc.current)
		}
		instr := RenderInstruction{Components: wireComponents, HasValidator: true, ValidationErr: msg}
		c.table.set(PendingRenderEntry{TransactionID: c.transactionID, RenderID: ar.renderID, Instruction: instr})
		_ = c.sender.sendIOCall(context.Background(), SendIOCallParams{TransactionID: c.transactionID, RenderID: ar.renderID, ToRender: instr})

	case IOKindReturn:
		if ar.validate != nil {
			values := make([]any, len(ar.components))
			for i := range ar.components {
				if i < len(resp.Values) {
					values[i] = resp.Values[i]
				}
			}
			if msg, err := ar.validate(values); err != nil || msg != "" {
				if c.logger != nil {
					c.logger.Debug("RETURN rejected by group validator without a preceding VALIDATE round-trip", "transactionId", c.transactionID)
				}
				return
			}
		}
		values := make([]any, 0, len(ar.components))
		for i, lc := range ar.components {
			var raw any
			if i < len(resp.Values) {
				raw = resp.Values[i]
			}
			if err := lc.applyReturn(c.registry, raw); err != nil {
				ar.resultCh <- groupOutcome{err: err}
				c.table.delete(c.transactionID)
				return
			}
			values = append(values, lc.result)
		}
		choice := ""
		if len(resp.Values) > len(ar.components) {
			if obj, ok := resp.Values[len(ar.components)].(map[string]any); ok {
				if s, ok := obj["choice"].(string); ok {
					choice = s
				}
			}
		}
		c.table.delete(c.transactionID)
		ar.resultCh <- groupOutcome{result: GroupResult{Values: values, Choice: choice}}
	}
}

// resolveCancel fails the outstanding render with an IOError of the given
// kind, used both for server CLOSE_TRANSACTION and local transaction
// closure (spec.md §5).
func (c *IOClient) resolveCancel(ar *activeRender, kind IOErrorKind) {
	for _, lc := range ar.components {
		lc.cancel()
	}
	select {
	case ar.resultCh <- groupOutcome{err: &IOError{Kind: kind}}:
	default:
	}
}

// close marks the IOClient closed, failing any outstanding render and
// future Render calls with the given error (spec.md §5 cancellation).
func (c *IOClient) close(kind IOErrorKind) {
	c.mu.Lock()
	c.closed = true
	c.closeErr = &IOError{Kind: kind}
	ar := c.active
	c.active = nil
	c.mu.Unlock()

	if ar != nil {
		c.resolveCancel(ar, kind)
	}
	c.table.delete(c.transactionID)
}

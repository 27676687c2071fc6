package host

import "context"

type ioContextKey struct{}

// RunContext is the per-transaction handler argument: user, environment,
// organization, params, and the loading/log/redirect handles, constructed
// once by TransactionRuntime and handed to the handler as the explicit
// primary binding (spec.md §5, §9).
type RunContext struct {
	TransactionID string
	PageKey       string
	User          User
	Environment   Environment
	Organization  Organization
	Params        map[string]any
	ParamsMeta    map[string]any

	io      *IOClient
	loading *LoadingHandle
	logs    *logSequence
}

// IO returns the RunContext's IOClient entry point, mirroring the `io`
// half of the handler's `(io, ctx)` parameter pair.
func (rc *RunContext) IO() *IOClient { return rc.io }

// Log ships a SEND_LOG message with a monotonically increasing
// per-transaction index (spec.md §4.5).
func (rc *RunContext) Log(ctx context.Context, args ...any) error {
	if rc.logs == nil {
		return &HostError{Message: "Log is not available outside a transaction"}
	}
	return rc.logs.emit(ctx, args...)
}

// Redirect ships SEND_REDIRECT; callers typically return immediately
// afterward. The reported status still follows from what the handler
// returns (a normal return after a redirect is reported as StatusSuccess);
// the runtime never reports StatusRedirected.
func (rc *RunContext) Redirect(ctx context.Context, url string) error {
	return rc.io.sendRedirect(ctx, url)
}

// Loading returns the transaction's coalesced loading-state handle.
func (rc *RunContext) Loading() *LoadingHandle { return rc.loading }

// withAmbient binds io and ctx (the RunContext) to a derived context for
// the lifetime of a single handler invocation. Go has no goroutine-local
// storage, so the ambient binding is a context.Context value instead of a
// true task-local cell; FromContext is the convenience accessor for code
// that only has a context.Context in scope, not the (io, ctx) pair
// directly (spec.md §9's ambient task-local binding, resolved concretely).
func withAmbient(parent context.Context, io *IOClient, rc *RunContext) context.Context {
	return context.WithValue(parent, ioContextKey{}, ambientBinding{io: io, rc: rc})
}

type ambientBinding struct {
	io *IOClient
	rc *RunContext
}

// FromContext recovers the ambient (io, ctx) pair bound around the
// currently executing handler. It panics with a descriptive message if
// called outside a transaction, since a nil io/ctx pair would only defer
// the failure to a confusing point further down the call stack.
func FromContext(ctx context.Context) (*IOClient, *RunContext) {
	b, ok := ctx.Value(ioContextKey{}).(ambientBinding)
	if !ok {
		panic("host: FromContext called outside a running transaction or page handler")
	}
	return b.io, b.rc
}

// TryFromContext is the non-panicking form of FromContext, for code that
// cannot assume it is always invoked inside a handler.
func TryFromContext(ctx context.Context) (*IOClient, *RunContext, bool) {
	b, ok := ctx.Value(ioContextKey{}).(ambientBinding)
	if !ok {
		return nil, nil, false
	}
	return b.io, b.rc, true
}

package conformance

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/relaykit/host-sdk/host"
)

const initOK = `{"organization":{"id":"org_1"},"environment":"development","dashboardUrl":"https://example.test/dashboard"}`

func baseConfig() host.Config {
	return host.Config{Endpoint: "ws://test.invalid/host"}
}

// runSequence drains exactly len(want) calls from svc, asserting the method
// names match want, and returns the raw calls for scenario-specific checks.
func runSequence(t *testing.T, svc *service, want []string) []recordedCall {
	t.Helper()
	var got []recordedCall
	var names []string
	for range want {
		c := svc.next(t)
		got = append(got, c)
		names = append(names, c.Method)
	}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Fatalf("method sequence mismatch (-want +got):\n%s", diff)
	}
	return got
}

func TestHelloWorld(t *testing.T) {
	routes := host.NewRouteRegistry(nil)
	routes.SetRoutes([]host.Route{{Action: &host.Action{
		Slug: "hello",
		Handler: func(ctx context.Context, io *host.IOClient, rc *host.RunContext) (any, error) {
			name, _ := rc.Params["name"].(string)
			return "hi " + name, nil
		},
	}}})

	r := newRig(t, baseConfig(), routes, testRegistry{}, initOK)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := r.svc.call(ctx, "START_TRANSACTION", host.StartTransactionParams{
		TransactionID: "t1",
		Action:        host.ActionRef{Slug: "hello"},
		Params:        map[string]any{"name": "world"},
	}); err != nil {
		t.Fatalf("START_TRANSACTION: %v", err)
	}

	calls := runSequence(t, r.svc, loadExpectedMethods(t, "hello_world.txtar"))

	var result host.MarkTransactionCompleteParams
	if err := json.Unmarshal(calls[0].Data, &result); err != nil {
		t.Fatalf("unmarshal MARK_TRANSACTION_COMPLETE: %v", err)
	}
	if result.Result.Status != host.StatusSuccess {
		t.Fatalf("status = %s, want SUCCESS", result.Result.Status)
	}
	if result.Result.Data != "hi world" {
		t.Fatalf("data = %v, want %q", result.Result.Data, "hi world")
	}
}

func TestGroupOfThree(t *testing.T) {
	routes := host.NewRouteRegistry(nil)
	routes.SetRoutes([]host.Route{{Action: &host.Action{
		Slug: "group",
		Handler: func(ctx context.Context, io *host.IOClient, rc *host.RunContext) (any, error) {
			d1, err := host.NewComponent(testRegistry{}, "text.input", "First", nil)
			if err != nil {
				return nil, err
			}
			d2, err := host.NewComponent(testRegistry{}, "text.input", "Second", nil)
			if err != nil {
				return nil, err
			}
			d3, err := host.NewComponent(testRegistry{}, "text.input", "Third", nil)
			if err != nil {
				return nil, err
			}
			res, err := io.Render(ctx, []*host.Descriptor{d1, d2, d3})
			if err != nil {
				return nil, err
			}
			return res.Values, nil
		},
	}}})

	r := newRig(t, baseConfig(), routes, testRegistry{}, initOK)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := r.svc.call(ctx, "START_TRANSACTION", host.StartTransactionParams{
		TransactionID: "t1",
		Action:        host.ActionRef{Slug: "group"},
	}); err != nil {
		t.Fatalf("START_TRANSACTION: %v", err)
	}

	want := loadExpectedMethods(t, "group_of_three.txtar")
	sendCall := want[0]
	if sendCall != "SEND_IO_CALL" {
		t.Fatalf("fixture corrupted: first expected call = %q", sendCall)
	}
	c := r.svc.next(t)
	if c.Method != "SEND_IO_CALL" {
		t.Fatalf("got %q, want SEND_IO_CALL", c.Method)
	}
	var ioCall host.SendIOCallParams
	if err := json.Unmarshal(c.Data, &ioCall); err != nil {
		t.Fatalf("unmarshal SEND_IO_CALL: %v", err)
	}
	if len(ioCall.ToRender.Components) != 3 {
		t.Fatalf("rendered %d components, want 3", len(ioCall.ToRender.Components))
	}

	if _, err := r.svc.call(ctx, "IO_RESPONSE", host.IOResponseParams{
		TransactionID: ioCall.TransactionID,
		ID:            ioCall.RenderID,
		Kind:          host.IOKindReturn,
		Values:        []any{"a", "b", "c"},
	}); err != nil {
		t.Fatalf("IO_RESPONSE: %v", err)
	}

	final := r.svc.next(t)
	if final.Method != "MARK_TRANSACTION_COMPLETE" {
		t.Fatalf("got %q, want MARK_TRANSACTION_COMPLETE", final.Method)
	}
	var result host.MarkTransactionCompleteParams
	if err := json.Unmarshal(final.Data, &result); err != nil {
		t.Fatalf("unmarshal MARK_TRANSACTION_COMPLETE: %v", err)
	}
	if result.Result.Status != host.StatusSuccess {
		t.Fatalf("status = %s, want SUCCESS", result.Result.Status)
	}
}

func TestCancelMidFlight(t *testing.T) {
	routes := host.NewRouteRegistry(nil)
	handlerDone := make(chan error, 1)
	routes.SetRoutes([]host.Route{{Action: &host.Action{
		Slug: "cancelable",
		Handler: func(ctx context.Context, io *host.IOClient, rc *host.RunContext) (any, error) {
			d, err := host.NewComponent(testRegistry{}, "text.input", "Only", nil)
			if err != nil {
				return nil, err
			}
			_, err = io.One(ctx, d)
			handlerDone <- err
			return nil, err
		},
	}}})

	r := newRig(t, baseConfig(), routes, testRegistry{}, initOK)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := r.svc.call(ctx, "START_TRANSACTION", host.StartTransactionParams{
		TransactionID: "t1",
		Action:        host.ActionRef{Slug: "cancelable"},
	}); err != nil {
		t.Fatalf("START_TRANSACTION: %v", err)
	}

	if c := r.svc.next(t); c.Method != "SEND_IO_CALL" {
		t.Fatalf("got %q, want SEND_IO_CALL", c.Method)
	}

	if _, err := r.svc.call(ctx, "CLOSE_TRANSACTION", host.CloseTransactionParams{TransactionID: "t1"}); err != nil {
		t.Fatalf("CLOSE_TRANSACTION: %v", err)
	}

	select {
	case err := <-handlerDone:
		if !host.IsCanceled(err) {
			t.Fatalf("handler error = %v, want a canceled IOError", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not observe cancellation")
	}
}

func TestReconnectReplaysRender(t *testing.T) {
	routes := host.NewRouteRegistry(nil)
	routes.SetRoutes([]host.Route{{Action: &host.Action{
		Slug: "waits",
		Handler: func(ctx context.Context, io *host.IOClient, rc *host.RunContext) (any, error) {
			d, err := host.NewComponent(testRegistry{}, "text.input", "Only", nil)
			if err != nil {
				return nil, err
			}
			return io.One(ctx, d)
		},
	}}})

	cfg := baseConfig()
	cfg.RetryInterval = 20 * time.Millisecond
	r := newRig(t, cfg, routes, testRegistry{}, initOK)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := r.svc.call(ctx, "START_TRANSACTION", host.StartTransactionParams{
		TransactionID: "t1",
		Action:        host.ActionRef{Slug: "waits"},
	}); err != nil {
		t.Fatalf("START_TRANSACTION: %v", err)
	}

	first := r.svc.next(t)
	if first.Method != "SEND_IO_CALL" {
		t.Fatalf("got %q, want SEND_IO_CALL", first.Method)
	}
	var firstCall host.SendIOCallParams
	if err := json.Unmarshal(first.Data, &firstCall); err != nil {
		t.Fatalf("unmarshal SEND_IO_CALL: %v", err)
	}

	r.forceDisconnect()
	svc2 := r.nextService(t)

	replay := svc2.next(t)
	if replay.Method != "SEND_IO_CALL" {
		t.Fatalf("replay got %q, want SEND_IO_CALL", replay.Method)
	}
	var replayCall host.SendIOCallParams
	if err := json.Unmarshal(replay.Data, &replayCall); err != nil {
		t.Fatalf("unmarshal replayed SEND_IO_CALL: %v", err)
	}
	if replayCall.RenderID != firstCall.RenderID {
		t.Fatalf("replayed renderId = %q, want %q (same render generation)", replayCall.RenderID, firstCall.RenderID)
	}

	if _, err := svc2.call(ctx, "IO_RESPONSE", host.IOResponseParams{
		TransactionID: replayCall.TransactionID,
		ID:            replayCall.RenderID,
		Kind:          host.IOKindReturn,
		Values:        []any{"done"},
	}); err != nil {
		t.Fatalf("IO_RESPONSE: %v", err)
	}

	final := svc2.next(t)
	if final.Method != "MARK_TRANSACTION_COMPLETE" {
		t.Fatalf("got %q, want MARK_TRANSACTION_COMPLETE", final.Method)
	}
}

func TestValidatorRejectsThenAccepts(t *testing.T) {
	routes := host.NewRouteRegistry(nil)
	routes.SetRoutes([]host.Route{{Action: &host.Action{
		Slug: "validated",
		Handler: func(ctx context.Context, io *host.IOClient, rc *host.RunContext) (any, error) {
			d, err := host.NewComponent(testRegistry{}, "text.input", "Only", nil)
			if err != nil {
				return nil, err
			}
			d = d.Validate(func(values []any) (string, error) {
				if s, _ := values[0].(string); s != "ok" {
					return "value must be \"ok\"", nil
				}
				return "", nil
			})
			res, err := io.Render(ctx, []*host.Descriptor{d})
			if err != nil {
				return nil, err
			}
			return res.Values[0], nil
		},
	}}})

	r := newRig(t, baseConfig(), routes, testRegistry{}, initOK)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := r.svc.call(ctx, "START_TRANSACTION", host.StartTransactionParams{
		TransactionID: "t1",
		Action:        host.ActionRef{Slug: "validated"},
	}); err != nil {
		t.Fatalf("START_TRANSACTION: %v", err)
	}

	first := r.svc.next(t)
	var firstCall host.SendIOCallParams
	if err := json.Unmarshal(first.Data, &firstCall); err != nil {
		t.Fatalf("unmarshal SEND_IO_CALL: %v", err)
	}

	if _, err := r.svc.call(ctx, "IO_RESPONSE", host.IOResponseParams{
		TransactionID: firstCall.TransactionID,
		ID:            firstCall.RenderID,
		Kind:          host.IOKindValidate,
		Values:        []any{"wrong"},
	}); err != nil {
		t.Fatalf("IO_RESPONSE validate: %v", err)
	}

	reRender := r.svc.next(t)
	if reRender.Method != "SEND_IO_CALL" {
		t.Fatalf("got %q, want SEND_IO_CALL re-render", reRender.Method)
	}
	var reRenderCall host.SendIOCallParams
	if err := json.Unmarshal(reRender.Data, &reRenderCall); err != nil {
		t.Fatalf("unmarshal re-render: %v", err)
	}
	if reRenderCall.ToRender.ValidationErr == "" {
		t.Fatal("re-render after rejected VALIDATE carries no validation error message")
	}

	if _, err := r.svc.call(ctx, "IO_RESPONSE", host.IOResponseParams{
		TransactionID: reRenderCall.TransactionID,
		ID:            reRenderCall.RenderID,
		Kind:          host.IOKindReturn,
		Values:        []any{"ok"},
	}); err != nil {
		t.Fatalf("IO_RESPONSE return: %v", err)
	}

	final := r.svc.next(t)
	if final.Method != "MARK_TRANSACTION_COMPLETE" {
		t.Fatalf("got %q, want MARK_TRANSACTION_COMPLETE", final.Method)
	}
	var result host.MarkTransactionCompleteParams
	if err := json.Unmarshal(final.Data, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.Result.Data != "ok" {
		t.Fatalf("data = %v, want %q", result.Result.Data, "ok")
	}
}

func TestGracefulShutdown(t *testing.T) {
	routes := host.NewRouteRegistry(nil)
	routes.SetRoutes([]host.Route{{Action: &host.Action{
		Slug: "slow",
		Handler: func(ctx context.Context, io *host.IOClient, rc *host.RunContext) (any, error) {
			d, err := host.NewComponent(testRegistry{}, "text.input", "Only", nil)
			if err != nil {
				return nil, err
			}
			return io.One(ctx, d)
		},
	}}})

	cfg := baseConfig()
	cfg.CompleteHTTPRequestDelay = 10 * time.Millisecond
	r := newRig(t, cfg, routes, testRegistry{}, initOK)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := r.svc.call(ctx, "START_TRANSACTION", host.StartTransactionParams{
		TransactionID: "t1",
		Action:        host.ActionRef{Slug: "slow"},
	}); err != nil {
		t.Fatalf("START_TRANSACTION: %v", err)
	}

	sendCall := r.svc.next(t)
	var ioCall host.SendIOCallParams
	if err := json.Unmarshal(sendCall.Data, &ioCall); err != nil {
		t.Fatalf("unmarshal SEND_IO_CALL: %v", err)
	}

	shutdownDone := make(chan error, 1)
	go func() { shutdownDone <- r.host.BeginShutdown(ctx) }()

	// Give BeginShutdown a moment to start waiting on drain before resolving
	// the outstanding render, so the test actually exercises the wait.
	time.Sleep(50 * time.Millisecond)
	if _, err := r.svc.call(ctx, "IO_RESPONSE", host.IOResponseParams{
		TransactionID: ioCall.TransactionID,
		ID:            ioCall.RenderID,
		Kind:          host.IOKindReturn,
		Values:        []any{"done"},
	}); err != nil {
		t.Fatalf("IO_RESPONSE: %v", err)
	}

	// BEGIN_HOST_SHUTDOWN fires as soon as BeginShutdown starts, which races
	// with MARK_TRANSACTION_COMPLETE (sent once the delayed IO_RESPONSE above
	// unblocks the handler); only their combined arrival, not the order
	// between them, is part of this scenario's contract.
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		seen[r.svc.next(t).Method] = true
	}
	if !seen["MARK_TRANSACTION_COMPLETE"] || !seen["BEGIN_HOST_SHUTDOWN"] {
		t.Fatalf("calls seen = %v, want MARK_TRANSACTION_COMPLETE and BEGIN_HOST_SHUTDOWN", seen)
	}

	select {
	case err := <-shutdownDone:
		if err != nil {
			t.Fatalf("BeginShutdown: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("BeginShutdown did not return")
	}

	select {
	case <-r.host.Done():
	case <-time.After(time.Second):
		t.Fatal("host did not report Done() after shutdown")
	}
}

// Package conformance drives a real Host against a synthetic service peer
// over an in-memory transport and checks the resulting host-to-service call
// sequence against txtar-recorded expectations, grounded on the pattern the
// teacher module uses for its own conformance suite (one archive per named
// scenario).
package conformance

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/relaykit/host-sdk/host"
	"github.com/relaykit/host-sdk/internal/wire"
)

// pipeConn is an in-memory wire.Conn, the harness's stand-in for the
// WebSocket transport used in production.
type pipeConn struct {
	out chan []byte
	in  chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newPipe() (a, b *pipeConn) {
	c1 := make(chan []byte, 256)
	c2 := make(chan []byte, 256)
	closed := make(chan struct{})
	return &pipeConn{out: c1, in: c2, closed: closed}, &pipeConn{out: c2, in: c1, closed: closed}
}

func (p *pipeConn) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case data := <-p.in:
		return data, nil
	case <-p.closed:
		return nil, context.Canceled
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeConn) WriteFrame(ctx context.Context, data []byte) error {
	select {
	case p.out <- data:
		return nil
	case <-p.closed:
		return context.Canceled
	}
}

func (p *pipeConn) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

func testSocketOptions() wire.Options {
	o := wire.DefaultOptions()
	o.SendTimeout = 2 * time.Second
	o.ConnectTimeout = 2 * time.Second
	o.PingTimeout = 2 * time.Second
	o.RetryChunkInterval = 50 * time.Millisecond
	return o
}

// recordedCall is one inbound host-to-service invocation observed by the
// fake service side of the harness.
type recordedCall struct {
	Method string
	Data   json.RawMessage
}

// service stands in for the remote platform: it answers every host-to-service
// method by recording the call and acking with null, except INITIALIZE_HOST,
// which gets a caller-supplied canned reply. It can also issue its own
// service-to-host calls (START_TRANSACTION, IO_RESPONSE, OPEN_PAGE, ...) via
// call.
type service struct {
	rpc   *wire.DuplexRPC
	calls chan recordedCall
}

func newService(socket *wire.MessageSocket, initializeResult string) *service {
	s := &service{calls: make(chan recordedCall, 256)}
	record := func(method string) wire.Handler {
		return func(ctx context.Context, data []byte) ([]byte, error) {
			s.calls <- recordedCall{Method: method, Data: append(json.RawMessage(nil), data...)}
			return []byte("null"), nil
		}
	}
	handlers := map[string]wire.Handler{
		"SEND_IO_CALL":              record("SEND_IO_CALL"),
		"SEND_PAGE":                 record("SEND_PAGE"),
		"SEND_LOADING_CALL":         record("SEND_LOADING_CALL"),
		"SEND_LOG":                  record("SEND_LOG"),
		"SEND_REDIRECT":             record("SEND_REDIRECT"),
		"MARK_TRANSACTION_COMPLETE": record("MARK_TRANSACTION_COMPLETE"),
		"BEGIN_HOST_SHUTDOWN":       record("BEGIN_HOST_SHUTDOWN"),
		"DECLARE_HOST":              record("DECLARE_HOST"),
		"INITIALIZE_HOST": func(ctx context.Context, data []byte) ([]byte, error) {
			s.calls <- recordedCall{Method: "INITIALIZE_HOST", Data: append(json.RawMessage(nil), data...)}
			return []byte(initializeResult), nil
		},
	}
	s.rpc = wire.NewDuplexRPC(socket, "service", handlers, nil)
	return s
}

func (s *service) call(ctx context.Context, method string, params any) ([]byte, error) {
	return s.rpc.Call(ctx, method, params, 1)
}

// next blocks for the next recorded call, failing the test if none arrives.
func (s *service) next(t *testing.T) recordedCall {
	t.Helper()
	select {
	case c := <-s.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a host-to-service call")
		return recordedCall{}
	}
}

// drainMethods collects every call method name received within window,
// returning once window elapses without a new arrival.
func (s *service) drainMethods(window time.Duration) []string {
	var methods []string
	for {
		select {
		case c := <-s.calls:
			methods = append(methods, c.Method)
		case <-time.After(window):
			return methods
		}
	}
}

// rig bundles one connected Host with the service peer it is talking to. The
// first dial produces svc; a reconnect (the harness's default dialer redials
// on demand) produces a fresh service peer delivered on reconnected.
type rig struct {
	host *host.Host
	svc  *service

	mu          sync.Mutex
	hostConn    *pipeConn
	reconnected chan *service
}

// newRig wires a Host to a fresh in-memory service peer and runs the
// INITIALIZE_HOST handshake. initializeResult is the canned JSON result the
// service answers INITIALIZE_HOST with.
func newRig(t *testing.T, cfg host.Config, routes *host.RouteRegistry, registry host.ComponentRegistry, initializeResult string) *rig {
	t.Helper()
	r := &rig{reconnected: make(chan *service, 4)}

	first := true
	dial := func(ctx context.Context, instanceID string) (wire.Conn, error) {
		a, b := newPipe()
		svcSocket := wire.New(b, "service", testSocketOptions(), nil)
		svc := newService(svcSocket, initializeResult)
		ready := make(chan struct{})
		go func() {
			svcSocket.Connect(context.Background())
			close(ready)
		}()
		<-ready
		r.mu.Lock()
		r.hostConn = a
		r.mu.Unlock()
		if first {
			first = false
			r.svc = svc
		} else {
			r.reconnected <- svc
		}
		return a, nil
	}

	cfg.ConnectTimeout = 2 * time.Second
	cfg.SendTimeout = 2 * time.Second
	cfg.PingTimeout = 2 * time.Second
	h := host.NewHost(cfg, routes, registry, dial)
	r.host = h

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	// INITIALIZE_HOST is the first recorded call; drain it before the
	// scenario starts asserting on scenario-specific traffic.
	if got := r.svc.next(t).Method; got != "INITIALIZE_HOST" {
		t.Fatalf("first call = %q, want INITIALIZE_HOST", got)
	}
	return r
}

// forceDisconnect severs the current connection from underneath the host
// (as a dropped network link would, not a graceful shutdown), triggering
// the reconnect loop; the caller should then receive the new service peer
// on r.reconnected.
func (r *rig) forceDisconnect() {
	r.mu.Lock()
	conn := r.hostConn
	r.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// nextService waits for the service peer produced by a reconnect.
func (r *rig) nextService(t *testing.T) *service {
	t.Helper()
	select {
	case svc := <-r.reconnected:
		r.svc = svc
		return svc
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reconnect")
		return nil
	}
}

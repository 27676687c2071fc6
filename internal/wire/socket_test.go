package wire

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"
)

// pipeConn is an in-memory Conn used to test two MessageSockets against
// each other without a real network transport.
type pipeConn struct {
	out chan []byte
	in  chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newPipe() (a, b *pipeConn) {
	c1 := make(chan []byte, 64)
	c2 := make(chan []byte, 64)
	closed := make(chan struct{})
	return &pipeConn{out: c1, in: c2, closed: closed}, &pipeConn{out: c2, in: c1, closed: closed}
}

func (p *pipeConn) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case data := <-p.in:
		return data, nil
	case <-p.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeConn) WriteFrame(ctx context.Context, data []byte) error {
	select {
	case p.out <- data:
		return nil
	case <-p.closed:
		return io.EOF
	}
}

func (p *pipeConn) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

func testOptions() Options {
	o := DefaultOptions()
	o.SendTimeout = 2 * time.Second
	o.ConnectTimeout = 2 * time.Second
	o.PingTimeout = 2 * time.Second
	o.RetryChunkInterval = 50 * time.Millisecond
	return o
}

func dialPair(t *testing.T, onA, onB func([]byte)) (*MessageSocket, *MessageSocket) {
	t.Helper()
	connA, connB := newPipe()
	a := New(connA, "instance-a", testOptions(), onA)
	b := New(connB, "instance-b", testOptions(), onB)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	var aPeer, bPeer string
	var aErr, bErr error
	wg.Add(2)
	go func() { defer wg.Done(); aPeer, aErr = a.Connect(ctx) }()
	go func() { defer wg.Done(); bPeer, bErr = b.Connect(ctx) }()
	wg.Wait()

	if aErr != nil || bErr != nil {
		t.Fatalf("connect failed: a=%v b=%v", aErr, bErr)
	}
	if aPeer != "instance-b" || bPeer != "instance-a" {
		t.Fatalf("wrong peer ids: a saw %q, b saw %q", aPeer, bPeer)
	}
	return a, b
}

func TestConnectExchangesOpen(t *testing.T) {
	a, b := dialPair(t, func([]byte) {}, func([]byte) {})
	defer a.Close()
	defer b.Close()
}

func TestSendDeliversAndAcks(t *testing.T) {
	received := make(chan []byte, 1)
	a, b := dialPair(t, func([]byte) {}, func(data []byte) { received <- data })
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.Send(ctx, []byte(`{"hello":"world"}`), 0); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != `{"hello":"world"}` {
			t.Fatalf("got %s", got)
		}
	case <-time.After(time.Second):
		t.Fatal("message was not delivered")
	}
}

func TestSendChunksLargePayload(t *testing.T) {
	received := make(chan []byte, 1)
	a, b := dialPair(t, func([]byte) {}, func(data []byte) { received <- data })
	defer a.Close()
	defer b.Close()
	b.opts.ChunkThreshold = 8 // unused on receive side, reassembly relies on sender's Chunk field
	a.opts.ChunkThreshold = 8

	payload := []byte("0123456789abcdefghij") // 20 bytes, threshold 8 -> 3 chunks
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.Send(ctx, payload, 0); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != string(payload) {
			t.Fatalf("got %q, want %q", got, payload)
		}
	case <-time.After(time.Second):
		t.Fatal("chunked message was not delivered")
	}
}

func TestSendExactlyAtThresholdIsNotSplit(t *testing.T) {
	a, _ := dialPair(t, func([]byte) {}, func([]byte) {})
	defer a.Close()

	chunks := splitChunks("12345678", 8)
	if len(chunks) != 1 {
		t.Fatalf("payload exactly at threshold was split into %d chunks", len(chunks))
	}
	chunks = splitChunks("123456789", 8)
	if len(chunks) != 2 {
		t.Fatalf("payload one byte over threshold produced %d chunks, want 2", len(chunks))
	}
}

func TestPingPong(t *testing.T) {
	a, b := dialPair(t, func([]byte) {}, func([]byte) {})
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestSendAfterCloseFailsNotConnected(t *testing.T) {
	a, b := dialPair(t, func([]byte) {}, func([]byte) {})
	defer b.Close()
	a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.Send(ctx, []byte("x"), 0); err != ErrNotConnected {
		t.Fatalf("Send after close = %v, want ErrNotConnected", err)
	}
}

func TestInFlightSendFailsOnUnexpectedClose(t *testing.T) {
	connA, _ := newPipe()
	a := New(connA, "instance-a", testOptions(), func([]byte) {})
	// No peer reads or acks; force-close the underlying connection mid-send.
	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- a.Send(ctx, []byte("x"), 0)
	}()
	// Start the read loop so fail() fires on close.
	go a.readLoop()
	time.Sleep(20 * time.Millisecond)
	connA.Close()

	select {
	case err := <-done:
		if err != ErrNotConnected {
			t.Fatalf("Send during close = %v, want ErrNotConnected", err)
		}
	case <-time.After(time.Second):
		t.Fatal("send did not fail after connection close")
	}
}

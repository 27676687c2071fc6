package wire

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/relaykit/host-sdk/internal/fastjson"
)

// chunkRetryLimit is how many additional attempts a single chunk gets after
// its first send times out, per spec.md §4.1 ("retried up to three times").
const chunkRetryLimit = 3

// Options configures socket-level timeouts and chunking thresholds. The host
// package fills every field except ChunkThreshold from its Config (spec.md §6).
type Options struct {
	// ChunkThreshold is the payload size, in bytes, above which Send splits
	// the message into ordered, separately-ack'd chunks.
	ChunkThreshold int
	// SendTimeout bounds a single chunk's ack wait, scaled by a caller's
	// timeoutFactor.
	SendTimeout time.Duration
	// ConnectTimeout bounds how long Connect waits for the peer's OPEN.
	ConnectTimeout time.Duration
	// PingTimeout bounds how long Ping waits for a matching PONG.
	PingTimeout time.Duration
	// RetryChunkInterval is the delay between chunk retry attempts.
	RetryChunkInterval time.Duration
}

// DefaultOptions returns the reference deployment's socket tuning.
func DefaultOptions() Options {
	return Options{
		ChunkThreshold:     256 * 1024,
		SendTimeout:        5 * time.Second,
		ConnectTimeout:     10 * time.Second,
		PingTimeout:        5 * time.Second,
		RetryChunkInterval: 3 * time.Second,
	}
}

// MessageSocket is a framed, ack'd, timeout-bounded message exchange atop a
// Conn, per spec.md §4.1. It is a single logical writer per direction: all
// outbound frames (including internally generated ACKs and PONGs) pass
// through writeFrame, which is safe for concurrent use because Conn.WriteFrame
// must itself serialize writers.
type MessageSocket struct {
	conn       Conn
	instanceID string
	opts       Options
	onMessage  func(data []byte)

	mu          sync.Mutex
	nextID      uint64
	closed      bool
	acks        map[string]chan error
	reassembly  map[string]*reassembly
	pongWaiters map[string]chan struct{}

	peerOpen chan string
	readExit chan error
}

type reassembly struct {
	total int
	parts map[int]string
}

// New creates a MessageSocket. onMessage is invoked, from the socket's
// internal read loop, once per fully reassembled MESSAGE frame; it must not
// block for long, since it holds up delivery of subsequent ACKs and PONGs.
// onMessage may be nil and set later with SetOnMessage.
func New(conn Conn, instanceID string, opts Options, onMessage func([]byte)) *MessageSocket {
	return &MessageSocket{
		conn:        conn,
		instanceID:  instanceID,
		opts:        opts,
		onMessage:   onMessage,
		acks:        make(map[string]chan error),
		reassembly:  make(map[string]*reassembly),
		pongWaiters: make(map[string]chan struct{}),
		peerOpen:    make(chan string, 1),
		readExit:    make(chan error, 1),
	}
}

// SetOnMessage rebinds the message listener. Used by DuplexRPC.SetCommunicator
// when a reconnected socket replaces the one a DuplexRPC was built on.
func (s *MessageSocket) SetOnMessage(onMessage func([]byte)) {
	s.mu.Lock()
	s.onMessage = onMessage
	s.mu.Unlock()
}

func (s *MessageSocket) deliver(data []byte) {
	s.mu.Lock()
	fn := s.onMessage
	s.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

// Connect exchanges OPEN frames with the peer and starts the background
// read loop. It returns the peer's declared instance id, or ErrConnectTimeout
// if no OPEN arrives in time.
func (s *MessageSocket) Connect(ctx context.Context) (string, error) {
	go func() {
		s.readExit <- s.readLoop()
	}()

	if err := s.writeFrame(ctx, Frame{ID: s.instanceID, Type: FrameOpen}); err != nil {
		return "", err
	}

	connectCtx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()
	select {
	case peer := <-s.peerOpen:
		return peer, nil
	case <-connectCtx.Done():
		return "", ErrConnectTimeout
	}
}

// Wait blocks until the read loop exits (the connection closed, locally or
// remotely) and returns the reason.
func (s *MessageSocket) Wait() error {
	return <-s.readExit
}

// Send packages payload as a MESSAGE frame (chunked if it exceeds
// ChunkThreshold) and blocks until every chunk is ack'd. It fails with
// ErrTimeout once a chunk has gone unacknowledged for SendTimeout×timeoutFactor
// on each of its 1+chunkRetryLimit attempts, or with ErrNotConnected if the
// socket has closed. timeoutFactor<=0 is treated as 1.
func (s *MessageSocket) Send(ctx context.Context, payload []byte, timeoutFactor float64) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrNotConnected
	}
	s.nextID++
	id := fmt.Sprintf("%s-%d", s.instanceID, s.nextID)
	s.mu.Unlock()

	if timeoutFactor <= 0 {
		timeoutFactor = 1
	}
	deadline := time.Duration(float64(s.opts.SendTimeout) * timeoutFactor)

	chunks := splitChunks(string(payload), s.opts.ChunkThreshold)
	for i, chunk := range chunks {
		fr := Frame{ID: id, Type: FrameMessage, Data: chunk}
		if len(chunks) > 1 {
			fr.Chunk = &ChunkIndex{N: i + 1, Total: len(chunks)}
		}
		if err := s.sendChunkWithRetry(ctx, fr, deadline); err != nil {
			return err
		}
	}
	return nil
}

func (s *MessageSocket) sendChunkWithRetry(ctx context.Context, fr Frame, deadline time.Duration) error {
	ackKey := chunkID(fr.ID, 0)
	if fr.Chunk != nil {
		ackKey = chunkID(fr.ID, fr.Chunk.N)
	}

	var lastErr error
	for attempt := 0; attempt <= chunkRetryLimit; attempt++ {
		ackCh := s.registerAck(ackKey)
		if err := s.writeFrame(ctx, fr); err != nil {
			s.unregisterAck(ackKey)
			return err
		}

		select {
		case err := <-ackCh:
			return err
		case <-time.After(deadline):
			s.unregisterAck(ackKey)
			lastErr = ErrTimeout
			if attempt == chunkRetryLimit {
				return lastErr
			}
			select {
			case <-time.After(s.opts.RetryChunkInterval):
			case <-ctx.Done():
				return ctx.Err()
			}
		case <-ctx.Done():
			s.unregisterAck(ackKey)
			return ctx.Err()
		}
	}
	return lastErr
}

// Ping sends a PING and waits for the matching PONG within PingTimeout.
func (s *MessageSocket) Ping(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrNotConnected
	}
	s.nextID++
	id := fmt.Sprintf("%s-ping-%d", s.instanceID, s.nextID)
	ch := make(chan struct{}, 1)
	s.pongWaiters[id] = ch
	s.mu.Unlock()

	if err := s.writeFrame(ctx, Frame{ID: id, Type: FramePing}); err != nil {
		return err
	}

	select {
	case <-ch:
		// fail() also closes pending pong channels; tell that apart from a
		// real PONG.
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return ErrNotConnected
		}
		return nil
	case <-time.After(s.opts.PingTimeout):
		s.mu.Lock()
		delete(s.pongWaiters, id)
		s.mu.Unlock()
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the underlying connection. In-flight sends and pings observe
// ErrNotConnected; subsequent calls to Send/Ping also fail with ErrNotConnected.
func (s *MessageSocket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.conn.Close()
}

func (s *MessageSocket) readLoop() error {
	for {
		data, err := s.conn.ReadFrame(context.Background())
		if err != nil {
			s.fail(err)
			return err
		}
		var f Frame
		if err := strictUnmarshal(data, &f); err != nil {
			// Malformed frame: drop it, never kill the connection.
			continue
		}
		switch f.Type {
		case FrameOpen:
			select {
			case s.peerOpen <- f.ID:
			default:
			}
		case FrameAck:
			s.resolveAck(f.ID, nil)
		case FramePing:
			_ = s.writeFrame(context.Background(), Frame{ID: f.ID, Type: FramePong})
		case FramePong:
			s.resolvePong(f.ID)
		case FrameMessage:
			s.handleMessage(f)
		}
	}
}

func (s *MessageSocket) handleMessage(f Frame) {
	ackID := chunkID(f.ID, 0)
	if f.Chunk != nil {
		ackID = chunkID(f.ID, f.Chunk.N)
	}
	_ = s.writeFrame(context.Background(), Frame{ID: ackID, Type: FrameAck})

	if f.Chunk == nil {
		s.deliver([]byte(f.Data))
		return
	}

	s.mu.Lock()
	asm, ok := s.reassembly[f.ID]
	if !ok {
		asm = &reassembly{total: f.Chunk.Total, parts: make(map[int]string)}
		s.reassembly[f.ID] = asm
	}
	asm.parts[f.Chunk.N] = f.Data
	complete := len(asm.parts) == asm.total
	if complete {
		delete(s.reassembly, f.ID)
	}
	s.mu.Unlock()

	if !complete {
		return
	}
	var buf strings.Builder
	for i := 1; i <= asm.total; i++ {
		buf.WriteString(asm.parts[i])
	}
	s.deliver([]byte(buf.String()))
}

func (s *MessageSocket) fail(cause error) {
	s.mu.Lock()
	s.closed = true
	acks := s.acks
	s.acks = make(map[string]chan error)
	pongs := s.pongWaiters
	s.pongWaiters = make(map[string]chan struct{})
	s.mu.Unlock()

	for _, ch := range acks {
		ch <- ErrNotConnected
	}
	for _, ch := range pongs {
		close(ch)
	}
}

func (s *MessageSocket) registerAck(key string) chan error {
	ch := make(chan error, 1)
	s.mu.Lock()
	s.acks[key] = ch
	s.mu.Unlock()
	return ch
}

func (s *MessageSocket) unregisterAck(key string) {
	s.mu.Lock()
	delete(s.acks, key)
	s.mu.Unlock()
}

func (s *MessageSocket) resolveAck(key string, err error) {
	s.mu.Lock()
	ch, ok := s.acks[key]
	if ok {
		delete(s.acks, key)
	}
	s.mu.Unlock()
	if ok {
		ch <- err
	}
}

func (s *MessageSocket) resolvePong(id string) {
	s.mu.Lock()
	ch, ok := s.pongWaiters[id]
	if ok {
		delete(s.pongWaiters, id)
	}
	s.mu.Unlock()
	if ok {
		close(ch)
	}
}

func (s *MessageSocket) writeFrame(ctx context.Context, f Frame) error {
	data, err := fastjson.Marshal(f)
	if err != nil {
		return fmt.Errorf("wire: marshal frame: %w", err)
	}
	if err := s.conn.WriteFrame(ctx, data); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

// splitChunks divides s into pieces no larger than threshold bytes. A
// payload exactly at threshold is not split (spec.md §8 boundary behavior);
// threshold<=0 disables chunking.
func splitChunks(s string, threshold int) []string {
	if threshold <= 0 || len(s) <= threshold {
		return []string{s}
	}
	var chunks []string
	for len(s) > threshold {
		chunks = append(chunks, s[:threshold])
		s = s[threshold:]
	}
	if len(s) > 0 {
		chunks = append(chunks, s)
	}
	return chunks
}

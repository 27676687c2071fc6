package wire

import (
	"context"
	"fmt"
	"sync"

	"github.com/relaykit/host-sdk/internal/fastjson"
)

type rpcKind string

const (
	kindCall     rpcKind = "CALL"
	kindResponse rpcKind = "RESPONSE"
)

// rpcFrame is the DuplexRPC envelope carried inside a MessageSocket MESSAGE
// frame's Data field, per spec.md §6.
type rpcFrame struct {
	ID         string                `json:"id"`
	Kind       rpcKind               `json:"kind"`
	MethodName string                `json:"methodName,omitempty"`
	Data       fastjson.RawMessage   `json:"data,omitempty"`
	Error      string                `json:"error,omitempty"`
}

// RemoteError wraps an error message reported by the peer's method handler.
type RemoteError struct{ Message string }

func (e *RemoteError) Error() string { return e.Message }

// Handler answers one incoming CALL for a given method name. It receives
// the raw request payload (checked first by the Validator, if one is set; a
// payload that fails validation never reaches the handler) and returns the
// raw response payload.
type Handler func(ctx context.Context, data []byte) ([]byte, error)

// Validator is supplied by the layer above (host package) to enforce
// per-method input/output schemas (spec.md §4.2). A nil Validator performs
// no validation.
type Validator interface {
	// ValidateInbound checks a CALL's parsed input or a RESPONSE's parsed
	// output arriving from the peer.
	ValidateInbound(methodName string, kind string, data []byte) error
	// ValidateOutbound checks data this side is about to send for methodName.
	ValidateOutbound(methodName string, kind string, data []byte) error
}

type pendingCall struct {
	dataCh chan []byte
	errCh  chan error
}

// DuplexRPC multiplexes typed request/response calls over a MessageSocket,
// per spec.md §4.2. Either side may call methods the other side handles;
// calls may be concurrent and responses may arrive out of order.
type DuplexRPC struct {
	mu        sync.Mutex
	socket    *MessageSocket
	handlers  map[string]Handler
	validator Validator
	pending   map[string]*pendingCall
	nextID    uint64
	instance  string

	onDropped func(err error) // best-effort diagnostic hook, e.g. logging
}

// NewDuplexRPC builds a DuplexRPC bound to socket, with handlers answering
// the methods this side responds to. instanceID seeds outbound call ids so
// that two DuplexRPC instances sharing log output remain distinguishable.
func NewDuplexRPC(socket *MessageSocket, instanceID string, handlers map[string]Handler, validator Validator) *DuplexRPC {
	d := &DuplexRPC{
		socket:    socket,
		handlers:  handlers,
		validator: validator,
		pending:   make(map[string]*pendingCall),
		instance:  instanceID,
	}
	socket.SetOnMessage(d.handleFrame)
	return d
}

// SetCommunicator rebinds the message listener to newSocket without
// invalidating in-flight request ids; however, any calls still pending on
// the old socket are failed with ErrNotConnected and must be re-initiated
// by the caller (spec.md §4.2).
func (d *DuplexRPC) SetCommunicator(newSocket *MessageSocket) {
	d.mu.Lock()
	stale := d.pending
	d.pending = make(map[string]*pendingCall)
	d.socket = newSocket
	d.mu.Unlock()

	newSocket.SetOnMessage(d.handleFrame)

	for _, p := range stale {
		p.errCh <- ErrNotConnected
	}
}

// Call invokes methodName on the peer and waits for its RESPONSE.
func (d *DuplexRPC) Call(ctx context.Context, methodName string, payload any, timeoutFactor float64) ([]byte, error) {
	data, err := fastjson.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal call params: %w", err)
	}
	if d.validator != nil {
		if err := d.validator.ValidateOutbound(methodName, string(kindCall), data); err != nil {
			return nil, fmt.Errorf("wire: outbound validation for %s: %w", methodName, err)
		}
	}

	d.mu.Lock()
	d.nextID++
	id := fmt.Sprintf("%s-call-%d", d.instance, d.nextID)
	p := &pendingCall{dataCh: make(chan []byte, 1), errCh: make(chan error, 1)}
	d.pending[id] = p
	socket := d.socket
	d.mu.Unlock()

	frame := rpcFrame{ID: id, Kind: kindCall, MethodName: methodName, Data: data}
	frameData, err := fastjson.Marshal(frame)
	if err != nil {
		d.dropPending(id)
		return nil, fmt.Errorf("wire: marshal rpc frame: %w", err)
	}

	if err := socket.Send(ctx, frameData, timeoutFactor); err != nil {
		d.dropPending(id)
		return nil, err
	}

	select {
	case data := <-p.dataCh:
		if d.validator != nil {
			if err := d.validator.ValidateInbound(methodName, string(kindResponse), data); err != nil {
				return nil, fmt.Errorf("wire: inbound validation for %s: %w", methodName, err)
			}
		}
		return data, nil
	case err := <-p.errCh:
		return nil, err
	case <-ctx.Done():
		d.dropPending(id)
		return nil, ctx.Err()
	}
}

func (d *DuplexRPC) dropPending(id string) {
	d.mu.Lock()
	delete(d.pending, id)
	d.mu.Unlock()
}

func (d *DuplexRPC) handleFrame(raw []byte) {
	var f rpcFrame
	if err := strictUnmarshal(raw, &f); err != nil {
		if d.onDropped != nil {
			d.onDropped(err)
		}
		return
	}

	switch f.Kind {
	case kindResponse:
		d.mu.Lock()
		p, ok := d.pending[f.ID]
		if ok {
			delete(d.pending, f.ID)
		}
		d.mu.Unlock()
		if !ok {
			return
		}
		if f.Error != "" {
			p.errCh <- &RemoteError{Message: f.Error}
			return
		}
		p.dataCh <- []byte(f.Data)

	case kindCall:
		d.mu.Lock()
		handler, ok := d.handlers[f.MethodName]
		socket := d.socket
		d.mu.Unlock()

		go func() {
			var resp rpcFrame
			resp.ID = f.ID
			resp.Kind = kindResponse

			if !ok {
				resp.Error = fmt.Sprintf("unknown method %q", f.MethodName)
			} else {
				if d.validator != nil {
					if err := d.validator.ValidateInbound(f.MethodName, string(kindCall), f.Data); err != nil {
						resp.Error = err.Error()
					}
				}
				if resp.Error == "" {
					result, err := handler(context.Background(), []byte(f.Data))
					if err != nil {
						resp.Error = err.Error()
					} else {
						if d.validator != nil {
							if verr := d.validator.ValidateOutbound(f.MethodName, string(kindResponse), result); verr != nil {
								resp.Error = verr.Error()
								result = nil
							}
						}
						resp.Data = result
					}
				}
			}

			data, err := fastjson.Marshal(resp)
			if err != nil {
				if d.onDropped != nil {
					d.onDropped(err)
				}
				return
			}
			if err := socket.Send(context.Background(), data, 0); err != nil {
				if d.onDropped != nil {
					d.onDropped(err)
				}
			}
		}()
	}
}

package wire

import (
	"context"
	"testing"
	"time"
)

type echoValidator struct {
	rejectMethod string
}

func (v *echoValidator) ValidateInbound(method, kind string, data []byte) error {
	if method == v.rejectMethod {
		return errValidation
	}
	return nil
}

func (v *echoValidator) ValidateOutbound(method, kind string, data []byte) error {
	return nil
}

var errValidation = &RemoteError{Message: "rejected by validator"}

func dialDuplexPair(t *testing.T, handlersA, handlersB map[string]Handler) (*DuplexRPC, *DuplexRPC, *MessageSocket, *MessageSocket) {
	t.Helper()
	connA, connB := newPipe()
	sockA := New(connA, "inst-a", testOptions(), nil)
	sockB := New(connB, "inst-b", testOptions(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{}, 2)
	go func() { sockA.Connect(ctx); done <- struct{}{} }()
	go func() { sockB.Connect(ctx); done <- struct{}{} }()
	<-done
	<-done

	rpcA := NewDuplexRPC(sockA, "inst-a", handlersA, nil)
	rpcB := NewDuplexRPC(sockB, "inst-b", handlersB, nil)
	return rpcA, rpcB, sockA, sockB
}

func TestDuplexRPCCallAndHandle(t *testing.T) {
	handlersB := map[string]Handler{
		"echo": func(ctx context.Context, data []byte) ([]byte, error) {
			return data, nil
		},
	}
	rpcA, _, sockA, sockB := dialDuplexPair(t, nil, handlersB)
	defer sockA.Close()
	defer sockB.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := rpcA.Call(ctx, "echo", map[string]string{"hello": "world"}, 0)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(resp) != `{"hello":"world"}` {
		t.Fatalf("got %s", resp)
	}
}

func TestDuplexRPCUnknownMethod(t *testing.T) {
	rpcA, _, sockA, sockB := dialDuplexPair(t, nil, map[string]Handler{})
	defer sockA.Close()
	defer sockB.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := rpcA.Call(ctx, "missing", map[string]string{}, 0)
	if err == nil {
		t.Fatal("Call to unknown method did not fail")
	}
	if _, ok := err.(*RemoteError); !ok {
		t.Fatalf("err = %T, want *RemoteError", err)
	}
}

func TestDuplexRPCHandlerError(t *testing.T) {
	handlersB := map[string]Handler{
		"fail": func(ctx context.Context, data []byte) ([]byte, error) {
			return nil, &RemoteError{Message: "boom"}
		},
	}
	rpcA, _, sockA, sockB := dialDuplexPair(t, nil, handlersB)
	defer sockA.Close()
	defer sockB.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := rpcA.Call(ctx, "fail", map[string]string{}, 0)
	if err == nil || err.Error() != "boom" {
		t.Fatalf("Call = %v, want boom", err)
	}
}

func TestDuplexRPCSetCommunicatorFailsPending(t *testing.T) {
	block := make(chan struct{})
	handlersB := map[string]Handler{
		"slow": func(ctx context.Context, data []byte) ([]byte, error) {
			<-block
			return data, nil
		},
	}
	rpcA, _, sockA, sockB := dialDuplexPair(t, nil, handlersB)
	defer sockA.Close()
	defer sockB.Close()

	errCh := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, err := rpcA.Call(ctx, "slow", map[string]string{}, 0)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)

	connC, _ := newPipe()
	replacement := New(connC, "inst-a-2", testOptions(), nil)
	rpcA.SetCommunicator(replacement)
	close(block)

	select {
	case err := <-errCh:
		if err != ErrNotConnected {
			t.Fatalf("pending call after SetCommunicator = %v, want ErrNotConnected", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pending call did not fail after SetCommunicator")
	}
}

func TestDuplexRPCValidatorRejectsInbound(t *testing.T) {
	connA, connB := newPipe()
	sockA := New(connA, "inst-a", testOptions(), nil)
	sockB := New(connB, "inst-b", testOptions(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan struct{}, 2)
	go func() { sockA.Connect(ctx); done <- struct{}{} }()
	go func() { sockB.Connect(ctx); done <- struct{}{} }()
	<-done
	<-done

	handlersB := map[string]Handler{
		"restricted": func(ctx context.Context, data []byte) ([]byte, error) {
			return data, nil
		},
	}
	rpcA := NewDuplexRPC(sockA, "inst-a", nil, nil)
	rpcB := NewDuplexRPC(sockB, "inst-b", handlersB, &echoValidator{rejectMethod: "restricted"})
	defer sockA.Close()
	defer sockB.Close()
	_ = rpcB

	callCtx, callCancel := context.WithTimeout(context.Background(), time.Second)
	defer callCancel()
	_, err := rpcA.Call(callCtx, "restricted", map[string]string{}, 0)
	if err == nil {
		t.Fatal("Call to validator-rejected method did not fail")
	}
}

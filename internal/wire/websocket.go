package wire

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// subprotocol is negotiated during the WebSocket handshake so that generic
// WebSocket proxies and load balancers can distinguish this traffic from
// other upgrades on the same origin.
const subprotocol = "host-sdk"

// Dial opens a WebSocket connection to endpoint and wraps it as a Conn.
// header carries the connect-time headers from spec.md §6 (x-instance-id,
// optional x-api-key).
func Dial(ctx context.Context, endpoint string, header http.Header, dialer *websocket.Dialer) (Conn, error) {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	d := *dialer
	d.Subprotocols = []string{subprotocol}

	conn, resp, err := d.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("wire: dial %s: %w (status %d)", endpoint, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("wire: dial %s: %w", endpoint, err)
	}
	return &websocketConn{conn: conn}, nil
}

// websocketConn adapts a *websocket.Conn to Conn.
type websocketConn struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *websocketConn) ReadFrame(ctx context.Context) ([]byte, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.conn.Close()
		case <-done:
		}
	}()

	msgType, data, err := c.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("wire: websocket read: %w", err)
	}
	if msgType != websocket.TextMessage {
		return nil, fmt.Errorf("wire: unexpected websocket message type %d", msgType)
	}
	return data, nil
}

func (c *websocketConn) WriteFrame(ctx context.Context, data []byte) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("wire: websocket write: %w", err)
	}
	return nil
}

func (c *websocketConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

// Accept wraps an already-upgraded *websocket.Conn as a Conn, for server
// or peer-acceptor use.
func Accept(conn *websocket.Conn) Conn {
	return &websocketConn{conn: conn}
}

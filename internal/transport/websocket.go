package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"driftpursuit/worldclient/internal/logging"
)

const (
	closeGrace = time.Second
	// minWSWriteTimeout keeps whole-message writes from timing out on the
	// sub-millisecond budgets used for raw TCP.
	minWSWriteTimeout = 250 * time.Millisecond
)

type wsConn struct {
	ws      *websocket.Conn
	pump    *pump
	timeout time.Duration
	log     *logging.Logger
}

func dialWebSocket(ctx context.Context, url string, opts Options) (Conn, error) {
	dialer := websocket.Dialer{
		ReadBufferSize:  opts.ReadChunk,
		WriteBufferSize: opts.ReadChunk,
	}
	ws, resp, err := dialer.DialContext(ctx, url, opts.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial websocket %s: %w", url, err)
	}
	return newWSConn(ws, opts), nil
}

func newWSConn(ws *websocket.Conn, opts Options) *wsConn {
	c := &wsConn{ws: ws, pump: newPump(), timeout: max(opts.WriteTimeout, minWSWriteTimeout), log: opts.Logger}
	go c.pump.run(func() ([]byte, error) {
		//1.- Message boundaries carry no meaning; payloads are concatenated into one stream.
		for {
			kind, data, err := ws.ReadMessage()
			if err != nil {
				return nil, err
			}
			if kind == websocket.BinaryMessage {
				return data, nil
			}
		}
	})
	c.log.Debug("websocket transport connected", logging.String("remote", c.RemoteAddr()))
	return c
}

func (c *wsConn) Poll(p []byte) (int, error) { return c.pump.poll(p) }

// Write sends p as one binary message. A message is all or nothing, so a
// timed out write leaves the socket unusable and is reported as closed.
func (c *wsConn) Write(p []byte) (int, error) {
	if c.pump.closed {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrClosed, err)
	}
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return len(p), nil
}

func (c *wsConn) Close() error {
	if !c.pump.shutdown() {
		return nil
	}
	deadline := time.Now().Add(closeGrace)
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	c.log.Debug("websocket transport closed", logging.String("remote", c.RemoteAddr()))
	return c.ws.Close()
}

func (c *wsConn) RemoteAddr() string { return c.ws.RemoteAddr().String() }

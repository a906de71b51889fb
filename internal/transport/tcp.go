package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"driftpursuit/worldclient/internal/logging"
)

type tcpConn struct {
	conn    net.Conn
	pump    *pump
	timeout time.Duration
	log     *logging.Logger
}

func dialTCP(ctx context.Context, addr string, opts Options) (Conn, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial tcp %s: %w", addr, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	return newTCPConn(conn, opts), nil
}

func newTCPConn(conn net.Conn, opts Options) *tcpConn {
	c := &tcpConn{conn: conn, pump: newPump(), timeout: opts.WriteTimeout, log: opts.Logger}
	chunk := opts.ReadChunk
	go c.pump.run(func() ([]byte, error) {
		buf := make([]byte, chunk)
		n, err := conn.Read(buf)
		return buf[:n], err
	})
	c.log.Debug("tcp transport connected", logging.String("remote", conn.RemoteAddr().String()))
	return c
}

func (c *tcpConn) Poll(p []byte) (int, error) { return c.pump.poll(p) }

func (c *tcpConn) Write(p []byte) (int, error) {
	if c.pump.closed {
		return 0, ErrClosed
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrClosed, err)
	}
	n, err := c.conn.Write(p)
	if err != nil && isTimeout(err) {
		return n, nil
	}
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return n, nil
}

func (c *tcpConn) Close() error {
	if !c.pump.shutdown() {
		return nil
	}
	c.log.Debug("tcp transport closed", logging.String("remote", c.RemoteAddr()))
	return c.conn.Close()
}

func (c *tcpConn) RemoteAddr() string { return c.conn.RemoteAddr().String() }

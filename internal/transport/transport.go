package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"driftpursuit/worldclient/internal/logging"
)

// ErrClosed reports a connection closed locally or by the peer.
var ErrClosed = errors.New("transport: connection closed")

const (
	// DefaultReadChunk sizes each read performed by the receive goroutine.
	DefaultReadChunk = 16 << 10
	// DefaultWriteTimeout bounds one Write call.
	DefaultWriteTimeout = 2 * time.Millisecond

	pumpDepth = 64
)

// Conn is a byte stream to the server that never blocks the caller for long.
type Conn interface {
	// Poll copies already received bytes into p and returns immediately,
	// reporting 0, nil when nothing is waiting.
	Poll(p []byte) (int, error)
	// Write sends p within the write timeout. A timeout is a partial write
	// and is not reported as an error.
	Write(p []byte) (int, error)
	Close() error
	RemoteAddr() string
}

// Dialer opens connections; the session depends on this interface so tests
// can substitute in-memory transports.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Conn, error)
}

// Options tunes the built-in transports.
type Options struct {
	WriteTimeout time.Duration
	ReadChunk    int
	// Header is sent with WebSocket handshakes.
	Header http.Header
	Logger *logging.Logger
}

// NetDialer dials TCP for host:port or tcp:// addresses and WebSocket for
// ws:// and wss:// URLs.
type NetDialer struct {
	Options Options
}

// NewDialer returns a NetDialer with defaults applied.
func NewDialer(opts Options) *NetDialer {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.ReadChunk <= 0 {
		opts.ReadChunk = DefaultReadChunk
	}
	if opts.Logger == nil {
		opts.Logger = logging.L()
	}
	return &NetDialer{Options: opts}
}

// Dial connects to addr; ctx bounds the connection attempt only.
func (d *NetDialer) Dial(ctx context.Context, addr string) (Conn, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("transport: empty address")
	}
	switch {
	case strings.HasPrefix(addr, "ws://"), strings.HasPrefix(addr, "wss://"):
		return dialWebSocket(ctx, addr, d.Options)
	default:
		return dialTCP(ctx, strings.TrimPrefix(addr, "tcp://"), d.Options)
	}
}

// pump moves bytes from a blocking reader goroutine to non-blocking Poll calls.
type pump struct {
	chunks  chan []byte
	stop    chan struct{}
	once    sync.Once
	err     error
	pending []byte
	closed  bool
}

func newPump() *pump {
	return &pump{chunks: make(chan []byte, pumpDepth), stop: make(chan struct{})}
}

func (p *pump) run(read func() ([]byte, error)) {
	defer close(p.chunks)
	for {
		chunk, err := read()
		if len(chunk) > 0 {
			select {
			case p.chunks <- chunk:
			case <-p.stop:
				return
			}
		}
		if err != nil {
			//1.- Publish the failure before closing the channel so Poll observes it.
			p.err = err
			return
		}
	}
}

func (p *pump) poll(dst []byte) (int, error) {
	if p.closed {
		return 0, ErrClosed
	}
	n := 0
	for n < len(dst) {
		if len(p.pending) == 0 {
			select {
			case chunk, ok := <-p.chunks:
				if !ok {
					if n > 0 {
						return n, nil
					}
					return 0, p.failure()
				}
				p.pending = chunk
			default:
				return n, nil
			}
		}
		copied := copy(dst[n:], p.pending)
		p.pending = p.pending[copied:]
		n += copied
	}
	return n, nil
}

func (p *pump) failure() error {
	if p.err == nil || errors.Is(p.err, io.EOF) || errors.Is(p.err, net.ErrClosed) {
		return ErrClosed
	}
	return fmt.Errorf("%w: %v", ErrClosed, p.err)
}

func (p *pump) shutdown() bool {
	first := false
	p.once.Do(func() {
		first = true
		close(p.stop)
	})
	p.closed = true
	return first
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

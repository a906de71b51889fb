package outbound

import (
	"errors"
	"fmt"
)

// DefaultCapacity bounds queued outbound bytes when no capacity is given.
const DefaultCapacity = 16 << 10

// ErrBufferFull reports a send that would exceed the buffer capacity.
var ErrBufferFull = errors.New("outbound: send buffer full")

// Writer accepts outbound bytes. Unlike io.Writer it may write fewer bytes
// than offered without reporting an error; the rest is retried later.
type Writer interface {
	Write(p []byte) (int, error)
}

// Buffer queues encoded commands until the session flushes them. Enqueue is
// best effort: a message that does not fit is refused whole.
type Buffer struct {
	buf     []byte
	limit   int
	flushed uint64
	refused uint64
}

// NewBuffer returns a buffer holding at most capacity bytes.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{buf: make([]byte, 0, capacity), limit: capacity}
}

// Len returns the queued byte count.
func (b *Buffer) Len() int { return len(b.buf) }

// Cap returns the capacity.
func (b *Buffer) Cap() int { return b.limit }

// Flushed returns the total bytes written since construction.
func (b *Buffer) Flushed() uint64 { return b.flushed }

// Refused returns the number of sends rejected for lack of room.
func (b *Buffer) Refused() uint64 { return b.refused }

// Send appends raw command bytes.
func (b *Buffer) Send(p []byte) error {
	if len(b.buf)+len(p) > b.limit {
		b.refused++
		return fmt.Errorf("%w: %d queued, %d more requested, capacity %d", ErrBufferFull, len(b.buf), len(p), b.limit)
	}
	b.buf = append(b.buf, p...)
	return nil
}

// Enqueue encodes cmd and sends it.
func (b *Buffer) Enqueue(cmd Command) error {
	return b.Send(cmd.AppendTo(nil))
}

// Flush writes as much of the queue as w and budget accept. Bytes not
// written stay queued for the next call. budget may be nil.
func (b *Buffer) Flush(w Writer, budget *Budget) (int, error) {
	if len(b.buf) == 0 {
		return 0, nil
	}
	want := budget.Grant(len(b.buf))
	if want == 0 {
		return 0, nil
	}
	n, err := w.Write(b.buf[:want])
	if n > 0 {
		budget.Charge(n)
		b.flushed += uint64(n)
		remaining := copy(b.buf, b.buf[n:])
		b.buf = b.buf[:remaining]
	}
	return n, err
}

// Reset drops every queued byte.
func (b *Buffer) Reset() { b.buf = b.buf[:0] }

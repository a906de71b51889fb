package wire

import (
	"errors"
	"fmt"
)

// ErrNoFrame is returned by Consume when no complete frame is pending.
var ErrNoFrame = errors.New("wire: no complete frame pending")

// Accumulator buffers raw transport bytes and tracks how many leading bytes
// form complete, not yet decoded frames. It never copies on scan.
type Accumulator struct {
	buf      []byte
	used     int
	complete int
	pending  int
}

// MinCapacity fits the largest frame any header can describe.
const MinCapacity = MaxFrameLength

// NewAccumulator allocates a fixed-capacity input buffer. Capacities below
// MinCapacity are raised so a well-formed stream never overflows.
func NewAccumulator(capacity int) *Accumulator {
	if capacity < MinCapacity {
		capacity = MinCapacity
	}
	return &Accumulator{buf: make([]byte, capacity)}
}

// Cap returns the buffer capacity.
func (a *Accumulator) Cap() int { return len(a.buf) }

// Used returns the number of buffered bytes not yet consumed.
func (a *Accumulator) Used() int { return a.used }

// Complete returns the number of leading bytes known to form whole frames.
func (a *Accumulator) Complete() int { return a.complete }

// Pending returns the number of complete frames waiting to be decoded.
func (a *Accumulator) Pending() int { return a.pending }

// Free returns the remaining buffer space.
func (a *Accumulator) Free() int { return len(a.buf) - a.used }

// Space exposes the unused tail of the buffer for a transport read.
func (a *Accumulator) Space() []byte { return a.buf[a.used:] }

// Commit records n bytes written into Space.
func (a *Accumulator) Commit(n int) error {
	if n < 0 || n > a.Free() {
		return fmt.Errorf("wire: commit %d bytes with %d free", n, a.Free())
	}
	a.used += n
	return nil
}

// Write copies as much of p as fits and returns the number of bytes taken.
func (a *Accumulator) Write(p []byte) int {
	n := copy(a.buf[a.used:], p)
	a.used += n
	return n
}

// Scan advances over every frame that is now fully buffered and returns how
// many new frames were found. It is safe to call after every read.
func (a *Accumulator) Scan() (int, error) {
	found := 0
	for {
		header, ok := ParseHeader(a.buf[a.complete:a.used])
		if !ok {
			return found, nil
		}
		if header.Length > len(a.buf) {
			return found, fmt.Errorf("%w: frame of %d bytes at offset %d, capacity %d", ErrFrameOverflow, header.Length, a.complete, len(a.buf))
		}
		if a.complete+header.Length > a.used {
			return found, nil
		}
		a.complete += header.Length
		a.pending++
		found++
	}
}

// PeekFrame returns the oldest complete frame. The frame aliases the buffer
// and is only valid until the next Consume or Reset.
func (a *Accumulator) PeekFrame() (Frame, bool) {
	if a.pending == 0 {
		return Frame{}, false
	}
	header, ok := ParseHeader(a.buf[:a.complete])
	if !ok {
		return Frame{}, false
	}
	return Frame{Header: header, Raw: a.buf[:header.Length]}, true
}

// Consume drops the oldest complete frame, shrinking the buffered and
// complete byte counts by exactly its length.
func (a *Accumulator) Consume() error {
	frame, ok := a.PeekFrame()
	if !ok {
		return ErrNoFrame
	}
	n := frame.Header.Length
	copy(a.buf, a.buf[n:a.used])
	a.used -= n
	a.complete -= n
	a.pending--
	return nil
}

// Reset discards every buffered byte.
func (a *Accumulator) Reset() {
	a.used = 0
	a.complete = 0
	a.pending = 0
}

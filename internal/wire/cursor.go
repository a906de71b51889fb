package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrShortRead reports a read past the end of the underlying buffer.
var ErrShortRead = errors.New("wire: short read")

// Cursor walks a byte slice front to back. Multi-byte values are big-endian.
type Cursor struct {
	buf []byte
	off int
}

// NewCursor wraps buf without copying it.
func NewCursor(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// Offset returns the number of bytes consumed so far.
func (c *Cursor) Offset() int { return c.off }

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int { return len(c.buf) - c.off }

func (c *Cursor) take(n int) ([]byte, error) {
	if n < 0 || c.Remaining() < n {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortRead, n, c.off, c.Remaining())
	}
	out := c.buf[c.off : c.off+n]
	c.off += n
	return out, nil
}

// U8 reads one byte.
func (c *Cursor) U8() (uint8, error) {
	b, err := c.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// I8 reads one signed byte.
func (c *Cursor) I8() (int8, error) {
	v, err := c.U8()
	return int8(v), err
}

// U16 reads a big-endian uint16.
func (c *Cursor) U16() (uint16, error) {
	b, err := c.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// U32 reads a big-endian uint32.
func (c *Cursor) U32() (uint32, error) {
	b, err := c.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// I32 reads a big-endian int32.
func (c *Cursor) I32() (int32, error) {
	v, err := c.U32()
	return int32(v), err
}

// U64 reads a big-endian uint64.
func (c *Cursor) U64() (uint64, error) {
	b, err := c.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// Bytes returns the next n bytes without copying.
func (c *Cursor) Bytes(n int) ([]byte, error) {
	return c.take(n)
}

// Skip advances past n bytes.
func (c *Cursor) Skip(n int) error {
	_, err := c.take(n)
	return err
}

// PeekAt returns the byte at offset i from the current position without consuming it.
func (c *Cursor) PeekAt(i int) (uint8, error) {
	if i < 0 || c.Remaining() <= i {
		return 0, fmt.Errorf("%w: peek %d at offset %d, have %d", ErrShortRead, i, c.off, c.Remaining())
	}
	return c.buf[c.off+i], nil
}

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// FlagCompressed marks a frame whose payload belongs to the inflate stream.
	FlagCompressed = 0x80
	// FlagShort selects the one-byte header form.
	FlagShort = 0x40

	// MaxShortPayload is the largest payload a one-byte header can describe.
	MaxShortPayload = 0x3F
	// MaxLongPayload is the largest payload a two-byte header can describe.
	MaxLongPayload = 0x3FFF
	// MaxFrameLength is the largest total frame size the header format allows.
	MaxFrameLength = 2 + MaxLongPayload
)

var (
	// ErrFrameOverflow reports a frame that cannot fit in the input buffer.
	ErrFrameOverflow = errors.New("wire: frame exceeds input buffer")
	// ErrPayloadTooLarge reports a payload that no header form can describe.
	ErrPayloadTooLarge = errors.New("wire: payload too large for frame header")
)

// Header describes one frame as decoded from its leading byte(s).
type Header struct {
	Compressed bool
	// Size is the header length in bytes (1 or 2).
	Size int
	// Length is the total frame length including the header.
	Length int
}

// PayloadLength returns the number of bytes after the header.
func (h Header) PayloadLength() int { return h.Length - h.Size }

// ParseHeader decodes the header at the start of buf. It reports false when
// more bytes are needed before the frame length is known.
func ParseHeader(buf []byte) (Header, bool) {
	if len(buf) == 0 {
		return Header{}, false
	}
	b0 := buf[0]
	compressed := b0&FlagCompressed != 0
	if b0&FlagShort != 0 {
		return Header{Compressed: compressed, Size: 1, Length: 1 + int(b0&MaxShortPayload)}, true
	}
	if len(buf) < 2 {
		return Header{}, false
	}
	h16 := binary.BigEndian.Uint16(buf[:2])
	return Header{Compressed: compressed, Size: 2, Length: 2 + int(h16&MaxLongPayload)}, true
}

// Frame is a complete frame still owned by the accumulator that produced it.
type Frame struct {
	Header Header
	Raw    []byte
}

// Payload returns the bytes following the header.
func (f Frame) Payload() []byte { return f.Raw[f.Header.Size:f.Header.Length] }

// AppendFrame wraps payload in the shortest header able to describe it.
func AppendFrame(dst, payload []byte, compressed bool) ([]byte, error) {
	var flags byte
	if compressed {
		flags = FlagCompressed
	}
	switch n := len(payload); {
	case n <= MaxShortPayload:
		dst = append(dst, flags|FlagShort|byte(n))
	case n <= MaxLongPayload:
		dst = append(dst, flags|byte(n>>8), byte(n))
	default:
		return dst, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, n)
	}
	return append(dst, payload...), nil
}

package wire

import (
	"bytes"
	"errors"
	"testing"
)

func TestParseHeaderShortFrame(t *testing.T) {
	frame := []byte{0x40 | 0x05, 1, 2, 3, 4, 5}
	header, ok := ParseHeader(frame)
	if !ok {
		t.Fatalf("expected header to parse")
	}
	if header.Compressed {
		t.Fatalf("expected uncompressed frame")
	}
	if header.Size != 1 || header.Length != 6 {
		t.Fatalf("unexpected header %+v", header)
	}
	got := Frame{Header: header, Raw: frame}.Payload()
	if !bytes.Equal(got, frame[1:]) {
		t.Fatalf("unexpected payload %v", got)
	}
}

func TestParseHeaderLongFrameNeedsTwoBytes(t *testing.T) {
	if _, ok := ParseHeader([]byte{0x80}); ok {
		t.Fatalf("expected long header to need a second byte")
	}
	header, ok := ParseHeader([]byte{0x80, 0x0A})
	if !ok {
		t.Fatalf("expected header to parse")
	}
	if !header.Compressed || header.Size != 2 || header.Length != 12 || header.PayloadLength() != 10 {
		t.Fatalf("unexpected header %+v", header)
	}
}

func TestParseHeaderMasksFlagBits(t *testing.T) {
	header, ok := ParseHeader([]byte{0xBF, 0xFF})
	if !ok {
		t.Fatalf("expected header to parse")
	}
	if header.Size != 2 || header.PayloadLength() != MaxLongPayload {
		t.Fatalf("unexpected header %+v", header)
	}
}

func TestAppendFrameChoosesHeaderForm(t *testing.T) {
	cases := []struct {
		name       string
		payload    int
		compressed bool
		headerSize int
	}{
		{name: "empty", payload: 0, headerSize: 1},
		{name: "short max", payload: MaxShortPayload, headerSize: 1},
		{name: "long min", payload: MaxShortPayload + 1, compressed: true, headerSize: 2},
		{name: "long max", payload: MaxLongPayload, headerSize: 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := bytes.Repeat([]byte{0xAB}, tc.payload)
			frame, err := AppendFrame(nil, payload, tc.compressed)
			if err != nil {
				t.Fatalf("append frame: %v", err)
			}
			header, ok := ParseHeader(frame)
			if !ok {
				t.Fatalf("expected header to parse")
			}
			if header.Size != tc.headerSize || header.Length != len(frame) || header.Compressed != tc.compressed {
				t.Fatalf("unexpected header %+v for frame of %d bytes", header, len(frame))
			}
			if !bytes.Equal(Frame{Header: header, Raw: frame}.Payload(), payload) {
				t.Fatalf("payload mismatch")
			}
		})
	}
}

func TestAppendFrameRejectsOversizedPayload(t *testing.T) {
	_, err := AppendFrame(nil, make([]byte, MaxLongPayload+1), false)
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestCursorReadsBigEndian(t *testing.T) {
	c := NewCursor([]byte{0x01, 0x02, 0x03, 0xFF, 0xFF, 0xFF, 0xFE, 0x80})
	u16, err := c.U16()
	if err != nil || u16 != 0x0102 {
		t.Fatalf("u16 = %#x, %v", u16, err)
	}
	if _, err := c.U8(); err != nil {
		t.Fatalf("u8: %v", err)
	}
	i32, err := c.I32()
	if err != nil || i32 != -2 {
		t.Fatalf("i32 = %d, %v", i32, err)
	}
	i8, err := c.I8()
	if err != nil || i8 != -128 {
		t.Fatalf("i8 = %d, %v", i8, err)
	}
	if c.Remaining() != 0 || c.Offset() != 8 {
		t.Fatalf("unexpected cursor position %d/%d", c.Offset(), c.Remaining())
	}
	if _, err := c.U8(); !errors.Is(err, ErrShortRead) {
		t.Fatalf("expected ErrShortRead, got %v", err)
	}
}

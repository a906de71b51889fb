package codec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/klauspost/compress/zlib"

	"driftpursuit/worldclient/internal/wire"
)

func parseFrame(t *testing.T, raw []byte) wire.Frame {
	t.Helper()
	header, ok := wire.ParseHeader(raw)
	if !ok || header.Length != len(raw) {
		t.Fatalf("malformed test frame: %+v (len %d)", header, len(raw))
	}
	return wire.Frame{Header: header, Raw: raw}
}

func TestDecodeUncompressedCopiesPayload(t *testing.T) {
	raw := []byte{0x40 | 0x05, 10, 11, 12, 13, 14}
	in := NewInflater(0)
	tick, err := in.Decode(parseFrame(t, raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(tick, raw[1:]) {
		t.Fatalf("unexpected tick %v", tick)
	}
	raw[1] = 0xFF
	if tick[0] != 10 {
		t.Fatalf("tick must not alias the frame buffer")
	}
}

func TestDecodeCompressedStreamAcrossFrames(t *testing.T) {
	deflater, err := NewDeflater(zlib.BestCompression)
	if err != nil {
		t.Fatalf("deflater: %v", err)
	}
	ticks := [][]byte{
		bytes.Repeat([]byte("map-cell-delta "), 20),
		bytes.Repeat([]byte("map-cell-delta "), 20), // back-references the previous frame
		{},
		[]byte{0x10, 0x01, 0x00, 0x00, 0x00, 0x2A},
	}
	in := NewInflater(0)
	for i, tick := range ticks {
		raw, err := deflater.AppendFrame(nil, tick)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		got, err := in.Decode(parseFrame(t, raw))
		if err != nil {
			t.Fatalf("decode frame %d: %v", i, err)
		}
		if !bytes.Equal(got, tick) {
			t.Fatalf("frame %d mismatch: got %q want %q", i, got, tick)
		}
	}
}

func tenByteSegment(t *testing.T) ([]byte, []byte) {
	t.Helper()
	//1.- Search for a tick whose opening stream segment is exactly ten bytes long.
	for _, unit := range [][]byte{[]byte("a"), []byte("ab"), []byte("xyz")} {
		for n := 0; n < 300; n++ {
			deflater, err := NewDeflater(zlib.DefaultCompression)
			if err != nil {
				t.Fatalf("deflater: %v", err)
			}
			tick := bytes.Repeat(unit, n)
			segment, err := deflater.Compress(tick)
			if err != nil {
				t.Fatalf("compress: %v", err)
			}
			if len(segment) == 10 {
				return tick, segment
			}
		}
	}
	t.Fatalf("no ten-byte segment found")
	return nil, nil
}

func TestDecodeCompressedLongHeaderDrainsInput(t *testing.T) {
	tick, segment := tenByteSegment(t)
	raw := append([]byte{0x80, 0x0A}, segment...)
	frame := parseFrame(t, raw)
	if !frame.Header.Compressed || frame.Header.Size != 2 || frame.Header.PayloadLength() != 10 {
		t.Fatalf("unexpected header %+v", frame.Header)
	}
	in := NewInflater(0)
	got, err := in.Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(got, tick) {
		t.Fatalf("unexpected tick %q want %q", got, tick)
	}
	if in.src.Len() != 0 {
		t.Fatalf("expected inflater to drain its input")
	}
}

func TestDecodeRejectsTrailingGarbage(t *testing.T) {
	deflater, err := NewDeflater(zlib.DefaultCompression)
	if err != nil {
		t.Fatalf("deflater: %v", err)
	}
	segment, err := deflater.Compress([]byte("hello"))
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	raw, err := wire.AppendFrame(nil, append(segment, 0x01), true)
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	_, err = NewInflater(0).Decode(parseFrame(t, raw))
	if !errors.Is(err, ErrCodec) {
		t.Fatalf("expected ErrCodec, got %v", err)
	}
}

func TestDecodeRejectsTruncatedSegment(t *testing.T) {
	deflater, err := NewDeflater(zlib.DefaultCompression)
	if err != nil {
		t.Fatalf("deflater: %v", err)
	}
	segment, err := deflater.Compress(bytes.Repeat([]byte("abc"), 50))
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	raw, err := wire.AppendFrame(nil, segment[:len(segment)-3], true)
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	if _, err := NewInflater(0).Decode(parseFrame(t, raw)); !errors.Is(err, ErrCodec) {
		t.Fatalf("expected ErrCodec, got %v", err)
	}
}

func TestDecodeRejectsBadZlibHeader(t *testing.T) {
	raw, err := wire.AppendFrame(nil, []byte{0x12, 0x34, 0x00, 0x00, 0x00, 0xFF, 0xFF}, true)
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	if _, err := NewInflater(0).Decode(parseFrame(t, raw)); !errors.Is(err, ErrCodec) {
		t.Fatalf("expected ErrCodec, got %v", err)
	}
}

func TestDecodeEnforcesTickLimit(t *testing.T) {
	deflater, err := NewDeflater(zlib.DefaultCompression)
	if err != nil {
		t.Fatalf("deflater: %v", err)
	}
	raw, err := deflater.AppendFrame(nil, make([]byte, 4096))
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	if _, err := NewInflater(1024).Decode(parseFrame(t, raw)); !errors.Is(err, ErrCodec) {
		t.Fatalf("expected ErrCodec, got %v", err)
	}
}

func TestResetRequiresFreshStream(t *testing.T) {
	first, err := NewDeflater(zlib.DefaultCompression)
	if err != nil {
		t.Fatalf("deflater: %v", err)
	}
	in := NewInflater(0)
	raw, _ := first.AppendFrame(nil, []byte("one"))
	if _, err := in.Decode(parseFrame(t, raw)); err != nil {
		t.Fatalf("decode: %v", err)
	}
	in.Reset()

	second, err := NewDeflater(zlib.DefaultCompression)
	if err != nil {
		t.Fatalf("deflater: %v", err)
	}
	raw, _ = second.AppendFrame(nil, []byte("two"))
	got, err := in.Decode(parseFrame(t, raw))
	if err != nil {
		t.Fatalf("decode after reset: %v", err)
	}
	if string(got) != "two" {
		t.Fatalf("unexpected tick %q", got)
	}
}

package codec

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zlib"

	"driftpursuit/worldclient/internal/wire"
)

// Deflater produces frames compatible with Inflater: one zlib stream,
// sync-flushed after every tick. It backs the loopback server and tooling.
type Deflater struct {
	buf bytes.Buffer
	zw  *zlib.Writer
}

// NewDeflater opens a stream at the given zlib compression level.
func NewDeflater(level int) (*Deflater, error) {
	d := &Deflater{}
	zw, err := zlib.NewWriterLevel(&d.buf, level)
	if err != nil {
		return nil, fmt.Errorf("zlib writer: %w", err)
	}
	d.zw = zw
	return d, nil
}

// Compress returns the stream segment for tick, ending on a sync flush.
func (d *Deflater) Compress(tick []byte) ([]byte, error) {
	d.buf.Reset()
	if _, err := d.zw.Write(tick); err != nil {
		return nil, fmt.Errorf("zlib write: %w", err)
	}
	if err := d.zw.Flush(); err != nil {
		return nil, fmt.Errorf("zlib flush: %w", err)
	}
	return append([]byte(nil), d.buf.Bytes()...), nil
}

// AppendFrame compresses tick and appends it to dst as a compressed frame.
func (d *Deflater) AppendFrame(dst, tick []byte) ([]byte, error) {
	segment, err := d.Compress(tick)
	if err != nil {
		return dst, err
	}
	return wire.AppendFrame(dst, segment, true)
}

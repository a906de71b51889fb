package protocol

import "driftpursuit/worldclient/internal/wire"

// fieldReader wraps a cursor with a sticky error so handlers can decode a
// whole body before checking once.
type fieldReader struct {
	c   *wire.Cursor
	err error
}

func newFieldReader(body []byte) *fieldReader {
	return &fieldReader{c: wire.NewCursor(body)}
}

func (r *fieldReader) u8() uint8 {
	if r.err != nil {
		return 0
	}
	v, err := r.c.U8()
	r.err = err
	return v
}

func (r *fieldReader) i8() int8 {
	return int8(r.u8())
}

func (r *fieldReader) u16() uint16 {
	if r.err != nil {
		return 0
	}
	v, err := r.c.U16()
	r.err = err
	return v
}

func (r *fieldReader) u32() uint32 {
	if r.err != nil {
		return 0
	}
	v, err := r.c.U32()
	r.err = err
	return v
}

func (r *fieldReader) i32() int32 {
	return int32(r.u32())
}

func (r *fieldReader) u64() uint64 {
	if r.err != nil {
		return 0
	}
	v, err := r.c.U64()
	r.err = err
	return v
}

func (r *fieldReader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	v, err := r.c.Bytes(n)
	r.err = err
	return v
}

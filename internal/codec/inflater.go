package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"

	"driftpursuit/worldclient/internal/wire"
)

// ErrCodec reports an unrecoverable fault in the inbound compression stream.
var ErrCodec = errors.New("codec fault")

const (
	// windowSize is the deflate history carried from one frame to the next.
	windowSize = 32 << 10

	// DefaultMaxTickBytes bounds a single decoded tick.
	DefaultMaxTickBytes = 256 << 10
)

// syncMarker terminates every sync-flushed deflate segment.
var syncMarker = []byte{0x00, 0x00, 0xFF, 0xFF}

// Inflater decodes frames into tick buffers. Compressed frames of one
// connection form a single zlib stream that is sync-flushed at every frame
// boundary, so each frame must inflate completely on its own.
type Inflater struct {
	maxTick int
	started bool
	window  []byte
	src     bytes.Reader
	reader  io.ReadCloser
	out     bytes.Buffer
}

// NewInflater constructs a decoder bounded to maxTickBytes of output per frame.
func NewInflater(maxTickBytes int) *Inflater {
	if maxTickBytes <= 0 {
		maxTickBytes = DefaultMaxTickBytes
	}
	return &Inflater{maxTick: maxTickBytes}
}

// Decode returns the tick carried by frame. The returned slice is owned by the caller.
func (in *Inflater) Decode(frame wire.Frame) ([]byte, error) {
	payload := frame.Payload()
	if !frame.Header.Compressed {
		if len(payload) > in.maxTick {
			return nil, fmt.Errorf("%w: tick of %d bytes exceeds limit %d", ErrCodec, len(payload), in.maxTick)
		}
		return append([]byte(nil), payload...), nil
	}
	return in.inflate(payload)
}

func (in *Inflater) inflate(payload []byte) ([]byte, error) {
	body := payload
	if !in.started {
		//1.- The first compressed payload opens the stream with its zlib header.
		if err := checkZlibHeader(body); err != nil {
			return nil, err
		}
		body = body[2:]
		in.started = true
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty compressed payload", ErrCodec)
	}

	//2.- Resume the stream from the carried history window.
	in.src.Reset(body)
	if in.reader == nil {
		in.reader = flate.NewReaderDict(&in.src, in.window)
	} else if err := in.reader.(flate.Resetter).Reset(&in.src, in.window); err != nil {
		return nil, fmt.Errorf("%w: reset inflater: %v", ErrCodec, err)
	}

	//3.- Drain exactly one frame; running out of input at a sync point is the expected stop.
	in.out.Reset()
	_, err := in.out.ReadFrom(io.LimitReader(in.reader, int64(in.maxTick)+1))
	switch {
	case err == nil:
		if in.out.Len() > in.maxTick {
			return nil, fmt.Errorf("%w: tick exceeds limit %d", ErrCodec, in.maxTick)
		}
		return nil, fmt.Errorf("%w: deflate stream finished", ErrCodec)
	case errors.Is(err, io.ErrUnexpectedEOF):
	default:
		return nil, fmt.Errorf("%w: inflate: %v", ErrCodec, err)
	}
	if left := in.src.Len(); left != 0 {
		return nil, fmt.Errorf("%w: %d input bytes left unconsumed", ErrCodec, left)
	}
	if !bytes.HasSuffix(body, syncMarker) {
		return nil, fmt.Errorf("%w: frame does not end on a sync flush", ErrCodec)
	}

	tick := append([]byte(nil), in.out.Bytes()...)
	in.remember(tick)
	return tick, nil
}

func (in *Inflater) remember(tick []byte) {
	in.window = append(in.window, tick...)
	if excess := len(in.window) - windowSize; excess > 0 {
		n := copy(in.window, in.window[excess:])
		in.window = in.window[:n]
	}
}

// Reset discards the stream state so the next compressed frame must open a new stream.
func (in *Inflater) Reset() {
	in.started = false
	in.window = in.window[:0]
	in.src.Reset(nil)
	in.out.Reset()
	if in.reader != nil {
		_ = in.reader.Close()
		in.reader = nil
	}
}

func checkZlibHeader(b []byte) error {
	if len(b) < 2 {
		return fmt.Errorf("%w: truncated zlib header", ErrCodec)
	}
	cmf, flg := b[0], b[1]
	if cmf&0x0F != 8 || cmf>>4 > 7 {
		return fmt.Errorf("%w: unsupported compression method %#x", ErrCodec, cmf)
	}
	if (uint16(cmf)<<8|uint16(flg))%31 != 0 {
		return fmt.Errorf("%w: zlib header checksum mismatch", ErrCodec)
	}
	if flg&0x20 != 0 {
		return fmt.Errorf("%w: preset dictionary not supported", ErrCodec)
	}
	return nil
}

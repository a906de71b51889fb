package capture

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// ErrCorrupt reports a frame stream that ends inside a record.
var ErrCorrupt = errors.New("capture: corrupt frame stream")

// Tick is one recorded decoded tick.
type Tick struct {
	Seq        uint64
	CapturedAt time.Time
	Data       []byte
}

// Event is one recorded side effect or session transition.
type Event struct {
	Seq        uint64          `json:"seq"`
	CapturedAt time.Time       `json:"captured_at"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
}

// Bundle is a capture loaded back from disk.
type Bundle struct {
	Dir      string
	Manifest Manifest
	Header   Header
	Ticks    []Tick
	Events   []Event
}

// Load reads the bundle stored in dir. A missing header is tolerated so
// bundles of crashed sessions remain readable.
func Load(dir string) (*Bundle, error) {
	if dir == "" {
		return nil, fmt.Errorf("capture path must be provided")
	}
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return nil, err
	}
	bundle := &Bundle{Dir: dir}
	if err := json.Unmarshal(data, &bundle.Manifest); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	header, err := ReadHeader(filepath.Join(dir, headerName))
	switch {
	case err == nil:
		bundle.Header = header
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("read header: %w", err)
	}

	//1.- Decode the length-prefixed tick records.
	if bundle.Ticks, err = loadTicks(filepath.Join(dir, bundle.Manifest.FramesPath)); err != nil {
		return nil, err
	}
	//2.- Decode the JSONL event log.
	if bundle.Events, err = loadEvents(filepath.Join(dir, bundle.Manifest.EventsPath)); err != nil {
		return nil, err
	}
	return bundle, nil
}

func loadTicks(path string) ([]Tick, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	decoder, err := zstd.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()
	raw, err := io.ReadAll(decoder)
	if err != nil {
		return nil, fmt.Errorf("read frames: %w", err)
	}

	var ticks []Tick
	for off := 0; off < len(raw); {
		if len(raw)-off < FrameHeaderSize {
			return nil, fmt.Errorf("%w: truncated header at %d", ErrCorrupt, off)
		}
		seq := binary.LittleEndian.Uint64(raw[off : off+8])
		captured := int64(binary.LittleEndian.Uint64(raw[off+8 : off+16]))
		size := int(binary.LittleEndian.Uint32(raw[off+16 : off+20]))
		off += FrameHeaderSize
		if len(raw)-off < size {
			return nil, fmt.Errorf("%w: tick %d needs %d bytes, %d remain", ErrCorrupt, seq, size, len(raw)-off)
		}
		ticks = append(ticks, Tick{
			Seq:        seq,
			CapturedAt: time.Unix(0, captured).UTC(),
			Data:       append([]byte(nil), raw[off:off+size]...),
		})
		off += size
	}
	return ticks, nil
}

func loadEvents(path string) ([]Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(snappy.NewReader(file))
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			return nil, fmt.Errorf("parse event: %w", err)
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return events, nil
}

// Replay calls apply for every tick in recorded order.
func (b *Bundle) Replay(apply func(Tick) error) error {
	if b == nil {
		return fmt.Errorf("bundle not loaded")
	}
	if apply == nil {
		return fmt.Errorf("replay callback must be provided")
	}
	for _, tick := range b.Ticks {
		if err := apply(tick); err != nil {
			return err
		}
	}
	return nil
}

// EventsOfType filters the event log.
func (b *Bundle) EventsOfType(kind string) []Event {
	var out []Event
	for _, event := range b.Events {
		if event.Type == kind {
			out = append(out, event)
		}
	}
	return out
}

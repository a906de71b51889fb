package capture

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

var labelCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

const (
	flushInterval = 200 * time.Millisecond

	// FrameHeaderSize is the little-endian seq u64, captured ns u64, length u32 prefix.
	FrameHeaderSize = 8 + 8 + 4

	manifestName = "manifest.json"
	headerName   = "header.json"
	eventsName   = "events.jsonl.sz"
	framesName   = "frames.bin.zst"
)

// Manifest describes the bundle layout so tooling can locate artefacts.
type Manifest struct {
	Version         int    `json:"version"`
	CreatedAt       string `json:"created_at"`
	FlushIntervalMs int    `json:"flush_interval_ms"`
	EventsPath      string `json:"events_path"`
	FramesPath      string `json:"frames_path"`
}

// Stats summarises recorder activity.
type Stats struct {
	Ticks        uint64
	TickBytes    uint64
	Events       uint64
	BufferedTick int
	Directory    string
}

type pendingTick struct {
	seq        uint64
	capturedAt time.Time
	data       []byte
}

// Recorder writes every decoded tick and side-effect event of a session into
// a bundle directory.
type Recorder struct {
	mu          sync.Mutex
	dir         string
	now         func() time.Time
	header      Header
	eventFile   *os.File
	eventStream *snappy.Writer
	frameFile   *os.File
	frameStream *zstd.Encoder
	pending     []pendingTick
	lastFlush   time.Time
	stats       Stats
	closed      bool
}

// NewRecorder creates root/<label>-<timestamp>/ and opens the compressed sinks.
func NewRecorder(root, label string, clock func() time.Time) (*Recorder, Manifest, error) {
	if root == "" {
		return nil, Manifest{}, fmt.Errorf("capture root must be provided")
	}
	if clock == nil {
		clock = time.Now
	}
	cleaned := labelCleaner.ReplaceAllString(label, "")
	if cleaned == "" {
		cleaned = "session"
	}
	created := clock().UTC()
	path := filepath.Join(root, fmt.Sprintf("%s-%s", cleaned, created.Format("20060102T150405.000Z")))
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, Manifest{}, err
	}

	//1.- Open both streams, unwinding whatever succeeded when a later step fails.
	eventFile, err := os.Create(filepath.Join(path, eventsName))
	if err != nil {
		return nil, Manifest{}, err
	}
	eventStream := snappy.NewBufferedWriter(eventFile)
	frameFile, err := os.Create(filepath.Join(path, framesName))
	if err != nil {
		eventFile.Close()
		return nil, Manifest{}, err
	}
	frameStream, err := zstd.NewWriter(frameFile)
	if err != nil {
		eventStream.Close()
		eventFile.Close()
		frameFile.Close()
		return nil, Manifest{}, err
	}

	//2.- Persist the manifest up front so partially written bundles stay discoverable.
	manifest := Manifest{
		Version:         1,
		CreatedAt:       created.Format(time.RFC3339Nano),
		FlushIntervalMs: int(flushInterval / time.Millisecond),
		EventsPath:      eventsName,
		FramesPath:      framesName,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err == nil {
		err = os.WriteFile(filepath.Join(path, manifestName), data, 0o644)
	}
	if err != nil {
		frameStream.Close()
		frameFile.Close()
		eventStream.Close()
		eventFile.Close()
		return nil, Manifest{}, err
	}

	return &Recorder{
		dir:         path,
		now:         clock,
		header:      Header{SchemaVersion: HeaderSchemaVersion, FilePointer: manifestName},
		eventFile:   eventFile,
		eventStream: eventStream,
		frameFile:   frameFile,
		frameStream: frameStream,
		stats:       Stats{Directory: path},
	}, manifest, nil
}

// Directory returns the bundle directory.
func (r *Recorder) Directory() string {
	if r == nil {
		return ""
	}
	return r.dir
}

// SetHeader records session metadata written when the recorder closes.
// SchemaVersion and FilePointer are managed by the recorder.
func (r *Recorder) SetHeader(header Header) {
	if r == nil {
		return
	}
	r.mu.Lock()
	header.SchemaVersion = HeaderSchemaVersion
	header.FilePointer = manifestName
	r.header = header
	r.mu.Unlock()
}

// RecordTick stages a decoded tick; staged ticks are written every flush interval.
func (r *Recorder) RecordTick(seq uint64, tick []byte) error {
	if r == nil {
		return fmt.Errorf("recorder not initialised")
	}
	captured := r.now().UTC()
	clone := append([]byte(nil), tick...)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("recorder closed")
	}
	r.pending = append(r.pending, pendingTick{seq: seq, capturedAt: captured, data: clone})
	r.stats.Ticks++
	r.stats.TickBytes += uint64(len(clone))
	if r.lastFlush.IsZero() {
		r.lastFlush = captured
		return nil
	}
	if captured.Sub(r.lastFlush) >= flushInterval {
		if err := r.flushLocked(); err != nil {
			return err
		}
		r.lastFlush = captured
	}
	return nil
}

// RecordEvent appends one JSON line. payload is marshalled with encoding/json.
func (r *Recorder) RecordEvent(seq uint64, kind string, payload any) error {
	if r == nil {
		return fmt.Errorf("recorder not initialised")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	line, err := json.Marshal(Event{
		Seq:        seq,
		CapturedAt: r.now().UTC(),
		Type:       kind,
		Payload:    body,
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("recorder closed")
	}
	if _, err := r.eventStream.Write(append(line, '\n')); err != nil {
		return err
	}
	r.stats.Events++
	return r.eventStream.Flush()
}

// Flush writes staged ticks regardless of cadence.
func (r *Recorder) Flush() error {
	if r == nil {
		return fmt.Errorf("recorder not initialised")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.flushLocked(); err != nil {
		return err
	}
	r.lastFlush = r.now().UTC()
	return nil
}

// Stats returns a copy of the counters.
func (r *Recorder) Stats() Stats {
	if r == nil {
		return Stats{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := r.stats
	stats.BufferedTick = len(r.pending)
	return stats
}

// Close writes the header, flushes every stream and releases the files.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	//1.- Attempt every step and surface the first failure.
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	keep(WriteHeader(filepath.Join(r.dir, headerName), r.header))
	keep(r.flushLocked())
	keep(r.eventStream.Close())
	keep(r.eventFile.Close())
	keep(r.frameStream.Close())
	keep(r.frameFile.Close())
	return firstErr
}

func (r *Recorder) flushLocked() error {
	var header [FrameHeaderSize]byte
	for _, tick := range r.pending {
		binary.LittleEndian.PutUint64(header[0:8], tick.seq)
		binary.LittleEndian.PutUint64(header[8:16], uint64(tick.capturedAt.UnixNano()))
		binary.LittleEndian.PutUint32(header[16:20], uint32(len(tick.data)))
		if _, err := r.frameStream.Write(header[:]); err != nil {
			return err
		}
		if _, err := r.frameStream.Write(tick.data); err != nil {
			return err
		}
	}
	r.pending = r.pending[:0]
	return nil
}

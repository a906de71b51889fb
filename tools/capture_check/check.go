package capturecheck

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/davecgh/go-spew/spew"
	"github.com/remeh/sizedwaitgroup"

	"driftpursuit/worldclient/internal/capture"
	"driftpursuit/worldclient/internal/config"
	"driftpursuit/worldclient/internal/logging"
	"driftpursuit/worldclient/internal/protocol"
	"driftpursuit/worldclient/internal/world"
)

// Options configures a verification run.
type Options struct {
	// Parallel bounds how many bundles are replayed at once.
	Parallel   int
	Prediction config.PredictionConfig
	MaxOpcodes int
	Logger     *logging.Logger
}

// Result reports one bundle.
type Result struct {
	Dir       string `json:"dir"`
	SessionID string `json:"session_id,omitempty"`
	Ticks     int    `json:"ticks"`
	Opcodes   int    `json:"opcodes"`
	Resets    int    `json:"resets"`
	Sounds    int    `json:"sounds"`
	Lines     int    `json:"lines"`
	// RecordedLines counts chat events the session captured; it trails Lines
	// when the session ended with ticks still queued.
	RecordedLines int `json:"recorded_lines"`
	// SeqGaps counts places where the tick sequence skips numbers.
	SeqGaps int `json:"seq_gaps"`
	// StateCompared is false when some prediction classes are disabled.
	StateCompared bool   `json:"state_compared"`
	FailedSeq     uint64 `json:"failed_seq,omitempty"`
	Error         string `json:"error,omitempty"`
	Divergence    string `json:"divergence,omitempty"`
}

// OK reports whether the bundle replayed cleanly.
func (r Result) OK() bool { return r.Error == "" }

type counter struct {
	sounds int
	lines  int
}

func (c *counter) PlaySound(uint16, uint8)  { c.sounds++ }
func (c *counter) AppendLine(uint8, string) { c.lines++ }

func allPredicted(p config.PredictionConfig) bool {
	return p.Position && p.Animation && p.Inventory && p.Stats && p.Effects && p.Visual
}

// CheckBundle replays dir through both interpreters and checks that they
// consume every tick identically and, with full prediction, agree on state.
func CheckBundle(dir string, opts Options) Result {
	result := Result{Dir: dir}
	bundle, err := capture.Load(dir)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.SessionID = bundle.Header.SessionID
	result.RecordedLines = len(bundle.EventsOfType("chat"))

	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	sinks := &counter{}
	auth := protocol.New(protocol.Options{Mode: protocol.Authoritative, MaxOpcodes: opts.MaxOpcodes, Audio: sinks, Chat: sinks, Logger: logger})
	pred := protocol.New(protocol.Options{Mode: protocol.Predictive, Prediction: opts.Prediction, MaxOpcodes: opts.MaxOpcodes, Logger: logger})
	canonical, shadow := world.New(), world.New()
	result.StateCompared = allPredicted(opts.Prediction)

	var last uint64
	err = bundle.Replay(func(tick capture.Tick) error {
		if last != 0 && tick.Seq != last+1 {
			result.SeqGaps++
		}
		last = tick.Seq

		//1.- Both modes share one walk, so their byte accounting must agree.
		measured, err := protocol.Measure(tick.Data, opts.MaxOpcodes)
		if err != nil {
			return fmt.Errorf("measure: %w", err)
		}
		predicted, err := pred.Apply(shadow, tick.Data)
		if err != nil {
			return fmt.Errorf("predictive: %w", err)
		}
		applied, err := auth.Apply(canonical, tick.Data)
		if err != nil {
			return fmt.Errorf("authoritative: %w", err)
		}
		if measured != len(tick.Data) || predicted.Consumed != applied.Consumed || applied.Consumed != len(tick.Data) {
			return fmt.Errorf("byte accounting differs: tick %d bytes, measured %d, predictive %d, authoritative %d",
				len(tick.Data), measured, predicted.Consumed, applied.Consumed)
		}
		result.Ticks++
		result.Opcodes += applied.Opcodes

		//2.- Nothing is queued during replay, so a reset re-syncs to canonical alone.
		if applied.Signals.Has(protocol.SignalWorldReset) {
			result.Resets++
			shadow.CopyFrom(canonical)
		}
		if result.StateCompared && !canonical.Equal(shadow) {
			result.Divergence = spew.Sdump(canonical, shadow)
			return fmt.Errorf("shadow diverged from canonical")
		}
		return nil
	})
	result.Sounds, result.Lines = sinks.sounds, sinks.lines
	if err != nil {
		result.FailedSeq = last
		result.Error = err.Error()
	}
	return result
}

// CheckAll verifies every dir with at most opts.Parallel bundles in flight.
// Results keep the order of dirs.
func CheckAll(ctx context.Context, dirs []string, opts Options) []Result {
	parallel := opts.Parallel
	if parallel <= 0 {
		parallel = 4
	}
	results := make([]Result, len(dirs))
	swg := sizedwaitgroup.New(parallel)
	for i, dir := range dirs {
		if err := swg.AddWithContext(ctx); err != nil {
			results[i] = Result{Dir: dir, Error: err.Error()}
			continue
		}
		go func(i int, dir string) {
			defer swg.Done()
			results[i] = CheckBundle(dir, opts)
		}(i, dir)
	}
	swg.Wait()
	return results
}

// Discover lists bundle directories under root, oldest name first.
func Discover(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, "manifest.json")); err == nil {
			dirs = append(dirs, dir)
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

package protocol

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"driftpursuit/worldclient/internal/config"
	"driftpursuit/worldclient/internal/logging"
	"driftpursuit/worldclient/internal/world"
)

var (
	// ErrDesync reports a tick the client cannot walk to its exact end.
	ErrDesync = errors.New("protocol: desync")
	// ErrUnknownOpcode reports an opcode missing from the table. It wraps ErrDesync.
	ErrUnknownOpcode = fmt.Errorf("%w: unknown opcode", ErrDesync)
)

// DefaultMaxOpcodes bounds opcodes per tick when no limit is configured.
const DefaultMaxOpcodes = config.DefaultMaxOpcodesPerTick

// Mode selects which half of the opcode table runs.
type Mode uint8

const (
	// Authoritative mutates canonical state and fires side effects.
	Authoritative Mode = iota
	// Predictive mutates the shadow state for enabled classes only.
	Predictive
)

func (m Mode) String() string {
	if m == Predictive {
		return "predictive"
	}
	return "authoritative"
}

// Signal flags session-level events raised while applying a tick.
type Signal uint8

const (
	SignalLoginComplete Signal = 1 << iota
	SignalKicked
	SignalWorldReset
	// SignalAreaChange is raised by the authoritative path only; Result.Area
	// carries the new area id.
	SignalAreaChange
)

// Has reports whether every bit of flag is set.
func (s Signal) Has(flag Signal) bool { return s&flag == flag }

// AudioSink receives sound cues from authoritative ticks.
type AudioSink interface {
	PlaySound(sound uint16, volume uint8)
}

// ChatSink receives chat and system lines from authoritative ticks.
type ChatSink interface {
	AppendLine(channel uint8, text string)
}

// Result summarises one applied tick.
type Result struct {
	Consumed   int
	Opcodes    int
	Signals    Signal
	KickReason string
	Area       uint16
}

// Options configures an Interpreter.
type Options struct {
	Mode       Mode
	Prediction config.PredictionConfig
	MaxOpcodes int
	Audio      AudioSink
	Chat       ChatSink
	Logger     *logging.Logger
}

// Interpreter applies ticks to a world state using the shared opcode table.
type Interpreter struct {
	mode     Mode
	predict  config.PredictionConfig
	maxOps   int
	audio    AudioSink
	chat     ChatSink
	log      *logging.Logger
	warn     *rate.Limiter
	dropped  int
	prefetch uint64
}

// New constructs an interpreter.
func New(opts Options) *Interpreter {
	maxOps := opts.MaxOpcodes
	if maxOps <= 0 {
		maxOps = DefaultMaxOpcodes
	}
	log := opts.Logger
	if log == nil {
		log = logging.L()
	}
	return &Interpreter{
		mode:    opts.Mode,
		predict: opts.Prediction,
		maxOps:  maxOps,
		audio:   opts.Audio,
		chat:    opts.Chat,
		log:     log.With(logging.String("interpreter", opts.Mode.String())),
		warn:    rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// Mode returns the interpreter's mode.
func (ix *Interpreter) Mode() Mode { return ix.mode }

// PrefetchTick returns how many ticks the predictive path has applied since
// the last reset.
func (ix *Interpreter) PrefetchTick() uint64 { return ix.prefetch }

// ResetPrefetch clears the prefetch counter on teardown.
func (ix *Interpreter) ResetPrefetch() { ix.prefetch = 0 }

// Apply walks tick opcode by opcode until no bytes remain. Any failure is a
// desync; the state may have been partially mutated.
func (ix *Interpreter) Apply(state *world.State, tick []byte) (Result, error) {
	if ix.mode == Predictive {
		ix.prefetch++
	}
	return ix.apply(state, tick)
}

// Reapply applies a tick that was already counted, used when the shadow is
// rebuilt from canonical and the queued ticks are replayed.
func (ix *Interpreter) Reapply(state *world.State, tick []byte) (Result, error) {
	return ix.apply(state, tick)
}

func (ix *Interpreter) apply(state *world.State, tick []byte) (Result, error) {
	var res Result
	err := walk(tick, ix.maxOps, func(code byte, e *entry, body []byte) error {
		x := &op{ix: ix, state: state, code: code, body: body, res: &res}
		if e.mutate != nil && ix.enabled(e.class) {
			if err := e.mutate(x); err != nil {
				return err
			}
		}
		if ix.mode == Authoritative && e.effects != nil {
			if err := e.effects(x); err != nil {
				return err
			}
		}
		res.Opcodes++
		res.Consumed += 1 + len(body)
		return nil
	})
	return res, err
}

// Measure walks tick with the table's size functions only and returns the
// number of opcodes it holds. Apply in either mode consumes exactly the same
// bytes.
func Measure(tick []byte, maxOps int) (int, error) {
	if maxOps <= 0 {
		maxOps = DefaultMaxOpcodes
	}
	count := 0
	err := walk(tick, maxOps, func(byte, *entry, []byte) error {
		count++
		return nil
	})
	return count, err
}

func walk(tick []byte, maxOps int, visit func(code byte, e *entry, body []byte) error) error {
	off := 0
	for ops := 0; off < len(tick); ops++ {
		if ops >= maxOps {
			return fmt.Errorf("%w: more than %d opcodes in tick", ErrDesync, maxOps)
		}
		code := tick[off]
		e := table[code]
		if e == nil {
			return fmt.Errorf("%w 0x%02x at offset %d", ErrUnknownOpcode, code, off)
		}
		//1.- Size the opcode before touching state so a truncated tail never mutates.
		n, err := e.size(tick[off:])
		if err != nil {
			return fmt.Errorf("%s at offset %d: %w", e.name, off, asDesync(err))
		}
		if n < 1 || off+n > len(tick) {
			return fmt.Errorf("%w: %s at offset %d needs %d bytes, %d remain", ErrDesync, e.name, off, n, len(tick)-off)
		}
		if err := visit(code, e, tick[off+1:off+n]); err != nil {
			return fmt.Errorf("%s at offset %d: %w", e.name, off, asDesync(err))
		}
		off += n
	}
	return nil
}

func asDesync(err error) error {
	if errors.Is(err, ErrDesync) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrDesync, err)
}

func (ix *Interpreter) enabled(class Class) bool {
	if ix.mode == Authoritative {
		return true
	}
	switch class {
	case ClassStructural, ClassMap:
		return true
	case ClassStats:
		return ix.predict.Stats
	case ClassInventory:
		return ix.predict.Inventory
	case ClassPosition:
		return ix.predict.Position
	case ClassAnimation:
		return ix.predict.Animation
	case ClassEffects:
		return ix.predict.Effects
	case ClassVisual:
		return ix.predict.Visual
	default:
		return false
	}
}

func (ix *Interpreter) warnUnknownEffect(slot uint8, kind world.EffectType) {
	if !ix.warn.Allow() {
		ix.dropped++
		return
	}
	ix.log.Warn("unknown effect type", logging.Int("slot", int(slot)), logging.Int("type", int(kind)), logging.Int("suppressed", ix.dropped))
	ix.dropped = 0
}

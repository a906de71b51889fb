package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sasha-s/go-deadlock"

	"driftpursuit/worldclient/internal/codec"
	"driftpursuit/worldclient/internal/logging"
	"driftpursuit/worldclient/internal/outbound"
	"driftpursuit/worldclient/internal/protocol"
	"driftpursuit/worldclient/internal/tickqueue"
	"driftpursuit/worldclient/internal/transport"
	"driftpursuit/worldclient/internal/wire"
	"driftpursuit/worldclient/internal/world"
)

type dialOutcome struct {
	conn transport.Conn
	err  error
}

// Session owns one server connection and the two world states fed from it.
// Every method except Stats must be called from the goroutine driving Step.
type Session struct {
	opts Options
	log  *logging.Logger
	id   string

	state     State
	retryable bool
	lastErr   error
	kick      string
	params    Params
	attempts  int
	retryAt   time.Time

	cancelDial context.CancelFunc
	dialed     chan dialOutcome
	conn       transport.Conn

	acc      *wire.Accumulator
	inflater *codec.Inflater
	queue    *tickqueue.Queue
	out      *outbound.Buffer
	budget   *outbound.Budget

	auth       *protocol.Interpreter
	pred       *protocol.Interpreter
	canonical  *world.State
	shadow     *world.State
	shadowBase uint64
	seq        uint64
	dirty      bool

	counters Counters

	statsMu   deadlock.RWMutex
	published Stats
}

// New constructs an idle session.
func New(opts Options) *Session {
	opts.normalise()
	id := uuid.NewString()
	log := opts.Logger.With(logging.String(logging.SessionIDField, id))
	s := &Session{
		opts:      opts,
		log:       log,
		id:        id,
		acc:       wire.NewAccumulator(opts.InputBufferBytes),
		inflater:  codec.NewInflater(opts.MaxTickBytes),
		queue:     tickqueue.New(opts.TickQueueCapacity),
		out:       outbound.NewBuffer(opts.SendBufferBytes),
		budget:    outbound.NewBudget(opts.SendRate, opts.Clock),
		canonical: world.New(),
		shadow:    world.New(),
	}
	audio, chat := s.sinks()
	s.auth = protocol.New(protocol.Options{
		Mode:       protocol.Authoritative,
		MaxOpcodes: opts.MaxOpcodes,
		Audio:      audio,
		Chat:       chat,
		Logger:     log,
	})
	s.pred = protocol.New(protocol.Options{
		Mode:       protocol.Predictive,
		Prediction: opts.Prediction,
		MaxOpcodes: opts.MaxOpcodes,
		Logger:     log,
	})
	s.publishStats()
	return s
}

// ID returns the session identifier used in logs and captures.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// Status returns the latest status.
func (s *Session) Status() Status {
	return Status{
		State:      s.state,
		Retryable:  s.retryable,
		Err:        s.lastErr,
		KickReason: s.kick,
		Attempt:    s.attempts,
		RetryAt:    s.retryAt,
		At:         s.opts.Clock(),
	}
}

// Canonical returns the live canonical state. Callers on other goroutines
// must use the snapshot store instead.
func (s *Session) Canonical() *world.State { return s.canonical }

// Shadow returns the live shadow state.
func (s *Session) Shadow() *world.State { return s.shadow }

// Connect starts an asynchronous dial. A missing address fails immediately
// and is not retried.
func (s *Session) Connect(params Params) {
	if s.state != Disconnected && s.state != Failed {
		s.teardown(Disconnected, nil, false)
	}
	s.params = params
	s.attempts = 0
	s.kick = ""
	if strings.TrimSpace(params.Address) == "" {
		s.teardown(Failed, ErrNoAddress, false)
		return
	}
	s.dial()
}

// Disconnect closes the connection gracefully.
func (s *Session) Disconnect() {
	if s.state == Disconnected {
		return
	}
	s.teardown(Disconnected, nil, false)
}

// Reconnect moves the session to another server: the connection is torn
// down, both worlds are cleared and a new dial starts. An area change routed
// to another address takes the same path.
func (s *Session) Reconnect(address string) {
	s.log.Info("reconnecting", logging.String("from", s.params.Address), logging.String("to", address))
	s.record("handoff", map[string]any{"from": s.params.Address, "to": address})
	s.teardown(Disconnected, nil, false)
	s.resetWorlds()
	params := s.params
	params.Address = address
	s.Connect(params)
}

// Send queues a command for the next flush.
func (s *Session) Send(cmd outbound.Command) error {
	if s.state != Syncing && s.state != Active {
		return ErrNotConnected
	}
	return s.out.Enqueue(cmd)
}

// Step advances the state machine and, while connected, moves bytes through
// the pipeline. It returns the fatal or transport error that ended the
// connection during this step, if any.
func (s *Session) Step(now time.Time) error {
	before := s.lastErr
	switch s.state {
	case Connecting:
		s.pollDial(now)
	case Failed:
		if s.retryable && !s.retryAt.IsZero() && !now.Before(s.retryAt) {
			s.dial()
		}
	}
	if s.state == Handshaking {
		s.handshake()
	}
	if s.state == Syncing || s.state == Active {
		s.pump()
	}
	s.publish()
	if s.lastErr != nil && s.lastErr != before {
		return s.lastErr
	}
	return nil
}

func (s *Session) dial() {
	s.attempts++
	s.retryAt = time.Time{}
	s.lastErr = nil
	s.setState(Connecting, false, nil)

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ConnectTimeout)
	dialed := make(chan dialOutcome, 1)
	s.cancelDial, s.dialed = cancel, dialed
	dialer, address := s.opts.Dialer, s.params.Address
	go func() {
		conn, err := dialer.Dial(ctx, address)
		dialed <- dialOutcome{conn: conn, err: err}
	}()
}

func (s *Session) pollDial(now time.Time) {
	select {
	case outcome := <-s.dialed:
		s.cancelDial()
		s.cancelDial, s.dialed = nil, nil
		if outcome.err != nil {
			s.teardown(Failed, fmt.Errorf("dial %s: %w", s.params.Address, outcome.err), true)
			return
		}
		s.conn = outcome.conn
		s.counters.Connects++
		s.log.Info("connected", logging.String("remote", s.conn.RemoteAddr()), logging.Int("attempt", s.attempts))
		s.setState(Handshaking, false, nil)
	default:
	}
}

func (s *Session) handshake() {
	token := s.params.Token
	if token == "" && s.opts.Tokens != nil {
		minted, err := s.opts.Tokens.Sign(s.params.Identity, s.id, s.params.Address)
		if err != nil {
			s.teardown(Failed, fmt.Errorf("mint handshake token: %w", err), false)
			return
		}
		token = minted
	}
	hello := outbound.Hello{
		Version:  s.params.Version,
		Identity: s.params.Identity,
		Token:    token,
		Metadata: s.params.Metadata,
	}
	if err := s.out.Enqueue(hello); err != nil {
		s.teardown(Failed, fmt.Errorf("queue hello: %w", err), false)
		return
	}
	s.setState(Syncing, false, nil)
}

// teardown releases every per-connection resource and reports the new state.
func (s *Session) teardown(next State, cause error, retryable bool) {
	//1.- Abandon an in-flight dial; a late connection is closed by a drainer.
	if s.cancelDial != nil {
		s.cancelDial()
		dialed := s.dialed
		go func() {
			if outcome := <-dialed; outcome.conn != nil {
				_ = outcome.conn.Close()
			}
		}()
		s.cancelDial, s.dialed = nil, nil
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.log.Debug("close transport", logging.Error(err))
		}
		s.conn = nil
	}

	//2.- Reset the pipeline so the next connection starts a fresh stream.
	s.inflater.Reset()
	s.acc.Reset()
	s.queue.Clear()
	s.out.Reset()
	s.pred.ResetPrefetch()

	//3.- Queued ticks were predicted but will never be applied, so the shadow
	// falls back to the canonical state.
	s.shadow.CopyFrom(s.canonical)
	s.shadowBase = s.canonical.Generation
	s.dirty = true

	//4.- Apply the retry policy.
	s.retryAt = time.Time{}
	if next == Failed && retryable {
		if s.opts.MaxRetries > 0 && s.attempts >= s.opts.MaxRetries {
			retryable = false
			cause = fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, s.attempts, cause)
		} else {
			s.retryAt = s.opts.Clock().Add(s.opts.RetryBackoff)
		}
	}
	if next == Failed {
		s.counters.Failures++
	}
	s.lastErr = cause
	s.setState(next, retryable, cause)

	//5.- Renderers stop seeing worlds once the session will not come back on its own.
	if next == Disconnected || !retryable {
		if s.opts.Snapshots != nil {
			s.opts.Snapshots.Clear()
		}
		s.dirty = false
	}
}

func (s *Session) setState(next State, retryable bool, cause error) {
	prev := s.state
	s.state = next
	s.retryable = retryable
	status := s.Status()

	fields := []logging.Field{
		logging.String("from", prev.String()),
		logging.String("to", next.String()),
		logging.Bool("retryable", retryable),
	}
	if cause != nil {
		fields = append(fields, logging.Error(cause))
	}
	if next == Failed {
		s.log.Warn("session state changed", fields...)
	} else {
		s.log.Info("session state changed", fields...)
	}
	s.record("status", statusEvent(status))
	if s.opts.Status != nil {
		s.opts.Status.SessionStatus(status)
	}
}

func (s *Session) resetWorlds() {
	generation := s.canonical.Generation + 1
	_ = s.canonical.Reset(0, 0, 0)
	s.canonical.Generation = generation
	s.shadow.CopyFrom(s.canonical)
	s.shadowBase = generation
	s.dirty = true
}

func (s *Session) record(kind string, payload any) {
	if s.opts.Recorder == nil {
		return
	}
	if err := s.opts.Recorder.RecordEvent(s.seq, kind, payload); err != nil {
		s.log.Warn("capture event failed", logging.String("type", kind), logging.Error(err))
	}
}

func statusEvent(status Status) map[string]any {
	event := map[string]any{
		"state":     status.State.String(),
		"retryable": status.Retryable,
		"attempt":   status.Attempt,
	}
	if status.Err != nil {
		event["error"] = status.Err.Error()
	}
	if status.KickReason != "" {
		event["kick_reason"] = status.KickReason
	}
	return event
}

// IsFatal reports whether err ended a connection without retry.
func IsFatal(err error) bool {
	return errors.Is(err, protocol.ErrDesync) ||
		errors.Is(err, codec.ErrCodec) ||
		errors.Is(err, wire.ErrFrameOverflow) ||
		errors.Is(err, ErrKicked) ||
		errors.Is(err, ErrNoAddress) ||
		errors.Is(err, ErrRetriesExhausted)
}

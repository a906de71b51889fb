package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driftpursuit/worldclient/internal/config"
	"driftpursuit/worldclient/internal/logging"
	"driftpursuit/worldclient/internal/outbound"
	"driftpursuit/worldclient/internal/protocol"
	"driftpursuit/worldclient/internal/snapshot"
	"driftpursuit/worldclient/internal/tickqueue"
	"driftpursuit/worldclient/internal/transport"
	"driftpursuit/worldclient/internal/wire"
)

type fakeConn struct {
	mu       sync.Mutex
	inbound  []byte
	written  []byte
	readErr  error
	writeErr error
	closed   bool
}

func (c *fakeConn) Poll(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, transport.ErrClosed
	}
	n := copy(p, c.inbound)
	c.inbound = c.inbound[n:]
	if len(c.inbound) == 0 && c.readErr != nil {
		return n, c.readErr
	}
	return n, nil
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.written = append(c.written, p...)
	return len(p), nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) RemoteAddr() string { return "fake:1" }

func (c *fakeConn) feed(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inbound = append(c.inbound, p...)
}

func (c *fakeConn) sent() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.written...)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeDialer hands out conns in order; a nil entry fails the dial.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
	addrs []string
}

func (d *fakeDialer) Dial(_ context.Context, addr string) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.addrs = append(d.addrs, addr)
	if len(d.conns) == 0 {
		return nil, errors.New("connection refused")
	}
	conn := d.conns[0]
	d.conns = d.conns[1:]
	if conn == nil {
		return nil, errors.New("connection refused")
	}
	return conn, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type statusLog struct {
	mu     sync.Mutex
	states []State
}

func (l *statusLog) SessionStatus(status Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, status.State)
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func frame(t *testing.T, tick []byte) []byte {
	t.Helper()
	out, err := wire.AppendFrame(nil, tick, false)
	require.NoError(t, err)
	return out
}

func newTestSession(t *testing.T, dialer transport.Dialer, clock *fakeClock, mutate func(*Options)) *Session {
	t.Helper()
	opts := Options{
		Dialer:            dialer,
		Clock:             clock.Now,
		RetryBackoff:      time.Second,
		TickQueueCapacity: 4,
		Prediction:        config.FullPrediction(),
		Snapshots:         snapshot.NewStore(clock.Now),
		Logger:            logging.NewTestLogger(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	return New(opts)
}

// stepUntil drives Step until done reports true. Dials complete on another
// goroutine so a few iterations may be needed.
func stepUntil(t *testing.T, s *Session, clock *fakeClock, done func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !done() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not reached, state %s, err %v", s.State(), s.Status().Err)
		}
		_ = s.Step(clock.Now())
		time.Sleep(time.Millisecond)
	}
}

func loginTick() []byte {
	return protocol.NewBuilder().LoginComplete(7, 8, 8, 1).Bytes()
}

func TestConnectWithoutAddressFailsPermanently(t *testing.T) {
	clock := &fakeClock{now: time.Unix(100, 0)}
	dialer := &fakeDialer{}
	s := newTestSession(t, dialer, clock, nil)

	s.Connect(Params{Address: "  "})

	status := s.Status()
	require.Equal(t, Failed, status.State)
	require.False(t, status.Retryable)
	require.ErrorIs(t, status.Err, ErrNoAddress)
	require.True(t, IsFatal(status.Err))
	require.Zero(t, dialer.count())
}

func TestSendRequiresConnection(t *testing.T) {
	clock := &fakeClock{now: time.Unix(100, 0)}
	s := newTestSession(t, &fakeDialer{}, clock, nil)
	require.ErrorIs(t, s.Send(outbound.KeepAlive{}), ErrNotConnected)
}

func TestLoginCompleteActivatesSession(t *testing.T) {
	clock := &fakeClock{now: time.Unix(100, 0)}
	conn := &fakeConn{}
	conn.feed(frame(t, loginTick()))
	conn.feed(frame(t, protocol.NewBuilder().SetStat(2, 55).Bytes()))
	statuses := &statusLog{}
	s := newTestSession(t, &fakeDialer{conns: []*fakeConn{conn}}, clock, func(o *Options) { o.Status = statuses })

	s.Connect(Params{Address: "game:1", Identity: "pilot", Token: "tok", Version: 3})
	stepUntil(t, s, clock, func() bool { return s.State() == Active })

	//1.- The hello is the first thing on the wire.
	cmd, n, err := outbound.Decode(conn.sent())
	require.NoError(t, err)
	require.Equal(t, outbound.Hello{Version: 3, Identity: "pilot", Token: "tok"}, cmd)
	require.Equal(t, len(conn.sent()), n)

	require.EqualValues(t, 7, s.Canonical().Player.ID)
	require.Equal(t, 8, s.Canonical().Width)

	//2.- One authoritative tick per step; the stat arrives on the next one.
	stepUntil(t, s, clock, func() bool { return s.Canonical().Stats[2] == 55 })
	require.EqualValues(t, 55, s.Shadow().Stats[2])

	statuses.mu.Lock()
	require.Equal(t, []State{Connecting, Handshaking, Syncing, Active}, statuses.states)
	statuses.mu.Unlock()

	view, err := s.opts.Snapshots.Canonical()
	require.NoError(t, err)
	require.EqualValues(t, 55, view.State.Stats[2])

	stats := s.Stats()
	require.Equal(t, Active, stats.State)
	require.EqualValues(t, 2, stats.Counters.TicksApplied)
	require.EqualValues(t, 1, stats.Counters.Connects)
	require.Zero(t, stats.Attempt)
}

func TestStrayByteFailsWithoutRetry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(100, 0)}
	conn := &fakeConn{}
	conn.feed(frame(t, loginTick()))
	conn.feed(frame(t, protocol.NewBuilder().SetStat(0, 1).Raw(protocol.OpSetStat).Bytes()))
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	s := newTestSession(t, dialer, clock, nil)

	s.Connect(Params{Address: "game:1"})
	stepUntil(t, s, clock, func() bool { return s.State() == Failed })

	status := s.Status()
	require.False(t, status.Retryable)
	require.ErrorIs(t, status.Err, protocol.ErrDesync)
	require.True(t, conn.isClosed())
	require.EqualValues(t, 1, s.Stats().Counters.Desyncs)

	//1.- A permanent failure never redials.
	clock.now = clock.now.Add(time.Hour)
	require.NoError(t, s.Step(clock.Now()))
	require.Equal(t, 1, dialer.count())
}

func TestQueueFullLeavesFramePending(t *testing.T) {
	clock := &fakeClock{now: time.Unix(100, 0)}
	s := newTestSession(t, &fakeDialer{}, clock, func(o *Options) { o.TickQueueCapacity = 2 })

	for i := 0; i < 3; i++ {
		s.acc.Write(frame(t, protocol.NewBuilder().Nop().Bytes()))
	}
	found, err := s.acc.Scan()
	require.NoError(t, err)
	require.Equal(t, 3, found)

	require.NoError(t, s.ingest())
	require.Equal(t, 2, s.queue.Len())
	require.True(t, s.queue.Full())
	require.Equal(t, 1, s.acc.Pending())
	require.Equal(t, 2, s.acc.Used())

	//1.- Another pass with the queue still full must not touch the frame.
	require.NoError(t, s.ingest())
	require.Equal(t, 2, s.queue.Len())
	require.Equal(t, 1, s.acc.Pending())
	require.EqualValues(t, 2, s.pred.PrefetchTick())
}

func TestRetryAfterBackoffUntilExhausted(t *testing.T) {
	clock := &fakeClock{now: time.Unix(100, 0)}
	dialer := &fakeDialer{conns: []*fakeConn{nil, nil}}
	s := newTestSession(t, dialer, clock, func(o *Options) { o.MaxRetries = 2 })

	s.Connect(Params{Address: "game:1"})
	stepUntil(t, s, clock, func() bool { return s.State() == Failed })

	status := s.Status()
	require.True(t, status.Retryable)
	require.Equal(t, clock.now.Add(time.Second), status.RetryAt)
	require.False(t, IsFatal(status.Err))

	//1.- Nothing happens before the backoff elapses.
	clock.now = clock.now.Add(500 * time.Millisecond)
	_ = s.Step(clock.Now())
	require.Equal(t, Failed, s.State())
	require.Equal(t, 1, dialer.count())

	clock.now = clock.now.Add(500 * time.Millisecond)
	stepUntil(t, s, clock, func() bool { return dialer.count() == 2 && s.State() == Failed })

	status = s.Status()
	require.False(t, status.Retryable)
	require.ErrorIs(t, status.Err, ErrRetriesExhausted)
	require.Equal(t, 2, status.Attempt)
}

func TestRetryReconnectsAfterReadFailure(t *testing.T) {
	clock := &fakeClock{now: time.Unix(100, 0)}
	first := &fakeConn{readErr: errors.New("reset by peer")}
	first.feed(frame(t, loginTick()))
	second := &fakeConn{}
	second.feed(frame(t, loginTick()))
	dialer := &fakeDialer{conns: []*fakeConn{first, second}}
	s := newTestSession(t, dialer, clock, nil)

	s.Connect(Params{Address: "game:1"})
	stepUntil(t, s, clock, func() bool { return s.State() == Failed })

	//1.- The login that arrived with the failure was still applied.
	require.EqualValues(t, 7, s.Canonical().Player.ID)
	require.True(t, s.Status().Retryable)
	require.True(t, first.isClosed())

	clock.now = clock.now.Add(time.Second)
	stepUntil(t, s, clock, func() bool { return s.State() == Active })
	require.Equal(t, 2, dialer.count())
	require.Zero(t, s.Status().Attempt)
}

func TestKickedIsNotRetried(t *testing.T) {
	clock := &fakeClock{now: time.Unix(100, 0)}
	conn := &fakeConn{}
	conn.feed(frame(t, loginTick()))
	conn.feed(frame(t, protocol.NewBuilder().Kicked("idle too long").Bytes()))
	s := newTestSession(t, &fakeDialer{conns: []*fakeConn{conn}}, clock, nil)

	s.Connect(Params{Address: "game:1"})
	stepUntil(t, s, clock, func() bool { return s.State() == Failed })

	status := s.Status()
	require.False(t, status.Retryable)
	require.ErrorIs(t, status.Err, ErrKicked)
	require.Equal(t, "idle too long", status.KickReason)
	require.Zero(t, s.queue.Len())
}

func TestResyncIsIdempotent(t *testing.T) {
	clock := &fakeClock{now: time.Unix(100, 0)}
	s := newTestSession(t, &fakeDialer{}, clock, nil)

	_, err := s.auth.Apply(s.canonical, loginTick())
	require.NoError(t, err)
	for _, tick := range [][]byte{
		protocol.NewBuilder().SetStat(1, 10).Bytes(),
		protocol.NewBuilder().PlayerPosition(3, 4, 1).Bytes(),
	} {
		require.True(t, s.queue.Push(tickqueue.Tick{Seq: uint64(s.queue.Len() + 1), Data: tick}))
	}

	require.NoError(t, s.resync())
	first := s.shadow.Clone()
	require.NoError(t, s.resync())

	assert.True(t, first.Equal(s.shadow))
	assert.EqualValues(t, 10, s.shadow.Stats[1])
	assert.Zero(t, s.canonical.Stats[1])
	assert.Equal(t, s.canonical.Generation, s.shadowBase)
	assert.EqualValues(t, 2, s.counters.Resyncs)
}

func TestDisconnectClosesTransportAndClearsPipeline(t *testing.T) {
	clock := &fakeClock{now: time.Unix(100, 0)}
	conn := &fakeConn{}
	conn.feed(frame(t, loginTick()))
	s := newTestSession(t, &fakeDialer{conns: []*fakeConn{conn}}, clock, nil)

	s.Connect(Params{Address: "game:1"})
	stepUntil(t, s, clock, func() bool { return s.State() == Active })
	require.NoError(t, s.Send(outbound.Move{DX: 1}))

	s.Disconnect()
	require.Equal(t, Disconnected, s.State())
	require.True(t, conn.isClosed())
	require.Zero(t, s.out.Len())
	require.Zero(t, s.acc.Used())
	require.Nil(t, s.Status().Err)
}

func TestReconnectClearsWorldsAndDialsNewAddress(t *testing.T) {
	clock := &fakeClock{now: time.Unix(100, 0)}
	first := &fakeConn{}
	first.feed(frame(t, loginTick()))
	second := &fakeConn{}
	dialer := &fakeDialer{conns: []*fakeConn{first, second}}
	s := newTestSession(t, dialer, clock, nil)

	s.Connect(Params{Address: "game:1", Identity: "pilot"})
	stepUntil(t, s, clock, func() bool { return s.State() == Active })
	generation := s.Canonical().Generation

	s.Reconnect("game:2")
	require.Zero(t, s.Canonical().Width)
	require.Zero(t, s.Canonical().Player.ID)
	require.Greater(t, s.Canonical().Generation, generation)
	require.True(t, s.Canonical().Equal(s.Shadow()))

	stepUntil(t, s, clock, func() bool { return s.State() == Syncing })
	dialer.mu.Lock()
	require.Equal(t, []string{"game:1", "game:2"}, dialer.addrs)
	dialer.mu.Unlock()

	cmd, _, err := outbound.Decode(second.sent())
	require.NoError(t, err)
	require.Equal(t, "pilot", cmd.(outbound.Hello).Identity)
}

type tokenFunc func(subject, session, audience string) (string, error)

func (f tokenFunc) Sign(subject, session, audience string) (string, error) {
	return f(subject, session, audience)
}

func TestHandshakeMintsTokenWhenNoneConfigured(t *testing.T) {
	clock := &fakeClock{now: time.Unix(100, 0)}
	conn := &fakeConn{}
	var gotSession string
	tokens := tokenFunc(func(subject, session, audience string) (string, error) {
		gotSession = session
		return subject + "@" + audience, nil
	})
	s := newTestSession(t, &fakeDialer{conns: []*fakeConn{conn}}, clock, func(o *Options) { o.Tokens = tokens })

	s.Connect(Params{Address: "game:1", Identity: "pilot"})
	stepUntil(t, s, clock, func() bool { return s.State() == Syncing && len(conn.sent()) > 0 })

	cmd, _, err := outbound.Decode(conn.sent())
	require.NoError(t, err)
	require.Equal(t, "pilot@game:1", cmd.(outbound.Hello).Token)
	require.Equal(t, s.ID(), gotSession)
}

type eventLog struct {
	mu     sync.Mutex
	ticks  []uint64
	events []string
}

func (r *eventLog) RecordTick(seq uint64, _ []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks = append(r.ticks, seq)
	return nil
}

func (r *eventLog) RecordEvent(_ uint64, kind string, _ any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, kind)
	return nil
}

func TestRecorderSeesTicksAndSideEffects(t *testing.T) {
	clock := &fakeClock{now: time.Unix(100, 0)}
	conn := &fakeConn{}
	conn.feed(frame(t, loginTick()))
	conn.feed(frame(t, protocol.NewBuilder().ChatLine(1, "hi").PlaySound(4, 9).Bytes()))
	recorder := &eventLog{}
	s := newTestSession(t, &fakeDialer{conns: []*fakeConn{conn}}, clock, func(o *Options) { o.Recorder = recorder })

	s.Connect(Params{Address: "game:1"})
	stepUntil(t, s, clock, func() bool { return s.Stats().Counters.TicksApplied == 2 })

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	require.Equal(t, []uint64{1, 2}, recorder.ticks)
	require.Contains(t, recorder.events, "chat")
	require.Contains(t, recorder.events, "sound")
	require.Contains(t, recorder.events, "status")
}

func TestDisconnectDropsPredictionsForQueuedTicks(t *testing.T) {
	clock := &fakeClock{now: time.Unix(100, 0)}
	conn := &fakeConn{}
	conn.feed(frame(t, loginTick()))
	conn.feed(frame(t, protocol.NewBuilder().SetStat(1, 10).Bytes()))
	conn.feed(frame(t, protocol.NewBuilder().PlayerPosition(3, 4, 1).Bytes()))
	s := newTestSession(t, &fakeDialer{conns: []*fakeConn{conn}}, clock, nil)

	s.Connect(Params{Address: "game:1"})
	stepUntil(t, s, clock, func() bool { return s.State() == Active })
	require.Equal(t, 2, s.queue.Len())
	require.EqualValues(t, 10, s.Shadow().Stats[1], "queued ticks run ahead on the shadow")

	s.Disconnect()
	_ = s.Step(clock.Now())

	require.Zero(t, s.queue.Len())
	require.True(t, s.Canonical().Equal(s.Shadow()))
	require.Zero(t, s.Shadow().Stats[1])
	require.Zero(t, s.Shadow().Player.X)
	require.Equal(t, s.Canonical().Generation, s.shadowBase)

	_, err := s.opts.Snapshots.Canonical()
	require.ErrorIs(t, err, snapshot.ErrEmpty)
}

func TestReadFailureDropsPredictionsForQueuedTicks(t *testing.T) {
	clock := &fakeClock{now: time.Unix(100, 0)}
	conn := &fakeConn{readErr: errors.New("reset by peer")}
	conn.feed(frame(t, loginTick()))
	conn.feed(frame(t, protocol.NewBuilder().SetStat(1, 10).Bytes()))
	conn.feed(frame(t, protocol.NewBuilder().PlayerPosition(3, 4, 1).Bytes()))
	s := newTestSession(t, &fakeDialer{conns: []*fakeConn{conn}}, clock, nil)

	s.Connect(Params{Address: "game:1"})
	stepUntil(t, s, clock, func() bool { return s.State() == Failed })
	require.True(t, s.Status().Retryable)

	require.EqualValues(t, 7, s.Canonical().Player.ID)
	require.True(t, s.Canonical().Equal(s.Shadow()))

	//1.- The store keeps the last worlds while a retry is pending, and they agree.
	canonical, shadow, err := s.opts.Snapshots.Pair()
	require.NoError(t, err)
	require.True(t, canonical.State.Equal(shadow.State))
	require.Zero(t, shadow.State.Stats[1])
}

func TestPermanentFailureClearsSnapshots(t *testing.T) {
	clock := &fakeClock{now: time.Unix(100, 0)}
	conn := &fakeConn{}
	conn.feed(frame(t, loginTick()))
	conn.feed(frame(t, protocol.NewBuilder().Kicked("banned").Bytes()))
	s := newTestSession(t, &fakeDialer{conns: []*fakeConn{conn}}, clock, nil)

	s.Connect(Params{Address: "game:1"})
	stepUntil(t, s, clock, func() bool { return s.State() == Failed })

	_, err := s.opts.Snapshots.Canonical()
	require.ErrorIs(t, err, snapshot.ErrEmpty)
}

func TestAreaChangeToRoutedAreaHandsOver(t *testing.T) {
	clock := &fakeClock{now: time.Unix(100, 0)}
	first := &fakeConn{}
	first.feed(frame(t, loginTick()))
	first.feed(frame(t, protocol.NewBuilder().AreaChange(4, 4, 9).Bytes()))
	second := &fakeConn{}
	dialer := &fakeDialer{conns: []*fakeConn{first, second}}
	recorder := &eventLog{}
	routes := RoutesFromConfig(&config.Config{AreaRoutes: map[uint16]string{9: "game:2"}})
	s := newTestSession(t, dialer, clock, func(o *Options) {
		o.AreaRoute = routes
		o.Recorder = recorder
	})

	s.Connect(Params{Address: "game:1", Identity: "pilot"})
	stepUntil(t, s, clock, func() bool { return dialer.count() == 2 && s.State() == Syncing })

	require.True(t, first.isClosed())
	dialer.mu.Lock()
	require.Equal(t, []string{"game:1", "game:2"}, dialer.addrs)
	dialer.mu.Unlock()
	require.Zero(t, s.Canonical().Width, "the new server logs the player in again")
	require.True(t, s.Canonical().Equal(s.Shadow()))

	cmd, _, err := outbound.Decode(second.sent())
	require.NoError(t, err)
	require.Equal(t, "pilot", cmd.(outbound.Hello).Identity)

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	require.Contains(t, recorder.events, "handoff")
}

func TestAreaChangeWithoutRouteKeepsConnection(t *testing.T) {
	clock := &fakeClock{now: time.Unix(100, 0)}
	conn := &fakeConn{}
	conn.feed(frame(t, loginTick()))
	conn.feed(frame(t, protocol.NewBuilder().AreaChange(4, 4, 3).Bytes()))
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	routes := RoutesFromConfig(&config.Config{AreaRoutes: map[uint16]string{9: "game:2"}})
	s := newTestSession(t, dialer, clock, func(o *Options) { o.AreaRoute = routes })

	s.Connect(Params{Address: "game:1"})
	stepUntil(t, s, clock, func() bool { return s.Canonical().Area == 3 })

	require.Equal(t, Active, s.State())
	require.Equal(t, 1, dialer.count())
	require.False(t, conn.isClosed())
	require.EqualValues(t, 7, s.Canonical().Player.ID)
	require.Nil(t, RoutesFromConfig(&config.Config{}))
}

func TestTickSequenceContinuesAcrossReconnects(t *testing.T) {
	clock := &fakeClock{now: time.Unix(100, 0)}
	first := &fakeConn{readErr: errors.New("reset by peer")}
	first.feed(frame(t, loginTick()))
	second := &fakeConn{}
	second.feed(frame(t, loginTick()))
	recorder := &eventLog{}
	s := newTestSession(t, &fakeDialer{conns: []*fakeConn{first, second}}, clock, func(o *Options) { o.Recorder = recorder })

	s.Connect(Params{Address: "game:1"})
	stepUntil(t, s, clock, func() bool { return s.State() == Failed })
	clock.now = clock.now.Add(time.Second)
	stepUntil(t, s, clock, func() bool { return s.State() == Active })

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	require.Equal(t, []uint64{1, 2}, recorder.ticks)
}

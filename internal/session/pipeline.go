package session

import (
	"fmt"

	"driftpursuit/worldclient/internal/logging"
	"driftpursuit/worldclient/internal/protocol"
	"driftpursuit/worldclient/internal/tickqueue"
)

// pump moves bytes through the pipeline once: flush outbound, drain the
// transport, decode into the look-ahead queue and apply one authoritative tick.
func (s *Session) pump() {
	//1.- Outbound first so the hello leaves in the step that queued it.
	if s.out.Len() > 0 {
		if _, err := s.out.Flush(s.conn, s.budget); err != nil {
			s.teardown(Failed, fmt.Errorf("send: %w", err), true)
			return
		}
	}

	//2.- Read until the transport has nothing more or the buffer is full.
	readErr := s.drain()

	//3.- Frames that arrived before a transport failure are still processed.
	if _, err := s.acc.Scan(); err != nil {
		s.desync(err)
		return
	}
	if err := s.ingest(); err != nil {
		s.desync(err)
		return
	}
	if err := s.applyNext(); err != nil {
		s.desync(err)
		return
	}
	if readErr != nil && (s.state == Syncing || s.state == Active) {
		s.teardown(Failed, fmt.Errorf("receive: %w", readErr), true)
	}
}

func (s *Session) drain() error {
	for s.acc.Free() > 0 {
		n, err := s.conn.Poll(s.acc.Space())
		if n > 0 {
			if cerr := s.acc.Commit(n); cerr != nil {
				return cerr
			}
			s.counters.BytesIn += uint64(n)
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
	return nil
}

// ingest decodes complete frames while the look-ahead queue has room. Each
// decoded tick runs through the predictive interpreter before it is queued.
// A full queue leaves frames undecoded in the input buffer.
func (s *Session) ingest() error {
	for !s.queue.Full() {
		frame, ok := s.acc.PeekFrame()
		if !ok {
			return nil
		}
		tick, err := s.inflater.Decode(frame)
		if err != nil {
			return fmt.Errorf("decode tick %d: %w", s.seq+1, err)
		}
		if err := s.acc.Consume(); err != nil {
			return err
		}
		s.seq++
		s.counters.TicksDecoded++
		if _, err := s.pred.Apply(s.shadow, tick); err != nil {
			return fmt.Errorf("predict tick %d: %w", s.seq, err)
		}
		s.queue.Push(tickqueue.Tick{Seq: s.seq, Data: tick})
		s.dirty = true
		if s.opts.Recorder != nil {
			if err := s.opts.Recorder.RecordTick(s.seq, tick); err != nil {
				s.log.Warn("capture tick failed", logging.Uint64("seq", s.seq), logging.Error(err))
			}
		}
	}
	return nil
}

// applyNext commits at most one queued tick to the canonical state.
func (s *Session) applyNext() error {
	tick, ok := s.queue.Pop()
	if !ok {
		return nil
	}
	result, err := s.auth.Apply(s.canonical, tick.Data)
	if err != nil {
		return fmt.Errorf("apply tick %d: %w", tick.Seq, err)
	}
	s.counters.TicksApplied++
	s.dirty = true

	if result.Signals.Has(protocol.SignalWorldReset) {
		if err := s.resync(); err != nil {
			return err
		}
	}
	if result.Signals.Has(protocol.SignalAreaChange) && s.opts.AreaRoute != nil {
		if address, ok := s.opts.AreaRoute(result.Area); ok && address != "" && address != s.params.Address {
			s.Reconnect(address)
			return nil
		}
	}
	if result.Signals.Has(protocol.SignalLoginComplete) && s.state == Syncing {
		s.attempts = 0
		s.setState(Active, false, nil)
	}
	if result.Signals.Has(protocol.SignalKicked) {
		s.kick = result.KickReason
		s.teardown(Failed, fmt.Errorf("%w: %s", ErrKicked, result.KickReason), false)
	}
	return nil
}

// resync rebuilds the shadow from the canonical state and replays every tick
// still waiting in the queue. Running it twice yields the same shadow.
func (s *Session) resync() error {
	s.shadow.CopyFrom(s.canonical)
	s.shadowBase = s.canonical.Generation
	s.counters.Resyncs++
	return s.queue.Each(func(t tickqueue.Tick) error {
		if _, err := s.pred.Reapply(s.shadow, t.Data); err != nil {
			return fmt.Errorf("replay tick %d: %w", t.Seq, err)
		}
		return nil
	})
}

func (s *Session) desync(err error) {
	s.counters.Desyncs++
	var cause error = err
	if !IsFatal(err) {
		cause = fmt.Errorf("%w: %v", protocol.ErrDesync, err)
	}
	s.teardown(Failed, cause, false)
}

// publish pushes the worlds to the snapshot store when they changed and
// refreshes the stats snapshot.
func (s *Session) publish() {
	if s.dirty && s.opts.Snapshots != nil {
		s.opts.Snapshots.Publish(s.canonical, s.shadow, s.shadowBase, s.pred.PrefetchTick())
	}
	s.dirty = false
	s.publishStats()
}

package session

import (
	"time"

	"driftpursuit/worldclient/internal/outbound"
)

// Counters accumulate over the session's lifetime.
type Counters struct {
	Connects     uint64
	Failures     uint64
	Desyncs      uint64
	Resyncs      uint64
	TicksDecoded uint64
	TicksApplied uint64
	BytesIn      uint64
}

// Stats is a point-in-time view of the pipeline, safe to read from any goroutine.
type Stats struct {
	SessionID string
	State     State
	Attempt   int
	Counters  Counters

	QueueDepth    int
	QueueCapacity int
	BufferedBytes int
	PendingFrames int
	PrefetchTick  uint64
	Generation    uint64

	SendQueued  int
	SendFlushed uint64
	SendRefused uint64
	SendBudget  outbound.BudgetUsage

	LastError string
	At        time.Time
}

// Stats returns the snapshot taken at the end of the last Step.
func (s *Session) Stats() Stats {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	return s.published
}

func (s *Session) publishStats() {
	stats := Stats{
		SessionID:     s.id,
		State:         s.state,
		Attempt:       s.attempts,
		Counters:      s.counters,
		QueueDepth:    s.queue.Len(),
		QueueCapacity: s.queue.Cap(),
		BufferedBytes: s.acc.Used(),
		PendingFrames: s.acc.Pending(),
		PrefetchTick:  s.pred.PrefetchTick(),
		Generation:    s.canonical.Generation,
		SendQueued:    s.out.Len(),
		SendFlushed:   s.out.Flushed(),
		SendRefused:   s.out.Refused(),
		SendBudget:    s.budget.Usage(),
		At:            s.opts.Clock(),
	}
	if s.lastErr != nil {
		stats.LastError = s.lastErr.Error()
	}
	s.statsMu.Lock()
	s.published = stats
	s.statsMu.Unlock()
}

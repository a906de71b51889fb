package inspect

import (
	"time"

	"driftpursuit/worldclient/internal/capture"
	"driftpursuit/worldclient/internal/session"
	"driftpursuit/worldclient/internal/simulation"
	"driftpursuit/worldclient/internal/snapshot"
)

// SessionProvider reports connection state, counters and pipeline depth.
func SessionProvider(stats func() session.Stats) Provider {
	return func() map[string]any {
		s := stats()
		return map[string]any{
			"id":             s.SessionID,
			"state":          s.State.String(),
			"attempt":        s.Attempt,
			"last_error":     s.LastError,
			"connects":       s.Counters.Connects,
			"failures":       s.Counters.Failures,
			"desyncs":        s.Counters.Desyncs,
			"resyncs":        s.Counters.Resyncs,
			"ticks_decoded":  s.Counters.TicksDecoded,
			"ticks_applied":  s.Counters.TicksApplied,
			"bytes_in":       s.Counters.BytesIn,
			"queue_depth":    s.QueueDepth,
			"queue_capacity": s.QueueCapacity,
			"buffered_bytes": s.BufferedBytes,
			"pending_frames": s.PendingFrames,
			"prefetch_tick":  s.PrefetchTick,
			"generation":     s.Generation,
			"send_queued":    s.SendQueued,
			"send_flushed":   s.SendFlushed,
			"send_refused":   s.SendRefused,
			"send_throttled": s.SendBudget.ThrottledFlushes,
		}
	}
}

// SnapshotProvider reports the render store's generations.
func SnapshotProvider(store *snapshot.Store) Provider {
	return func() map[string]any {
		s := store.Stats()
		return map[string]any{
			"publishes":            s.Publishes,
			"canonical_generation": s.CanonicalGeneration,
			"shadow_base":          s.ShadowBase,
			"prefetch_tick":        s.PrefetchTick,
			"last_publish":         formatTime(s.LastPublish),
		}
	}
}

// TimingProvider reports simulation step timing.
func TimingProvider(monitor *simulation.TickMonitor) Provider {
	return func() map[string]any {
		s := monitor.Snapshot()
		return map[string]any{
			"steps":       s.Samples,
			"overruns":    s.Overruns,
			"dropped":     s.Dropped,
			"average_ms":  millis(s.Average),
			"max_ms":      millis(s.Max),
			"last_ms":     millis(s.Last),
			"average_fps": s.AverageFPS(),
		}
	}
}

// CaptureProvider reports the active capture bundle.
func CaptureProvider(stats func() capture.Stats) Provider {
	return func() map[string]any {
		s := stats()
		return map[string]any{
			"directory":     s.Directory,
			"ticks":         s.Ticks,
			"tick_bytes":    s.TickBytes,
			"events":        s.Events,
			"buffered_tick": s.BufferedTick,
		}
	}
}

func millis(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

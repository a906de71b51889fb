package snapshot

import (
	"errors"
	"time"

	"github.com/sasha-s/go-deadlock"

	"driftpursuit/worldclient/internal/world"
)

var (
	// ErrEmpty reports that nothing has been published yet.
	ErrEmpty = errors.New("snapshot: nothing published")
	// ErrStale reports a shadow derived from a different canonical generation.
	ErrStale = errors.New("snapshot: shadow derived from another generation")
)

// View is a point-in-time copy of one world state. Renderers must treat
// State as read-only; it is shared between readers.
type View struct {
	State *world.State
	// Generation is the canonical generation the view belongs to.
	Generation   uint64
	Seq          uint64
	PrefetchTick uint64
	PublishedAt  time.Time
}

// Stats summarises the store for inspection.
type Stats struct {
	Publishes           uint64
	CanonicalGeneration uint64
	ShadowBase          uint64
	PrefetchTick        uint64
	LastPublish         time.Time
}

// Store hands the session's latest world states to render threads.
type Store struct {
	mu        deadlock.RWMutex
	canonical View
	shadow    View
	seq       uint64
	now       func() time.Time
}

// NewStore returns an empty store. clock may be nil.
func NewStore(clock func() time.Time) *Store {
	if clock == nil {
		clock = time.Now
	}
	return &Store{now: clock}
}

// Publish copies both states. shadowBase is the canonical generation the
// shadow was last re-synchronised from.
func (s *Store) Publish(canonical, shadow *world.State, shadowBase, prefetch uint64) {
	if canonical == nil || shadow == nil {
		return
	}
	//1.- Copy outside the lock so readers only wait for the pointer swap.
	canonicalCopy := canonical.Clone()
	shadowCopy := shadow.Clone()
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.canonical = View{State: canonicalCopy, Generation: canonical.Generation, Seq: s.seq, PrefetchTick: prefetch, PublishedAt: now}
	s.shadow = View{State: shadowCopy, Generation: shadowBase, Seq: s.seq, PrefetchTick: prefetch, PublishedAt: now}
}

// Canonical returns the latest canonical view.
func (s *Store) Canonical() (View, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.canonical.State == nil {
		return View{}, ErrEmpty
	}
	return s.canonical, nil
}

// Shadow returns the latest shadow view if it was derived from the canonical
// generation base.
func (s *Store) Shadow(base uint64) (View, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.shadow.State == nil {
		return View{}, ErrEmpty
	}
	if s.shadow.Generation != base {
		return View{}, ErrStale
	}
	return s.shadow, nil
}

// Pair returns a canonical view and the shadow derived from it, published together.
func (s *Store) Pair() (View, View, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.canonical.State == nil {
		return View{}, View{}, ErrEmpty
	}
	if s.shadow.Generation != s.canonical.Generation {
		return s.canonical, View{}, ErrStale
	}
	return s.canonical, s.shadow, nil
}

// Stats reports publication counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Publishes:           s.seq,
		CanonicalGeneration: s.canonical.Generation,
		ShadowBase:          s.shadow.Generation,
		PrefetchTick:        s.canonical.PrefetchTick,
		LastPublish:         s.canonical.PublishedAt,
	}
}

// Clear drops both views, used when the session tears down.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canonical = View{}
	s.shadow = View{}
}

// Package state holds the application-wide feed snapshot and runs the
// unidirectional update cycle: transition, invalidate, re-fetch, install, notify.
package state

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"bilimshare/internal/feed"
	"bilimshare/internal/middleware"
	"bilimshare/internal/observability"

	"golang.org/x/sync/singleflight"
)

// Kind names the entity type touched by a transition.
type Kind string

const (
	KindPost    Kind = "post"
	KindComment Kind = "comment"
	KindLike    Kind = "like"
	KindUser    Kind = "user"
)

// EntityKey identifies one entity affected by a mutation.
type EntityKey struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

// Transition describes why the state must be rebuilt.
type Transition struct {
	Reason string      `json:"reason"`
	Keys   []EntityKey `json:"keys,omitempty"`
	// Remote is set for transitions received from another instance.
	Remote bool `json:"-"`
}

// Fetcher loads one consistent set of entity collections.
type Fetcher interface {
	Fetch(ctx context.Context) (*feed.Collections, error)
}

// Invalidator drops cached data derived from the given entities.
type Invalidator interface {
	Invalidate(ctx context.Context, keys []EntityKey) error
}

// Observer is told about every installed snapshot produced by a transition.
type Observer interface {
	Observe(ctx context.Context, t Transition, snap *feed.Snapshot)
}

// ErrNoFetcher is returned when a Store was built without a data source.
var ErrNoFetcher = errors.New("state: no fetcher configured")

// Store keeps the current snapshot. Readers never observe a partially built
// snapshot; a failed cycle keeps the previous one installed.
type Store struct {
	fetcher Fetcher
	now     func() time.Time

	current    atomic.Pointer[feed.Snapshot]
	generation atomic.Uint64
	loads      singleflight.Group

	mu           sync.RWMutex
	invalidators []Invalidator
	observers    []Observer
}

// New creates an empty Store backed by fetcher.
func New(fetcher Fetcher) *Store {
	return &Store{fetcher: fetcher, now: time.Now}
}

// AddInvalidator registers an invalidator run before every dispatched cycle.
func (s *Store) AddInvalidator(inv Invalidator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidators = append(s.invalidators, inv)
}

// AddObserver registers an observer notified after every dispatched cycle.
func (s *Store) AddObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Current returns the installed snapshot or nil before the first load.
func (s *Store) Current() *feed.Snapshot {
	return s.current.Load()
}

// Load returns the installed snapshot, building the first one on demand.
// Concurrent first loads share one fetch cycle.
func (s *Store) Load(ctx context.Context) (*feed.Snapshot, error) {
	if snap := s.current.Load(); snap != nil {
		return snap, nil
	}
	v, err, _ := s.loads.Do("load", func() (interface{}, error) {
		if snap := s.current.Load(); snap != nil {
			return snap, nil
		}
		return s.cycle(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*feed.Snapshot), nil
}

// Dispatch runs the update cycle for t and returns the snapshot installed
// afterwards. Invalidation faults are logged and do not stop the cycle.
func (s *Store) Dispatch(ctx context.Context, t Transition) (*feed.Snapshot, error) {
	s.mu.RLock()
	invalidators := append([]Invalidator(nil), s.invalidators...)
	observers := append([]Observer(nil), s.observers...)
	s.mu.RUnlock()

	if len(t.Keys) > 0 {
		for _, inv := range invalidators {
			if err := inv.Invalidate(ctx, t.Keys); err != nil {
				middleware.Logger.WarnContext(ctx, "Cache invalidation failed",
					"reason", t.Reason, "error", err)
			}
		}
	}

	snap, err := s.cycle(ctx)
	if err != nil {
		middleware.Logger.ErrorContext(ctx, "Feed refresh failed", "reason", t.Reason, "error", err)
		return nil, err
	}

	for _, o := range observers {
		o.Observe(ctx, t, snap)
	}
	return snap, nil
}

// cycle fetches, builds and installs a snapshot. A cycle that finishes after
// a newer one was installed is discarded in favor of the newer snapshot.
func (s *Store) cycle(ctx context.Context) (*feed.Snapshot, error) {
	if s.fetcher == nil {
		return nil, ErrNoFetcher
	}
	gen := s.generation.Add(1)
	start := time.Now()
	defer func() {
		observability.FeedRefreshDuration.Observe(time.Since(start).Seconds())
	}()

	collections, err := s.fetcher.Fetch(ctx)
	if err != nil {
		observability.FeedRefreshTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	next := feed.NewSnapshot(feed.Build(collections), gen, s.now())

	for {
		cur := s.current.Load()
		if cur != nil && cur.Generation > gen {
			observability.FeedRefreshTotal.WithLabelValues("stale").Inc()
			return cur, nil
		}
		if s.current.CompareAndSwap(cur, next) {
			observability.FeedRefreshTotal.WithLabelValues("ok").Inc()
			return next, nil
		}
	}
}

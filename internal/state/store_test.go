package state

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bilimshare/internal/feed"
	"bilimshare/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fetcherStub struct {
	calls   atomic.Int32
	fetchFn func(context.Context) (*feed.Collections, error)
}

func (f *fetcherStub) Fetch(ctx context.Context) (*feed.Collections, error) {
	f.calls.Add(1)
	return f.fetchFn(ctx)
}

type invalidatorStub struct {
	mu   sync.Mutex
	keys [][]EntityKey
	err  error
}

func (i *invalidatorStub) Invalidate(_ context.Context, keys []EntityKey) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.keys = append(i.keys, keys)
	return i.err
}

type observerStub struct {
	seen []Transition
	gens []uint64
}

func (o *observerStub) Observe(_ context.Context, t Transition, snap *feed.Snapshot) {
	o.seen = append(o.seen, t)
	o.gens = append(o.gens, snap.Generation)
}

func postsFetcher(titles ...string) *fetcherStub {
	return &fetcherStub{fetchFn: func(context.Context) (*feed.Collections, error) {
		c := &feed.Collections{}
		for i, title := range titles {
			c.Posts = append(c.Posts, models.Post{ID: string(rune('a' + i)), Title: title})
		}
		return c, nil
	}}
}

func TestStore_LoadBuildsOnce(t *testing.T) {
	f := postsFetcher("Алгебра")
	s := New(f)
	assert.Nil(t, s.Current())

	first, err := s.Load(context.Background())
	require.NoError(t, err)
	second, err := s.Load(context.Background())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), f.calls.Load())
	assert.Len(t, first.View.Posts, 1)
	assert.Equal(t, uint64(1), first.Generation)
}

func TestStore_ConcurrentFirstLoadsAreCoalesced(t *testing.T) {
	release := make(chan struct{})
	f := &fetcherStub{fetchFn: func(context.Context) (*feed.Collections, error) {
		<-release
		return &feed.Collections{}, nil
	}}
	s := New(f)

	var wg sync.WaitGroup
	results := make([]*feed.Snapshot, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap, err := s.Load(context.Background())
			assert.NoError(t, err)
			results[i] = snap
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), f.calls.Load())
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}

func TestStore_DispatchInvalidatesRefetchesAndNotifies(t *testing.T) {
	f := postsFetcher("Бірінші")
	s := New(f)
	inv := &invalidatorStub{}
	obs := &observerStub{}
	s.AddInvalidator(inv)
	s.AddObserver(obs)

	_, err := s.Load(context.Background())
	require.NoError(t, err)

	tr := Transition{Reason: "like_toggled", Keys: []EntityKey{{Kind: KindLike, ID: "a"}}}
	snap, err := s.Dispatch(context.Background(), tr)
	require.NoError(t, err)

	assert.Equal(t, uint64(2), snap.Generation)
	assert.Same(t, snap, s.Current())
	assert.Equal(t, int32(2), f.calls.Load())
	require.Len(t, inv.keys, 1)
	assert.Equal(t, tr.Keys, inv.keys[0])
	require.Len(t, obs.seen, 1)
	assert.Equal(t, "like_toggled", obs.seen[0].Reason)
	assert.Equal(t, []uint64{2}, obs.gens)
}

func TestStore_InvalidationFailureDoesNotStopCycle(t *testing.T) {
	s := New(postsFetcher("x"))
	s.AddInvalidator(&invalidatorStub{err: errors.New("redis down")})

	snap, err := s.Dispatch(context.Background(), Transition{Reason: "post_created", Keys: []EntityKey{{Kind: KindPost, ID: "a"}}})
	require.NoError(t, err)
	assert.NotNil(t, snap)
}

func TestStore_FailedCycleKeepsPreviousSnapshot(t *testing.T) {
	var fail atomic.Bool
	f := &fetcherStub{fetchFn: func(context.Context) (*feed.Collections, error) {
		if fail.Load() {
			return nil, models.NewTimeoutError(context.DeadlineExceeded)
		}
		return &feed.Collections{Posts: []models.Post{{ID: "p1"}}}, nil
	}}
	s := New(f)
	obs := &observerStub{}
	s.AddObserver(obs)

	before, err := s.Load(context.Background())
	require.NoError(t, err)

	fail.Store(true)
	snap, err := s.Dispatch(context.Background(), Transition{Reason: "post_deleted"})
	require.Error(t, err)
	assert.Nil(t, snap)
	assert.Same(t, before, s.Current())
	assert.Empty(t, obs.seen)

	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, models.CodeTimeout, appErr.Code)
}

func TestStore_OlderCycleDoesNotReplaceNewer(t *testing.T) {
	slow := make(chan struct{})
	var n atomic.Int32
	f := &fetcherStub{fetchFn: func(context.Context) (*feed.Collections, error) {
		if n.Add(1) == 1 {
			<-slow
			return &feed.Collections{Posts: []models.Post{{ID: "old"}}}, nil
		}
		return &feed.Collections{Posts: []models.Post{{ID: "new"}}}, nil
	}}
	s := New(f)

	done := make(chan *feed.Snapshot)
	go func() {
		snap, _ := s.Dispatch(context.Background(), Transition{Reason: "first"})
		done <- snap
	}()
	require.Eventually(t, func() bool { return n.Load() == 1 }, time.Second, time.Millisecond)

	newer, err := s.Dispatch(context.Background(), Transition{Reason: "second"})
	require.NoError(t, err)
	close(slow)
	older := <-done

	assert.Same(t, newer, older)
	assert.Equal(t, "new", s.Current().View.Posts[0].ID)
}

func TestStore_NoFetcher(t *testing.T) {
	_, err := New(nil).Load(context.Background())
	assert.ErrorIs(t, err, ErrNoFetcher)
}

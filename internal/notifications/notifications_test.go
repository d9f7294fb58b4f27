package notifications

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"bilimshare/internal/feed"
	"bilimshare/internal/state"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testEventuallyTimeout = time.Second
	testPollInterval      = 10 * time.Millisecond
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

type dispatcherStub struct {
	mu          sync.Mutex
	transitions []state.Transition
}

func (d *dispatcherStub) Dispatch(_ context.Context, t state.Transition) (*feed.Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transitions = append(d.transitions, t)
	return &feed.Snapshot{}, nil
}

func (d *dispatcherStub) snapshot() []state.Transition {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]state.Transition(nil), d.transitions...)
}

func TestNotifier_NilRedisIsNoop(t *testing.T) {
	n := NewNotifier(nil)
	assert.NoError(t, n.Publish(context.Background(), n.NewEvent(state.Transition{Reason: "x"}, 1)))
	assert.NoError(t, n.StartSubscriber(context.Background(), func(Event) { t.Fatal("unexpected event") }))
	assert.NotEmpty(t, n.InstanceID())
}

func TestNotifier_CrossInstanceDelivery(t *testing.T) {
	rdb := newRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local := NewNotifier(rdb)
	remote := NewNotifier(rdb)
	require.NotEqual(t, local.InstanceID(), remote.InstanceID())

	received := make(chan Event, 4)
	require.NoError(t, local.StartSubscriber(ctx, func(ev Event) { received <- ev }))

	// Own events are ignored.
	require.NoError(t, local.Publish(ctx, local.NewEvent(state.Transition{Reason: "own"}, 1)))
	tr := state.Transition{Reason: "like_toggled", Keys: []state.EntityKey{{Kind: state.KindLike, ID: "p1"}}}
	require.NoError(t, remote.Publish(ctx, remote.NewEvent(tr, 7)))

	select {
	case ev := <-received:
		assert.Equal(t, EventFeedInvalidated, ev.Type)
		assert.Equal(t, "like_toggled", ev.Payload.Reason)
		assert.Equal(t, uint64(7), ev.Payload.Generation)
		assert.Equal(t, tr.Keys, ev.Payload.Keys)
		assert.Equal(t, remote.InstanceID(), ev.Payload.Origin)
	case <-time.After(testEventuallyTimeout):
		t.Fatal("event was not delivered")
	}
	assert.Never(t, func() bool { return len(received) > 0 }, 10*testPollInterval, testPollInterval)
}

func TestNotifier_SubscriberStopsOnCancel(t *testing.T) {
	rdb := newRedis(t)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, NewNotifier(rdb).StartSubscriber(ctx, func(Event) {}))
	cancel()

	assert.Eventually(t, func() bool {
		n, err := rdb.PubSubNumSub(context.Background(), FeedChannel).Result()
		return err == nil && n[FeedChannel] == 0
	}, testEventuallyTimeout, testPollInterval)
}

func TestStartWiring_ReplaysRemoteTransitions(t *testing.T) {
	rdb := newRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	disp := &dispatcherStub{}
	require.NoError(t, StartWiring(ctx, NewNotifier(rdb), disp))

	other := NewNotifier(rdb)
	require.NoError(t, other.Publish(ctx, other.NewEvent(state.Transition{Reason: "post_created"}, 3)))

	require.Eventually(t, func() bool { return len(disp.snapshot()) == 1 }, testEventuallyTimeout, testPollInterval)
	got := disp.snapshot()[0]
	assert.Equal(t, "post_created", got.Reason)
	assert.True(t, got.Remote)
}

func TestHub_RegisterLimitsAndUnregister(t *testing.T) {
	hub := NewHub()

	var clients []*Client
	for i := 0; i < maxConnsPerUser; i++ {
		c, err := hub.Register("u1", nil)
		require.NoError(t, err)
		clients = append(clients, c)
	}
	_, err := hub.Register("u1", nil)
	assert.ErrorIs(t, err, ErrUserLimit)

	for i := 0; i < maxConnsPerUser+1; i++ {
		_, err := hub.Register("", nil)
		require.NoError(t, err, "anonymous viewers have no per-user limit")
	}
	assert.Equal(t, 2*maxConnsPerUser+1, hub.Count())

	hub.UnregisterClient(clients[0])
	hub.UnregisterClient(clients[0])
	assert.Equal(t, 2*maxConnsPerUser, hub.Count())
	_, open := <-clients[0].Send
	assert.False(t, open)

	require.NoError(t, hub.Shutdown(context.Background()))
	assert.Zero(t, hub.Count())
	_, err = hub.Register("u2", nil)
	assert.ErrorIs(t, err, ErrHubShutdown)
}

func TestHub_BroadcastAllAndBackpressure(t *testing.T) {
	hub := NewHub()
	a, err := hub.Register("u1", nil)
	require.NoError(t, err)
	b, err := hub.Register("", nil)
	require.NoError(t, err)

	hub.BroadcastAll([]byte("hello"))
	assert.Equal(t, "hello", string(<-a.Send))
	assert.Equal(t, "hello", string(<-b.Send))

	for i := 0; i < sendBuffer+5; i++ {
		hub.BroadcastAll([]byte("x"))
	}
	assert.Len(t, a.Send, sendBuffer)

	hub.UnregisterClient(a)
	assert.NotPanics(t, func() { a.TrySend([]byte("late")) })
	_ = hub.Shutdown(context.Background())
}

func TestFeedObserver(t *testing.T) {
	rdb := newRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	client, err := hub.Register("", nil)
	require.NoError(t, err)

	local := NewNotifier(rdb)
	peer := NewNotifier(rdb)
	published := make(chan Event, 2)
	require.NoError(t, peer.StartSubscriber(ctx, func(ev Event) { published <- ev }))

	obs := NewFeedObserver(hub, local)
	obs.Observe(ctx, state.Transition{Reason: "comment_added"}, &feed.Snapshot{Generation: 4})

	var ev Event
	require.NoError(t, json.Unmarshal(<-client.Send, &ev))
	assert.Equal(t, EventFeedInvalidated, ev.Type)
	assert.Equal(t, uint64(4), ev.Payload.Generation)

	select {
	case got := <-published:
		assert.Equal(t, "comment_added", got.Payload.Reason)
	case <-time.After(testEventuallyTimeout):
		t.Fatal("local transition was not published")
	}

	// Remote transitions reach local clients but are not published again.
	obs.Observe(ctx, state.Transition{Reason: "remote", Remote: true}, &feed.Snapshot{Generation: 5})
	require.NoError(t, json.Unmarshal(<-client.Send, &ev))
	assert.Equal(t, "remote", ev.Payload.Reason)
	assert.Never(t, func() bool { return len(published) > 0 }, 10*testPollInterval, testPollInterval)

	_ = hub.Shutdown(context.Background())
}

package notifications

import (
	"context"
	"encoding/json"

	"bilimshare/internal/feed"
	"bilimshare/internal/middleware"
	"bilimshare/internal/state"
)

// Dispatcher runs the state update cycle.
type Dispatcher interface {
	Dispatch(ctx context.Context, t state.Transition) (*feed.Snapshot, error)
}

// FeedObserver pushes every installed snapshot to local WebSocket clients
// and, for local transitions, to the other instances.
type FeedObserver struct {
	hub      *Hub
	notifier *Notifier
}

// NewFeedObserver creates the observer registered with the state store.
func NewFeedObserver(hub *Hub, notifier *Notifier) *FeedObserver {
	return &FeedObserver{hub: hub, notifier: notifier}
}

// Observe implements state.Observer.
func (o *FeedObserver) Observe(ctx context.Context, t state.Transition, snap *feed.Snapshot) {
	ev := o.notifier.NewEvent(t, snap.Generation)
	if msg, err := json.Marshal(ev); err == nil {
		o.hub.BroadcastAll(msg)
	}
	if t.Remote {
		return
	}
	if err := o.notifier.Publish(ctx, ev); err != nil {
		middleware.Logger.WarnContext(ctx, "Failed to publish feed event", "reason", t.Reason, "error", err)
	}
}

// StartWiring subscribes to events from other instances and replays each one
// as a remote transition, refreshing the local snapshot.
func StartWiring(ctx context.Context, n *Notifier, d Dispatcher) error {
	return n.StartSubscriber(ctx, func(ev Event) {
		t := state.Transition{Reason: ev.Payload.Reason, Keys: ev.Payload.Keys, Remote: true}
		if _, err := d.Dispatch(ctx, t); err != nil {
			middleware.Logger.ErrorContext(ctx, "Refresh after remote feed event failed",
				"reason", t.Reason, "origin", ev.Payload.Origin, "error", err)
		}
	})
}

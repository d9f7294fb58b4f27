// Package notifications fans feed changes out to other instances over Redis
// and to browsers over WebSocket.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"

	"bilimshare/internal/middleware"
	"bilimshare/internal/state"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// FeedChannel is the Redis channel carrying feed events between instances.
const FeedChannel = "feed:events"

// EventFeedInvalidated tells receivers that the feed must be re-read.
const EventFeedInvalidated = "feed_invalidated"

// Event is the message published on FeedChannel and pushed to WebSocket clients.
type Event struct {
	Type    string       `json:"type"`
	Payload EventPayload `json:"payload"`
}

// EventPayload describes the transition behind an event.
type EventPayload struct {
	Reason     string            `json:"reason"`
	Keys       []state.EntityKey `json:"keys,omitempty"`
	Generation uint64            `json:"generation"`
	Origin     string            `json:"origin"`
}

// Notifier publishes feed events into Redis.
type Notifier struct {
	rdb        *redis.Client
	instanceID string
}

// NewNotifier creates a Notifier. A nil client makes every call a no-op.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb, instanceID: uuid.NewString()}
}

// InstanceID identifies this process in published events.
func (n *Notifier) InstanceID() string {
	return n.instanceID
}

// NewEvent builds the event for a transition installed at generation.
func (n *Notifier) NewEvent(t state.Transition, generation uint64) Event {
	return Event{
		Type: EventFeedInvalidated,
		Payload: EventPayload{
			Reason:     t.Reason,
			Keys:       t.Keys,
			Generation: generation,
			Origin:     n.instanceID,
		},
	}
}

// Publish sends ev to every instance subscribed to FeedChannel.
func (n *Notifier) Publish(ctx context.Context, ev Event) error {
	if n.rdb == nil {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return n.rdb.Publish(ctx, FeedChannel, payload).Err()
}

// StartSubscriber subscribes to FeedChannel and calls onEvent for every event
// published by other instances until ctx is done.
func (n *Notifier) StartSubscriber(ctx context.Context, onEvent func(Event)) error {
	if n.rdb == nil {
		return nil
	}
	sub := n.rdb.Subscribe(ctx, FeedChannel)
	// Wait for the subscription to be confirmed so no event is missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", FeedChannel, err)
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					middleware.Logger.Warn("Dropping malformed feed event", "error", err)
					continue
				}
				if ev.Payload.Origin == n.instanceID {
					continue
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							middleware.Logger.Error("Panic in feed event subscriber",
								"panic", r, "stack", string(debug.Stack()))
						}
					}()
					onEvent(ev)
				}()
			}
		}
	}()

	return nil
}

// Package transport wraps the externally provided Redis Pub/Sub
// channel a session rides on. It owns nothing but delivery: encoding
// outbound events, decoding inbound ones, and exposing the decoded
// stream on a channel. Delivery is at-most-once and fire-and-forget; a
// failed send leaves a peer temporarily stale until the next broadcast
// or a reconnect-driven resync, never blocks the caller's UI path.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/corkboard/corkboard/pkg/wire"
)

// Channel is a session-scoped broadcast adapter. It is safe for
// concurrent use from multiple goroutines.
type Channel struct {
	rdb       *redis.Client
	sessionID string
}

// NewChannel creates a broadcast adapter for the given session.
// Returns an error if sessionID is empty.
func NewChannel(redisOpts *redis.Options, sessionID string) (*Channel, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id cannot be empty")
	}
	return &Channel{
		rdb:       redis.NewClient(redisOpts),
		sessionID: sessionID,
	}, nil
}

// Close closes the underlying Redis connection. Implements io.Closer.
func (c *Channel) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (c *Channel) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// SessionID returns the session this channel is scoped to.
func (c *Channel) SessionID() string { return c.sessionID }

// Send encodes and publishes an event to the session channel. Events
// missing the origin-actor stamp are rejected before they reach the
// wire. Publish failures are returned but carry no retry obligation:
// the worst case is a stale peer corrected by a later broadcast.
func (c *Channel) Send(ctx context.Context, ev wire.Event) error {
	payload, err := wire.Encode(ev)
	if err != nil {
		if errors.Is(err, wire.ErrMissingActor) {
			return fmt.Errorf("dropping unstamped %s event: %w", ev.Tag(), err)
		}
		return fmt.Errorf("failed to encode %s event: %w", ev.Tag(), err)
	}

	channel := wire.EventsChannel(c.sessionID)
	if err := c.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", ev.Tag(), err)
	}
	return nil
}

// Subscription is an active subscription to a session's broadcast
// events. Caller must call Close() when done to clean up resources.
type Subscription struct {
	events <-chan wire.Event
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of decoded events. The channel is closed
// when the subscription is closed or the context is cancelled.
func (s *Subscription) Events() <-chan wire.Event {
	return s.events
}

// Errors returns the channel of subscription errors: unknown event
// tags, unmarshal failures, unstamped payloads. The subscription
// continues after errors - offending messages are skipped.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and cleans up resources. Implements
// io.Closer. Safe to call multiple times.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// Subscribe starts consuming the session's broadcast channel.
// Returns a Subscription delivering decoded events; caller must call
// subscription.Close() when done. Context cancellation also stops the
// subscription.
//
// Events are delivered on a buffered channel (size 64) to absorb
// bursts from continuous gestures. Redis Pub/Sub is at-most-once; a
// slow subscriber may miss messages and converge via resync.
func (c *Channel) Subscribe(ctx context.Context) (*Subscription, error) {
	channel := wire.EventsChannel(c.sessionID)
	pubsub := c.rdb.Subscribe(ctx, channel)

	// Wait for the subscription to be live so a send immediately after
	// Subscribe returns cannot be missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to session events: %w", err)
	}

	eventsChan := make(chan wire.Event, 64)
	errorsChan := make(chan error, 16)

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				ev, err := wire.Decode([]byte(msg.Payload))
				if err != nil {
					// Unknown tags and malformed payloads are skipped,
					// never fatal: peers may run skewed versions.
					select {
					case errorsChan <- err:
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- ev:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// Package peer is the client-side engine for one participant in one
// session. It wires the capability gate, the optimistic state store,
// the throttled emission scheduler, and the broadcast channel into a
// single local API: every user action gates, applies locally for
// immediate feedback, broadcasts to other peers, and asynchronously
// persists - in that order, with the persistence result never blocking
// the view.
//
// Continuous gestures (move, resize, typing) are coalesced per
// (entity, field) key; discrete actions (add, delete, vote, react,
// color, lifecycle) broadcast immediately. The trailing value of a
// gesture is guaranteed onto the wire by the scheduler.
package peer

import (
	"context"
	"fmt"
	"time"

	"github.com/corkboard/corkboard/internal/auth"
	"github.com/corkboard/corkboard/internal/persist"
	"github.com/corkboard/corkboard/internal/state"
	"github.com/corkboard/corkboard/internal/throttle"
	"github.com/corkboard/corkboard/internal/transport"
	"github.com/corkboard/corkboard/pkg/board"
	"github.com/corkboard/corkboard/pkg/wire"
)

const (
	outboundBuffer = 256
	sendTimeout    = 5 * time.Second
)

// Config assembles a Peer.
type Config struct {
	ActorID  string
	Username string
	Session  board.Session
	Role     board.Role

	Channel *transport.Channel

	// Store is optional: when nil the peer relies on an external
	// authoritative writer (corkboardd) consuming the broadcast
	// stream, and issues no persistence calls of its own.
	Store persist.Store

	// ThrottleWindow overrides the gesture coalescing window.
	// Zero means throttle.DefaultWindow.
	ThrottleWindow time.Duration
}

// Peer is one participant's connection to a session.
type Peer struct {
	actorID  string
	username string
	role     board.Role

	store   *state.Store
	channel *transport.Channel
	sched   *throttle.Scheduler
	persist persist.Store

	outbound chan wire.Event
	errs     chan error
	done     chan struct{}
}

// New creates a peer and starts its outbound sender. Call Run to begin
// receiving, and Close to disconnect.
func New(cfg Config) (*Peer, error) {
	if cfg.ActorID == "" {
		return nil, fmt.Errorf("actor id cannot be empty")
	}
	if cfg.Channel == nil {
		return nil, fmt.Errorf("broadcast channel is required")
	}
	if err := cfg.Role.Validate(); err != nil {
		return nil, err
	}

	p := &Peer{
		actorID:  cfg.ActorID,
		username: cfg.Username,
		role:     cfg.Role,
		store:    state.NewStore(cfg.ActorID, cfg.Session),
		channel:  cfg.Channel,
		persist:  cfg.Store,
		outbound: make(chan wire.Event, outboundBuffer),
		errs:     make(chan error, 16),
		done:     make(chan struct{}),
	}
	p.sched = throttle.NewScheduler(cfg.ThrottleWindow, p.emitScheduled)

	go p.sendLoop()
	return p, nil
}

// State returns the peer's optimistic state store.
func (p *Peer) State() *state.Store { return p.store }

// ActorID returns the peer's actor id.
func (p *Peer) ActorID() string { return p.actorID }

// Errors returns the channel carrying transport and persistence
// failures. Delivery is best-effort: if nobody is draining the
// channel, errors are dropped rather than blocking mutations.
func (p *Peer) Errors() <-chan error { return p.errs }

// Close flushes pending gesture values and stops the outbound sender.
func (p *Peer) Close() {
	p.sched.Close()
	close(p.done)
}

// Run announces this peer's presence and then consumes the broadcast
// subscription until ctx is cancelled. When another participant's
// user:join is observed, this peer republishes full snapshots of its
// local collections so the newcomer converges without a storage read.
func (p *Peer) Run(ctx context.Context) error {
	sub, err := p.channel.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer sub.Close()

	p.enqueue(&wire.UserJoin{
		Origin:    wire.Origin{ActorID: p.actorID},
		VisitorID: p.actorID,
		Username:  p.username,
	})

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if !p.store.Apply(ev) {
				continue // own echo
			}
			if join, isJoin := ev.(*wire.UserJoin); isJoin {
				p.republishSnapshot(join.VisitorID)
			}

		case err, ok := <-sub.Errors():
			if !ok {
				return nil
			}
			// Unknown or malformed events degrade convergence at
			// worst; surface and continue.
			p.reportErr(err)
		}
	}
}

// republishSnapshot broadcasts this peer's full card and thread
// collections. Receivers merge insert-if-absent, so redundant
// snapshots from multiple responders are no-ops for known ids.
func (p *Peer) republishSnapshot(newcomer string) {
	if cards := p.store.Cards(); len(cards) > 0 {
		p.enqueue(&wire.CardsSync{
			Origin: wire.Origin{ActorID: p.actorID},
			Cards:  cards,
		})
	}
	if threads := p.store.Threads(); len(threads) > 0 {
		p.enqueue(&wire.ThreadsSync{
			Origin:  wire.Origin{ActorID: p.actorID},
			Threads: threads,
		})
	}
}

// sendLoop drains the outbound queue in order. A send failure never
// blocks or rolls back local state; it is reported and the next event
// proceeds.
func (p *Peer) sendLoop() {
	for {
		select {
		case <-p.done:
			return
		case ev := <-p.outbound:
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			if err := p.channel.Send(ctx, ev); err != nil {
				p.reportErr(err)
			}
			cancel()
		}
	}
}

// enqueue hands an event to the outbound sender without blocking the
// caller. A full queue drops the event; throttled fields recover on
// the next sample and discrete state converges via resync.
func (p *Peer) enqueue(ev wire.Event) {
	select {
	case p.outbound <- ev:
	default:
		p.reportErr(fmt.Errorf("outbound queue full, dropped %s event", ev.Tag()))
	}
}

func (p *Peer) reportErr(err error) {
	select {
	case p.errs <- err:
	default:
	}
}

// emitScheduled is the scheduler's send callback: the coalesced latest
// value for a gesture key goes on the wire and to storage.
func (p *Peer) emitScheduled(key string, value interface{}) {
	ev, ok := value.(wire.Event)
	if !ok {
		return
	}
	p.enqueue(ev)
	p.persistCurrentCard(eventCardID(ev))
}

func eventCardID(ev wire.Event) string {
	switch e := ev.(type) {
	case *wire.CardMove:
		return e.ID
	case *wire.CardResize:
		return e.ID
	case *wire.CardTyping:
		return e.ID
	}
	return ""
}

// persistAsync runs a persistence call off the mutation path and
// reports any failure. Optimistic state is deliberately not rolled
// back: reconciliation on persistence failure is a UI concern.
func (p *Peer) persistAsync(op func(ctx context.Context, st persist.Store) error) {
	if p.persist == nil {
		return
	}
	st := p.persist
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := op(ctx, st); err != nil {
			p.reportErr(fmt.Errorf("persist failed: %w", err))
		}
	}()
}

// persistCurrentCard snapshots the card's current optimistic state and
// persists it as a full update.
func (p *Peer) persistCurrentCard(cardID string) {
	if cardID == "" {
		return
	}
	c, ok := p.store.Card(cardID)
	if !ok {
		return
	}
	p.persistAsync(func(ctx context.Context, st persist.Store) error {
		return st.UpdateCard(ctx, &c)
	})
}

// persistCurrentThread snapshots the thread's current optimistic state
// and persists it as a full update.
func (p *Peer) persistCurrentThread(threadID string) {
	t, ok := p.store.Thread(threadID)
	if !ok {
		return
	}
	p.persistAsync(func(ctx context.Context, st persist.Store) error {
		return st.UpdateThread(ctx, &t)
	})
}

// check gates a capability against the current optimistic session
// state and this peer's role.
func (p *Peer) check(cp auth.Capability, req auth.Request) error {
	sess := p.store.Session()
	req.Session = &sess
	req.ActorID = p.actorID
	req.Role = p.role
	return auth.Check(cp, req)
}

func (p *Peer) origin() wire.Origin {
	return wire.Origin{ActorID: p.actorID}
}

// gestureKey names a throttle slot. Distinct entities and fields are
// throttled independently.
func gestureKey(field, entityID string) string {
	return field + ":" + entityID
}

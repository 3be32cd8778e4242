// Package guard is the authoritative half of the dual write. It
// consumes a session's broadcast stream and replays each mutation
// against durable storage, re-resolving the actor's role from the
// participant table and running the exact capability checks the
// optimistic client path ran. A role or lock state carried in a wire
// event is never trusted.
//
// Nothing here is fatal: denied, malformed, and failed events are
// logged and skipped, and the stream continues.
package guard

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/corkboard/corkboard/internal/auth"
	"github.com/corkboard/corkboard/internal/persist"
	"github.com/corkboard/corkboard/internal/transport"
	"github.com/corkboard/corkboard/pkg/board"
	"github.com/corkboard/corkboard/pkg/wire"
)

// Engine authoritatively persists one session's broadcast stream.
type Engine struct {
	channel   *transport.Channel
	store     persist.Store
	sessionID string
}

// NewEngine creates a guard engine for one session.
func NewEngine(channel *transport.Channel, store persist.Store, sessionID string) *Engine {
	return &Engine{
		channel:   channel,
		store:     store,
		sessionID: sessionID,
	}
}

// Run consumes the session's broadcast stream until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	sub, err := e.channel.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to session events: %w", err)
	}
	defer sub.Close()

	log.Printf("[Guard] Watching session %s", e.sessionID)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Guard] Shutting down session %s", e.sessionID)
			return nil

		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if err := e.handle(ctx, ev); err != nil {
				if auth.IsDenied(err) {
					log.Printf("[Guard] Denied %s from %s: %v", ev.Tag(), ev.Actor(), err)
				} else {
					log.Printf("[Guard] Failed to persist %s: %v", ev.Tag(), err)
				}
			}

		case err, ok := <-sub.Errors():
			if !ok {
				return nil
			}
			log.Printf("[Guard] Skipping event: %v", err)
		}
	}
}

// handle replays one event against storage. Returns *auth.DeniedError
// for gate refusals and other errors for persistence failures; both
// leave storage untouched for that event.
func (e *Engine) handle(ctx context.Context, ev wire.Event) error {
	// Presence and membership events establish roles; handle them
	// before the role lookup that everything else needs.
	switch v := ev.(type) {
	case *wire.UserJoin:
		_, err := e.store.Join(ctx, e.sessionID, v.VisitorID, v.Username)
		return err
	case *wire.CardEditors, *wire.CardsSync, *wire.ThreadsSync:
		// Informational / resync traffic, not durable mutations.
		return nil
	}

	role, err := e.store.GetRole(ctx, ev.Actor(), e.sessionID)
	if err != nil {
		return fmt.Errorf("failed to resolve role for %s: %w", ev.Actor(), err)
	}
	session, err := e.store.GetSession(ctx, e.sessionID)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	check := func(cp auth.Capability, req auth.Request) error {
		req.Session = session
		req.ActorID = ev.Actor()
		req.Role = role
		return auth.Check(cp, req)
	}

	if err := e.apply(ctx, ev, check); err != nil {
		return err
	}
	now := time.Now().UTC()
	if err := e.store.TouchSession(ctx, e.sessionID, now); err != nil {
		log.Printf("[Guard] Failed to touch session %s: %v", e.sessionID, err)
	}
	if err := e.store.TouchParticipant(ctx, e.sessionID, ev.Actor(), now); err != nil {
		log.Printf("[Guard] Failed to touch participant %s: %v", ev.Actor(), err)
	}
	return nil
}

type checkFunc func(cp auth.Capability, req auth.Request) error

func (e *Engine) apply(ctx context.Context, ev wire.Event, check checkFunc) error {
	switch v := ev.(type) {
	case *wire.UserRename:
		return e.store.RenameParticipant(ctx, e.sessionID, v.VisitorID, v.NewUsername)

	case *wire.SessionRename:
		if err := check(auth.CapRenameSession, auth.Request{}); err != nil {
			return err
		}
		session, err := e.store.GetSession(ctx, e.sessionID)
		if err != nil {
			return err
		}
		session.Name = v.NewName
		return e.store.UpdateSession(ctx, session)

	case *wire.SessionSettings:
		if err := check(auth.CapToggleLock, auth.Request{}); err != nil {
			return err
		}
		session, err := e.store.GetSession(ctx, e.sessionID)
		if err != nil {
			return err
		}
		session.Locked = v.Locked
		return e.store.UpdateSession(ctx, session)

	case *wire.CardAdd:
		if err := check(auth.CapAddCard, auth.Request{}); err != nil {
			return err
		}
		card := v.Card
		card.SessionID = e.sessionID
		card.Width = board.ClampWidth(card.Width)
		card.Height = board.ClampHeight(card.Height)
		card.Votes = len(card.VotedBy)
		return e.store.CreateCard(ctx, &card)

	case *wire.CardUpdate:
		return e.mutateCard(ctx, v.Card.ID, auth.CapEditCard, check, func(c *board.Card) {
			update := v.Card
			update.SessionID = e.sessionID
			update.CreatedBy = c.CreatedBy
			update.Width = board.ClampWidth(update.Width)
			update.Height = board.ClampHeight(update.Height)
			update.Votes = len(update.VotedBy)
			*c = update
		})

	case *wire.CardMove:
		return e.mutateCard(ctx, v.ID, auth.CapMoveCard, check, func(c *board.Card) {
			c.X, c.Y = v.X, v.Y
		})

	case *wire.CardResize:
		return e.mutateCard(ctx, v.ID, auth.CapResizeCard, check, func(c *board.Card) {
			c.Width = board.ClampWidth(v.Width)
			c.Height = board.ClampHeight(v.Height)
		})

	case *wire.CardTyping:
		return e.mutateCard(ctx, v.ID, auth.CapEditCard, check, func(c *board.Card) {
			c.Content = v.Content
		})

	case *wire.CardColor:
		return e.mutateCard(ctx, v.ID, auth.CapChangeColor, check, func(c *board.Card) {
			c.Color = v.Color
		})

	case *wire.CardDelete:
		card, err := e.store.GetCard(ctx, e.sessionID, v.ID)
		if err != nil {
			return err
		}
		if err := check(auth.CapDeleteCard, auth.Request{Card: card}); err != nil {
			return err
		}
		return e.store.DeleteCard(ctx, e.sessionID, v.ID)

	case *wire.CardVote:
		return e.mutateCard(ctx, v.ID, auth.CapVote, check, func(c *board.Card) {
			c.VotedBy = append([]string(nil), v.VotedBy...)
			c.Votes = len(c.VotedBy)
		})

	case *wire.CardReact:
		return e.mutateCard(ctx, v.ID, auth.CapReact, check, func(c *board.Card) {
			c.Reactions = v.Reactions
		})

	case *wire.CardsCluster:
		if err := check(auth.CapClusterCards, auth.Request{}); err != nil {
			return err
		}
		for _, pos := range v.Positions {
			card, err := e.store.GetCard(ctx, e.sessionID, pos.ID)
			if err != nil {
				if persist.IsNotFound(err) {
					continue
				}
				return err
			}
			card.X, card.Y = pos.X, pos.Y
			if err := e.store.UpdateCard(ctx, card); err != nil {
				return err
			}
		}
		return nil

	case *wire.ThreadAdd:
		if err := check(auth.CapCreateThread, auth.Request{}); err != nil {
			return err
		}
		thread := v.Thread
		thread.SessionID = e.sessionID
		return e.store.CreateThread(ctx, &thread)

	case *wire.ThreadMove:
		return e.mutateThread(ctx, v.ID, auth.CapMoveThread, check, func(t *board.Thread) {
			if !t.AnchoredToCard() {
				t.DetachToCanvas(v.X, v.Y)
			}
		})

	case *wire.ThreadAttach:
		return e.mutateThread(ctx, v.ThreadID, auth.CapMoveThread, check, func(t *board.Thread) {
			t.AttachToCard(v.CardID)
		})

	case *wire.ThreadDetach:
		return e.mutateThread(ctx, v.ThreadID, auth.CapMoveThread, check, func(t *board.Thread) {
			t.DetachToCanvas(v.X, v.Y)
		})

	case *wire.ThreadResolve:
		return e.mutateThread(ctx, v.ID, auth.CapResolveThread, check, func(t *board.Thread) {
			t.Resolved = v.Resolved
		})

	case *wire.ThreadDelete:
		thread, err := e.store.GetThread(ctx, e.sessionID, v.ID)
		if err != nil {
			return err
		}
		if err := check(auth.CapDeleteThread, auth.Request{Thread: thread}); err != nil {
			return err
		}
		return e.store.DeleteThread(ctx, e.sessionID, v.ID)

	case *wire.CommentAdd:
		return e.mutateThread(ctx, v.ThreadID, auth.CapAddComment, check, func(t *board.Thread) {
			if t.FindComment(v.Comment.ID) >= 0 {
				return
			}
			comment := v.Comment
			comment.Content = board.SanitizeComment(comment.Content)
			t.Comments = append(t.Comments, comment)
		})

	case *wire.CommentUpdate:
		thread, err := e.store.GetThread(ctx, e.sessionID, v.ThreadID)
		if err != nil {
			return err
		}
		i := thread.FindComment(v.CommentID)
		if i < 0 {
			return fmt.Errorf("comment %s: %w", v.CommentID, persist.ErrNotFound)
		}
		if err := check(auth.CapEditComment, auth.Request{Thread: thread, Comment: &thread.Comments[i]}); err != nil {
			return err
		}
		thread.Comments[i].Content = board.SanitizeComment(v.Content)
		thread.Comments[i].UpdatedAt = time.Now().UTC()
		return e.store.UpdateThread(ctx, thread)

	case *wire.CommentDelete:
		thread, err := e.store.GetThread(ctx, e.sessionID, v.ThreadID)
		if err != nil {
			return err
		}
		i := thread.FindComment(v.CommentID)
		if i < 0 {
			return fmt.Errorf("comment %s: %w", v.CommentID, persist.ErrNotFound)
		}
		if err := check(auth.CapDeleteComment, auth.Request{Thread: thread, Comment: &thread.Comments[i]}); err != nil {
			return err
		}
		thread.Comments = append(thread.Comments[:i], thread.Comments[i+1:]...)
		// Same cascade as the optimistic store: a thread emptied of
		// comments is removed, not left hollow.
		if len(thread.Comments) == 0 {
			return e.store.DeleteThread(ctx, e.sessionID, v.ThreadID)
		}
		return e.store.UpdateThread(ctx, thread)

	default:
		return nil
	}
}

func (e *Engine) mutateCard(ctx context.Context, id string, cp auth.Capability, check checkFunc, mutate func(*board.Card)) error {
	card, err := e.store.GetCard(ctx, e.sessionID, id)
	if err != nil {
		return err
	}
	if err := check(cp, auth.Request{Card: card}); err != nil {
		return err
	}
	mutate(card)
	card.UpdatedAt = time.Now().UTC()
	return e.store.UpdateCard(ctx, card)
}

func (e *Engine) mutateThread(ctx context.Context, id string, cp auth.Capability, check checkFunc, mutate func(*board.Thread)) error {
	thread, err := e.store.GetThread(ctx, e.sessionID, id)
	if err != nil {
		return err
	}
	if err := check(cp, auth.Request{Thread: thread}); err != nil {
		return err
	}
	mutate(thread)
	return e.store.UpdateThread(ctx, thread)
}

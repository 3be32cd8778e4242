package peer

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/corkboard/corkboard/internal/auth"
	"github.com/corkboard/corkboard/internal/persist"
	"github.com/corkboard/corkboard/pkg/board"
	"github.com/corkboard/corkboard/pkg/wire"
)

// Local mutation API. Every method follows the same shape: gate via
// the capability table, apply to the optimistic store, broadcast
// (immediately or through the gesture scheduler), persist async.
// A gate denial returns *auth.DeniedError and changes nothing.

// AddCard creates a card at the given position and returns the
// optimistic copy.
func (p *Peer) AddCard(content, color string, x, y float64) (board.Card, error) {
	if err := p.check(auth.CapAddCard, auth.Request{}); err != nil {
		return board.Card{}, err
	}

	card := board.Card{
		ID:        uuid.New().String(),
		SessionID: p.store.Session().ID,
		Content:   content,
		Color:     color,
		X:         x,
		Y:         y,
		Width:     board.CardDefaultWidth,
		Height:    board.CardDefaultHeight,
		VotedBy:   []string{},
		CreatedBy: p.actorID,
		UpdatedAt: time.Now().UTC(),
	}

	ev := &wire.CardAdd{Origin: p.origin(), Card: card}
	p.store.ApplyLocal(ev)
	p.enqueue(ev)
	p.persistAsync(func(ctx context.Context, st persist.Store) error {
		return st.CreateCard(ctx, &card)
	})
	return card, nil
}

// MoveCard updates a card's position. Continuous: coalesced per card.
func (p *Peer) MoveCard(id string, x, y float64) error {
	card, ok := p.store.Card(id)
	if !ok {
		return persist.ErrNotFound
	}
	if err := p.check(auth.CapMoveCard, auth.Request{Card: &card}); err != nil {
		return err
	}

	ev := &wire.CardMove{Origin: p.origin(), ID: id, X: x, Y: y}
	p.store.ApplyLocal(ev)
	p.sched.Schedule(gestureKey("card:move", id), ev)
	return nil
}

// ResizeCard updates a card's dimensions, clamped to the legal range.
// Continuous: coalesced per card.
func (p *Peer) ResizeCard(id string, width, height float64) error {
	card, ok := p.store.Card(id)
	if !ok {
		return persist.ErrNotFound
	}
	if err := p.check(auth.CapResizeCard, auth.Request{Card: &card}); err != nil {
		return err
	}

	ev := &wire.CardResize{
		Origin: p.origin(),
		ID:     id,
		Width:  board.ClampWidth(width),
		Height: board.ClampHeight(height),
	}
	p.store.ApplyLocal(ev)
	p.sched.Schedule(gestureKey("card:resize", id), ev)
	return nil
}

// TypeCard replaces a card's content as the user types. Continuous:
// coalesced per card, last writer wins across peers.
func (p *Peer) TypeCard(id, content string) error {
	card, ok := p.store.Card(id)
	if !ok {
		return persist.ErrNotFound
	}
	if err := p.check(auth.CapEditCard, auth.Request{Card: &card}); err != nil {
		return err
	}

	ev := &wire.CardTyping{Origin: p.origin(), ID: id, Content: content}
	p.store.ApplyLocal(ev)
	p.sched.Schedule(gestureKey("card:typing", id), ev)
	return nil
}

// SetCardColor changes a card's color. Discrete: sent immediately.
func (p *Peer) SetCardColor(id, color string) error {
	card, ok := p.store.Card(id)
	if !ok {
		return persist.ErrNotFound
	}
	if err := p.check(auth.CapChangeColor, auth.Request{Card: &card}); err != nil {
		return err
	}

	ev := &wire.CardColor{Origin: p.origin(), ID: id, Color: color}
	p.store.ApplyLocal(ev)
	p.enqueue(ev)
	p.persistCurrentCard(id)
	return nil
}

// DeleteCard removes a card. Discrete.
func (p *Peer) DeleteCard(id string) error {
	card, ok := p.store.Card(id)
	if !ok {
		return persist.ErrNotFound
	}
	if err := p.check(auth.CapDeleteCard, auth.Request{Card: &card}); err != nil {
		return err
	}

	sessionID := card.SessionID
	ev := &wire.CardDelete{Origin: p.origin(), ID: id}
	p.store.ApplyLocal(ev)
	p.enqueue(ev)
	p.persistAsync(func(ctx context.Context, st persist.Store) error {
		return st.DeleteCard(ctx, sessionID, id)
	})
	return nil
}

// ToggleVote adds or removes this actor's vote on a card. Voting on
// one's own card is denied regardless of lock state. Discrete.
func (p *Peer) ToggleVote(id string) error {
	card, ok := p.store.Card(id)
	if !ok {
		return persist.ErrNotFound
	}
	if err := p.check(auth.CapVote, auth.Request{Card: &card}); err != nil {
		return err
	}

	card.ToggleVote(p.actorID)
	ev := &wire.CardVote{
		Origin:  p.origin(),
		ID:      id,
		Votes:   card.Votes,
		VotedBy: card.VotedBy,
	}
	p.store.ApplyLocal(ev)
	p.enqueue(ev)
	p.persistCurrentCard(id)
	return nil
}

// ToggleReaction adds or removes this actor's emoji reaction on a
// card. Reacting to one's own card is denied. Discrete.
func (p *Peer) ToggleReaction(id, emoji string) error {
	card, ok := p.store.Card(id)
	if !ok {
		return persist.ErrNotFound
	}
	if err := p.check(auth.CapReact, auth.Request{Card: &card}); err != nil {
		return err
	}

	card.ToggleReaction(emoji, p.actorID)
	ev := &wire.CardReact{Origin: p.origin(), ID: id, Reactions: card.Reactions}
	p.store.ApplyLocal(ev)
	p.enqueue(ev)
	p.persistCurrentCard(id)
	return nil
}

// SetEditing announces that this actor started or stopped editing a
// card. Informational only; never gated or persisted.
func (p *Peer) SetEditing(id string, editing bool) {
	ev := &wire.CardEditors{Origin: p.origin(), ID: id, Editing: editing}
	p.store.ApplyLocal(ev)
	p.enqueue(ev)
}

// ClusterCards repositions a set of cards at once. Creator only.
func (p *Peer) ClusterCards(positions []wire.ClusterPosition) error {
	if err := p.check(auth.CapClusterCards, auth.Request{}); err != nil {
		return err
	}

	ev := &wire.CardsCluster{Origin: p.origin(), Positions: positions}
	p.store.ApplyLocal(ev)
	p.enqueue(ev)
	for _, pos := range positions {
		p.persistCurrentCard(pos.ID)
	}
	return nil
}

// CreateThread starts a comment thread anchored to a canvas position.
func (p *Peer) CreateThread(x, y float64) (board.Thread, error) {
	return p.createThread(func(t *board.Thread) { t.DetachToCanvas(x, y) })
}

// CreateCardThread starts a comment thread anchored to a card.
func (p *Peer) CreateCardThread(cardID string) (board.Thread, error) {
	if _, ok := p.store.Card(cardID); !ok {
		return board.Thread{}, persist.ErrNotFound
	}
	return p.createThread(func(t *board.Thread) { t.AttachToCard(cardID) })
}

func (p *Peer) createThread(anchor func(*board.Thread)) (board.Thread, error) {
	if err := p.check(auth.CapCreateThread, auth.Request{}); err != nil {
		return board.Thread{}, err
	}

	thread := board.Thread{
		ID:        uuid.New().String(),
		SessionID: p.store.Session().ID,
		CreatedBy: p.actorID,
		Comments:  []board.Comment{},
		CreatedAt: time.Now().UTC(),
	}
	anchor(&thread)

	ev := &wire.ThreadAdd{Origin: p.origin(), Thread: thread}
	p.store.ApplyLocal(ev)
	p.enqueue(ev)
	p.persistAsync(func(ctx context.Context, st persist.Store) error {
		return st.CreateThread(ctx, &thread)
	})
	return thread, nil
}

// MoveThread repositions a canvas-anchored thread. Continuous:
// coalesced per thread.
func (p *Peer) MoveThread(id string, x, y float64) error {
	thread, ok := p.store.Thread(id)
	if !ok {
		return persist.ErrNotFound
	}
	if err := p.check(auth.CapMoveThread, auth.Request{Thread: &thread}); err != nil {
		return err
	}

	ev := &wire.ThreadMove{Origin: p.origin(), ID: id, X: x, Y: y}
	p.store.ApplyLocal(ev)
	p.sched.Schedule(gestureKey("thread:move", id), ev)
	p.persistCurrentThread(id)
	return nil
}

// AttachThread re-anchors a thread onto a card. Discrete.
func (p *Peer) AttachThread(threadID, cardID string) error {
	thread, ok := p.store.Thread(threadID)
	if !ok {
		return persist.ErrNotFound
	}
	if _, ok := p.store.Card(cardID); !ok {
		return persist.ErrNotFound
	}
	if err := p.check(auth.CapMoveThread, auth.Request{Thread: &thread}); err != nil {
		return err
	}

	ev := &wire.ThreadAttach{Origin: p.origin(), ThreadID: threadID, CardID: cardID}
	p.store.ApplyLocal(ev)
	p.enqueue(ev)
	p.persistCurrentThread(threadID)
	return nil
}

// DetachThread re-anchors a thread onto a canvas position. Discrete.
func (p *Peer) DetachThread(threadID string, x, y float64) error {
	thread, ok := p.store.Thread(threadID)
	if !ok {
		return persist.ErrNotFound
	}
	if err := p.check(auth.CapMoveThread, auth.Request{Thread: &thread}); err != nil {
		return err
	}

	ev := &wire.ThreadDetach{Origin: p.origin(), ThreadID: threadID, X: x, Y: y}
	p.store.ApplyLocal(ev)
	p.enqueue(ev)
	p.persistCurrentThread(threadID)
	return nil
}

// ResolveThread sets a thread's resolved flag. Discrete.
func (p *Peer) ResolveThread(id string, resolved bool) error {
	thread, ok := p.store.Thread(id)
	if !ok {
		return persist.ErrNotFound
	}
	if err := p.check(auth.CapResolveThread, auth.Request{Thread: &thread}); err != nil {
		return err
	}

	ev := &wire.ThreadResolve{Origin: p.origin(), ID: id, Resolved: resolved}
	p.store.ApplyLocal(ev)
	p.enqueue(ev)
	p.persistCurrentThread(id)
	return nil
}

// DeleteThread removes a thread and its comments. Owner or creator.
func (p *Peer) DeleteThread(id string) error {
	thread, ok := p.store.Thread(id)
	if !ok {
		return persist.ErrNotFound
	}
	if err := p.check(auth.CapDeleteThread, auth.Request{Thread: &thread}); err != nil {
		return err
	}

	sessionID := thread.SessionID
	ev := &wire.ThreadDelete{Origin: p.origin(), ID: id}
	p.store.ApplyLocal(ev)
	p.enqueue(ev)
	p.persistAsync(func(ctx context.Context, st persist.Store) error {
		return st.DeleteThread(ctx, sessionID, id)
	})
	return nil
}

// AddComment appends a comment to a thread. Content is sanitized and
// length-bounded before it touches any state.
func (p *Peer) AddComment(threadID, content string) (board.Comment, error) {
	thread, ok := p.store.Thread(threadID)
	if !ok {
		return board.Comment{}, persist.ErrNotFound
	}
	if err := p.check(auth.CapAddComment, auth.Request{Thread: &thread}); err != nil {
		return board.Comment{}, err
	}

	now := time.Now().UTC()
	comment := board.Comment{
		ID:        uuid.New().String(),
		ThreadID:  threadID,
		CreatedBy: p.actorID,
		Content:   board.SanitizeComment(content),
		CreatedAt: now,
		UpdatedAt: now,
	}

	ev := &wire.CommentAdd{Origin: p.origin(), ThreadID: threadID, Comment: comment}
	p.store.ApplyLocal(ev)
	p.enqueue(ev)
	p.persistCurrentThread(threadID)
	return comment, nil
}

// EditComment replaces a comment's content. Author only.
func (p *Peer) EditComment(threadID, commentID, content string) error {
	thread, ok := p.store.Thread(threadID)
	if !ok {
		return persist.ErrNotFound
	}
	i := thread.FindComment(commentID)
	if i < 0 {
		return persist.ErrNotFound
	}
	comment := thread.Comments[i]
	if err := p.check(auth.CapEditComment, auth.Request{Thread: &thread, Comment: &comment}); err != nil {
		return err
	}

	ev := &wire.CommentUpdate{
		Origin:    p.origin(),
		ThreadID:  threadID,
		CommentID: commentID,
		Content:   board.SanitizeComment(content),
	}
	p.store.ApplyLocal(ev)
	p.enqueue(ev)
	p.persistCurrentThread(threadID)
	return nil
}

// DeleteComment removes a comment. Deleting the last comment deletes
// the thread itself; the same cascade runs on the authoritative path.
func (p *Peer) DeleteComment(threadID, commentID string) error {
	thread, ok := p.store.Thread(threadID)
	if !ok {
		return persist.ErrNotFound
	}
	i := thread.FindComment(commentID)
	if i < 0 {
		return persist.ErrNotFound
	}
	comment := thread.Comments[i]
	if err := p.check(auth.CapDeleteComment, auth.Request{Thread: &thread, Comment: &comment}); err != nil {
		return err
	}

	sessionID := thread.SessionID
	ev := &wire.CommentDelete{Origin: p.origin(), ThreadID: threadID, CommentID: commentID}
	p.store.ApplyLocal(ev)
	p.enqueue(ev)

	if _, stillThere := p.store.Thread(threadID); stillThere {
		p.persistCurrentThread(threadID)
	} else {
		// Cascade fired: the store removed the now-empty thread.
		p.persistAsync(func(ctx context.Context, st persist.Store) error {
			return st.DeleteThread(ctx, sessionID, threadID)
		})
	}
	return nil
}

// RenameSession changes the session display name. Creator only.
func (p *Peer) RenameSession(name string) error {
	if err := p.check(auth.CapRenameSession, auth.Request{}); err != nil {
		return err
	}

	ev := &wire.SessionRename{Origin: p.origin(), NewName: name}
	p.store.ApplyLocal(ev)
	p.enqueue(ev)
	p.persistSession()
	return nil
}

// SetLocked toggles the session lock. Creator only, and allowed while
// locked - it is the only way out.
func (p *Peer) SetLocked(locked bool) error {
	if err := p.check(auth.CapToggleLock, auth.Request{}); err != nil {
		return err
	}

	ev := &wire.SessionSettings{Origin: p.origin(), Locked: locked}
	p.store.ApplyLocal(ev)
	p.enqueue(ev)
	p.persistSession()
	return nil
}

// DeleteSession destroys the session and everything in it. Creator
// only, allowed while locked.
func (p *Peer) DeleteSession() error {
	if err := p.check(auth.CapDeleteSession, auth.Request{}); err != nil {
		return err
	}

	sessionID := p.store.Session().ID
	p.persistAsync(func(ctx context.Context, st persist.Store) error {
		return st.DeleteSession(ctx, sessionID)
	})
	return nil
}

// Rename changes this actor's display name and announces it.
func (p *Peer) Rename(username string) error {
	if err := p.check(auth.CapRenameUser, auth.Request{}); err != nil {
		return err
	}

	p.username = username
	ev := &wire.UserRename{Origin: p.origin(), VisitorID: p.actorID, NewUsername: username}
	p.store.ApplyLocal(ev)
	p.enqueue(ev)

	sessionID := p.store.Session().ID
	actorID := p.actorID
	p.persistAsync(func(ctx context.Context, st persist.Store) error {
		return st.RenameParticipant(ctx, sessionID, actorID, username)
	})
	return nil
}

func (p *Peer) persistSession() {
	sess := p.store.Session()
	p.persistAsync(func(ctx context.Context, st persist.Store) error {
		return st.UpdateSession(ctx, &sess)
	})
}

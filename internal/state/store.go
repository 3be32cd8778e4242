// Package state holds a client's in-memory mirror of one session:
// cards, threads, participant display names, and session metadata.
//
// The store is fed by two paths. Local user actions apply through
// ApplyLocal so the UI reflects them with zero network latency;
// decoded broadcast events from other peers apply through Apply, which
// first drops anything stamped with the local actor id (self-echo
// suppression). Both paths funnel into the same per-event merge rules,
// so a mutation can never behave differently locally than remotely.
//
// Merge semantics are last-writer-wins per field: adds are idempotent,
// field deltas overwrite only the named fields, deletes are
// unconditional, and full-collection sync events insert ids absent
// locally without touching ids already present. No global order across
// peers is assumed; peers converge once all broadcasts are delivered.
package state

import (
	"sync"
	"time"

	"github.com/corkboard/corkboard/pkg/board"
	"github.com/corkboard/corkboard/pkg/wire"
)

// Store is the optimistic local mirror for a single session.
// All methods are safe for concurrent use; events apply one at a time,
// in arrival order.
type Store struct {
	actorID string

	mu        sync.Mutex
	session   board.Session
	cards     map[string]*board.Card
	threads   map[string]*board.Thread
	usernames map[string]string          // actor id -> display name
	editors   map[string]map[string]bool // card id -> set of editing actor ids
}

// NewStore creates an empty mirror for the given local actor.
func NewStore(actorID string, session board.Session) *Store {
	return &Store{
		actorID:   actorID,
		session:   session,
		cards:     make(map[string]*board.Card),
		threads:   make(map[string]*board.Thread),
		usernames: make(map[string]string),
		editors:   make(map[string]map[string]bool),
	}
}

// ActorID returns the local actor id used for self-echo suppression.
func (s *Store) ActorID() string { return s.actorID }

// Apply merges a remote event into local state. Events stamped with the
// local actor id are this peer's own broadcasts echoed back and are
// dropped without effect. Returns true if the event was applied.
func (s *Store) Apply(ev wire.Event) bool {
	if ev.Actor() == s.actorID {
		return false
	}
	s.ApplyLocal(ev)
	return true
}

// ApplyLocal merges an event into local state without the self-origin
// filter. The local mutation path uses this directly so that local and
// remote mutations share one set of merge rules.
func (s *Store) ApplyLocal(ev wire.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e := ev.(type) {
	case *wire.CardAdd:
		s.insertCard(e.Card)
	case *wire.CardUpdate:
		c := e.Card
		c.Width = board.ClampWidth(c.Width)
		c.Height = board.ClampHeight(c.Height)
		s.cards[c.ID] = &c
	case *wire.CardMove:
		if c, ok := s.cards[e.ID]; ok {
			c.X, c.Y = e.X, e.Y
		}
	case *wire.CardResize:
		if c, ok := s.cards[e.ID]; ok {
			c.Width = board.ClampWidth(e.Width)
			c.Height = board.ClampHeight(e.Height)
		}
	case *wire.CardTyping:
		if c, ok := s.cards[e.ID]; ok {
			c.Content = e.Content
			c.UpdatedAt = time.Now()
		}
	case *wire.CardColor:
		if c, ok := s.cards[e.ID]; ok {
			c.Color = e.Color
		}
	case *wire.CardDelete:
		delete(s.cards, e.ID)
		delete(s.editors, e.ID)
	case *wire.CardVote:
		if c, ok := s.cards[e.ID]; ok {
			c.VotedBy = append([]string(nil), e.VotedBy...)
			c.Votes = len(c.VotedBy)
		}
	case *wire.CardReact:
		if c, ok := s.cards[e.ID]; ok {
			c.Reactions = copyReactions(e.Reactions)
		}
	case *wire.CardEditors:
		s.setEditor(e.ID, e.Actor(), e.Editing)
	case *wire.CardsSync:
		for _, c := range e.Cards {
			s.insertCard(c)
		}
	case *wire.CardsCluster:
		for _, pos := range e.Positions {
			if c, ok := s.cards[pos.ID]; ok {
				c.X, c.Y = pos.X, pos.Y
			}
		}

	case *wire.UserJoin:
		if e.Username != "" {
			s.usernames[e.VisitorID] = e.Username
		}
	case *wire.UserRename:
		s.usernames[e.VisitorID] = e.NewUsername

	case *wire.SessionRename:
		s.session.Name = e.NewName
	case *wire.SessionSettings:
		s.session.Locked = e.Locked

	case *wire.ThreadAdd:
		s.insertThread(e.Thread)
	case *wire.ThreadMove:
		if t, ok := s.threads[e.ID]; ok && !t.AnchoredToCard() {
			t.DetachToCanvas(e.X, e.Y)
		}
	case *wire.ThreadAttach:
		if t, ok := s.threads[e.ThreadID]; ok {
			t.AttachToCard(e.CardID)
		}
	case *wire.ThreadDetach:
		if t, ok := s.threads[e.ThreadID]; ok {
			t.DetachToCanvas(e.X, e.Y)
		}
	case *wire.ThreadResolve:
		if t, ok := s.threads[e.ID]; ok {
			t.Resolved = e.Resolved
		}
	case *wire.ThreadDelete:
		delete(s.threads, e.ID)
	case *wire.ThreadsSync:
		for _, t := range e.Threads {
			s.insertThread(t)
		}

	case *wire.CommentAdd:
		if t, ok := s.threads[e.ThreadID]; ok {
			if t.FindComment(e.Comment.ID) < 0 {
				t.Comments = append(t.Comments, e.Comment)
			}
		}
	case *wire.CommentUpdate:
		if t, ok := s.threads[e.ThreadID]; ok {
			if i := t.FindComment(e.CommentID); i >= 0 {
				t.Comments[i].Content = e.Content
				t.Comments[i].UpdatedAt = time.Now()
			}
		}
	case *wire.CommentDelete:
		s.deleteComment(e.ThreadID, e.CommentID)
	}
}

// insertCard adds a card if its id is not already present. Sizes are
// clamped on the way in so a malformed broadcast cannot violate the
// size invariant.
func (s *Store) insertCard(c board.Card) {
	if _, exists := s.cards[c.ID]; exists {
		return
	}
	c.Width = board.ClampWidth(c.Width)
	c.Height = board.ClampHeight(c.Height)
	c.Votes = len(c.VotedBy)
	s.cards[c.ID] = &c
}

// insertThread adds a thread if its id is not already present.
func (s *Store) insertThread(t board.Thread) {
	if _, exists := s.threads[t.ID]; exists {
		return
	}
	t.Comments = append([]board.Comment(nil), t.Comments...)
	s.threads[t.ID] = &t
}

// deleteComment removes a comment and cascades: a thread whose last
// comment is removed is removed itself rather than left empty. The
// authoritative persistence path applies the identical rule.
func (s *Store) deleteComment(threadID, commentID string) {
	t, ok := s.threads[threadID]
	if !ok {
		return
	}
	if i := t.FindComment(commentID); i >= 0 {
		t.Comments = append(t.Comments[:i], t.Comments[i+1:]...)
	}
	if len(t.Comments) == 0 {
		delete(s.threads, threadID)
	}
}

func (s *Store) setEditor(cardID, actorID string, editing bool) {
	set := s.editors[cardID]
	if editing {
		if set == nil {
			set = make(map[string]bool)
			s.editors[cardID] = set
		}
		set[actorID] = true
		return
	}
	delete(set, actorID)
	if len(set) == 0 {
		delete(s.editors, cardID)
	}
}

func copyReactions(in map[string][]string) map[string][]string {
	if in == nil {
		return nil
	}
	out := make(map[string][]string, len(in))
	for emoji, actors := range in {
		out[emoji] = append([]string(nil), actors...)
	}
	return out
}

// Session returns a copy of the session metadata.
func (s *Store) Session() board.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// SetSession replaces the session metadata, used when the externally
// supplied initial load arrives.
func (s *Store) SetSession(session board.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = session
}

// Card returns a copy of the card with the given id.
func (s *Store) Card(id string) (board.Card, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[id]
	if !ok {
		return board.Card{}, false
	}
	return copyCard(c), true
}

// Cards returns copies of all cards, in unspecified order.
func (s *Store) Cards() []board.Card {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]board.Card, 0, len(s.cards))
	for _, c := range s.cards {
		out = append(out, copyCard(c))
	}
	return out
}

// Thread returns a copy of the thread with the given id.
func (s *Store) Thread(id string) (board.Thread, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return board.Thread{}, false
	}
	return copyThread(t), true
}

// Threads returns copies of all threads, in unspecified order.
func (s *Store) Threads() []board.Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]board.Thread, 0, len(s.threads))
	for _, t := range s.threads {
		out = append(out, copyThread(t))
	}
	return out
}

// Username returns the known display name for an actor id, if any.
func (s *Store) Username(actorID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.usernames[actorID]
	return name, ok
}

// Editors returns the actor ids currently editing the given card.
func (s *Store) Editors(cardID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.editors[cardID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

func copyCard(c *board.Card) board.Card {
	out := *c
	out.VotedBy = append([]string(nil), c.VotedBy...)
	out.Reactions = copyReactions(c.Reactions)
	return out
}

func copyThread(t *board.Thread) board.Thread {
	out := *t
	out.Comments = append([]board.Comment(nil), t.Comments...)
	if t.X != nil {
		x := *t.X
		out.X = &x
	}
	if t.Y != nil {
		y := *t.Y
		out.Y = &y
	}
	return out
}

// Package wire defines the closed vocabulary of broadcast events that
// peers in a session exchange, and the codec that puts them on and
// takes them off the session's pub/sub channel.
//
// Every event carries the originating actor's id. Receivers use the
// stamp to suppress their own echoed events; the transport refuses to
// send an event without one. Decoding is total: a payload with an
// unknown type tag decodes to ErrUnknownType rather than an error the
// receiver would treat as fatal, since peers may run skewed versions.
package wire

import (
	"github.com/corkboard/corkboard/pkg/board"
)

// Event tag constants. The tag set is closed: decoding any other tag
// yields ErrUnknownType.
const (
	TypeCardAdd      = "card:add"
	TypeCardUpdate   = "card:update"
	TypeCardMove     = "card:move"
	TypeCardResize   = "card:resize"
	TypeCardTyping   = "card:typing"
	TypeCardColor    = "card:color"
	TypeCardDelete   = "card:delete"
	TypeCardVote     = "card:vote"
	TypeCardReact    = "card:react"
	TypeCardEditors  = "card:editors"
	TypeCardsSync    = "cards:sync"
	TypeCardsCluster = "cards:cluster"

	TypeUserJoin   = "user:join"
	TypeUserRename = "user:rename"

	TypeSessionRename   = "session:rename"
	TypeSessionSettings = "session:settings"

	TypeThreadAdd     = "thread:add"
	TypeThreadMove    = "thread:move"
	TypeThreadAttach  = "thread:attach"
	TypeThreadDetach  = "thread:detach"
	TypeThreadResolve = "thread:resolve"
	TypeThreadDelete  = "thread:delete"
	TypeThreadsSync   = "threads:sync"

	TypeCommentAdd    = "comment:add"
	TypeCommentUpdate = "comment:update"
	TypeCommentDelete = "comment:delete"
)

// Event is a single broadcast message. Tag returns the wire type tag;
// Actor returns the origin-actor stamp used for self-echo suppression.
type Event interface {
	Tag() string
	Actor() string
}

// Origin is embedded in every event struct to carry the origin-actor
// stamp. The codec stamps it on encode and reads it on decode.
type Origin struct {
	ActorID string `json:"actor"`
}

// Actor returns the origin-actor stamp.
func (o Origin) Actor() string { return o.ActorID }

// CardAdd announces a newly created card.
type CardAdd struct {
	Origin
	Card board.Card `json:"card"`
}

func (CardAdd) Tag() string { return TypeCardAdd }

// CardUpdate replaces a card wholesale.
type CardUpdate struct {
	Origin
	Card board.Card `json:"card"`
}

func (CardUpdate) Tag() string { return TypeCardUpdate }

// CardMove carries a card's new canvas position. Throttled.
type CardMove struct {
	Origin
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

func (CardMove) Tag() string { return TypeCardMove }

// CardResize carries a card's new dimensions. Throttled.
type CardResize struct {
	Origin
	ID     string  `json:"id"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (CardResize) Tag() string { return TypeCardResize }

// CardTyping carries a card's full content as it is being edited.
// Throttled; last writer wins.
type CardTyping struct {
	Origin
	ID      string `json:"id"`
	Content string `json:"content"`
}

func (CardTyping) Tag() string { return TypeCardTyping }

// CardColor carries a card's new color.
type CardColor struct {
	Origin
	ID    string `json:"id"`
	Color string `json:"color"`
}

func (CardColor) Tag() string { return TypeCardColor }

// CardDelete removes a card.
type CardDelete struct {
	Origin
	ID string `json:"id"`
}

func (CardDelete) Tag() string { return TypeCardDelete }

// CardVote carries a card's full voter state after a toggle.
type CardVote struct {
	Origin
	ID      string   `json:"id"`
	Votes   int      `json:"votes"`
	VotedBy []string `json:"voted_by"`
}

func (CardVote) Tag() string { return TypeCardVote }

// CardReact carries a card's full reaction map after a toggle.
type CardReact struct {
	Origin
	ID        string              `json:"id"`
	Reactions map[string][]string `json:"reactions"`
}

func (CardReact) Tag() string { return TypeCardReact }

// CardEditors announces that the origin actor started or stopped
// editing a card. Editing is true while the actor holds the editor.
type CardEditors struct {
	Origin
	ID      string `json:"id"`
	Editing bool   `json:"editing"`
}

func (CardEditors) Tag() string { return TypeCardEditors }

// CardsSync is a full snapshot of the sender's card collection,
// published when a new participant's presence is observed. Receivers
// insert ids they do not already hold and never overwrite ids they do.
type CardsSync struct {
	Origin
	Cards []board.Card `json:"cards"`
}

func (CardsSync) Tag() string { return TypeCardsSync }

// ClusterPosition is one card's target position in a cluster layout.
type ClusterPosition struct {
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// CardsCluster repositions a set of cards at once (creator-only
// bulk layout action).
type CardsCluster struct {
	Origin
	Positions []ClusterPosition `json:"positions"`
}

func (CardsCluster) Tag() string { return TypeCardsCluster }

// UserJoin announces a participant's presence and display name.
// Receiving peers respond by republishing full snapshots of their
// local collections so the newcomer converges without a storage read.
type UserJoin struct {
	Origin
	VisitorID string `json:"visitor_id"`
	Username  string `json:"username"`
}

func (UserJoin) Tag() string { return TypeUserJoin }

// UserRename updates a participant's display name.
type UserRename struct {
	Origin
	VisitorID   string `json:"visitor_id"`
	NewUsername string `json:"new_username"`
}

func (UserRename) Tag() string { return TypeUserRename }

// SessionRename updates the session display name.
type SessionRename struct {
	Origin
	NewName string `json:"new_name"`
}

func (SessionRename) Tag() string { return TypeSessionRename }

// SessionSettings carries the session's mutable settings. Lock state
// travels here so peers gate mutations without a storage round trip.
type SessionSettings struct {
	Origin
	Locked bool `json:"locked"`
}

func (SessionSettings) Tag() string { return TypeSessionSettings }

// ThreadAdd announces a newly created thread.
type ThreadAdd struct {
	Origin
	Thread board.Thread `json:"thread"`
}

func (ThreadAdd) Tag() string { return TypeThreadAdd }

// ThreadMove carries a canvas-anchored thread's new position. Throttled.
type ThreadMove struct {
	Origin
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

func (ThreadMove) Tag() string { return TypeThreadMove }

// ThreadAttach re-anchors a thread onto a card.
type ThreadAttach struct {
	Origin
	ThreadID string `json:"thread_id"`
	CardID   string `json:"card_id"`
}

func (ThreadAttach) Tag() string { return TypeThreadAttach }

// ThreadDetach re-anchors a thread onto a canvas position.
type ThreadDetach struct {
	Origin
	ThreadID string  `json:"thread_id"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

func (ThreadDetach) Tag() string { return TypeThreadDetach }

// ThreadResolve sets a thread's resolved flag.
type ThreadResolve struct {
	Origin
	ID       string `json:"id"`
	Resolved bool   `json:"resolved"`
}

func (ThreadResolve) Tag() string { return TypeThreadResolve }

// ThreadDelete removes a thread and its comments.
type ThreadDelete struct {
	Origin
	ID string `json:"id"`
}

func (ThreadDelete) Tag() string { return TypeThreadDelete }

// ThreadsSync is a full snapshot of the sender's thread collection,
// merged insert-if-absent like CardsSync.
type ThreadsSync struct {
	Origin
	Threads []board.Thread `json:"threads"`
}

func (ThreadsSync) Tag() string { return TypeThreadsSync }

// CommentAdd appends a comment to a thread.
type CommentAdd struct {
	Origin
	ThreadID string        `json:"thread_id"`
	Comment  board.Comment `json:"comment"`
}

func (CommentAdd) Tag() string { return TypeCommentAdd }

// CommentUpdate replaces a comment's content.
type CommentUpdate struct {
	Origin
	ThreadID  string `json:"thread_id"`
	CommentID string `json:"comment_id"`
	Content   string `json:"content"`
}

func (CommentUpdate) Tag() string { return TypeCommentUpdate }

// CommentDelete removes a comment. Deleting the last comment in a
// thread deletes the thread itself on every path.
type CommentDelete struct {
	Origin
	ThreadID  string `json:"thread_id"`
	CommentID string `json:"comment_id"`
}

func (CommentDelete) Tag() string { return TypeCommentDelete }

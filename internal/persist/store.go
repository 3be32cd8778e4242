// Package persist is the authoritative durable record of sessions,
// participants, cards, and threads. The sync core treats it as a plain
// request/response collaborator: persist a mutation, fetch a role, get
// back a result or an error. Nothing here gates or broadcasts anything.
//
// Two implementations are provided: RedisStore (hash-per-entity) and
// PostgresStore (row-per-entity with a JSON payload column). Both
// satisfy Store and are exercised by the same contract.
package persist

import (
	"context"
	"errors"
	"time"

	"github.com/corkboard/corkboard/pkg/board"
)

// ErrNotFound is returned when a requested entity does not exist.
// Implementations normalize their backend's not-found signal to this.
var ErrNotFound = errors.New("not found")

// IsNotFound reports whether err means the entity does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Store is the persistence contract consumed by the authoritative
// write path. Every method is a single request/response round trip;
// any non-nil error means "report to user, do not mutate further".
type Store interface {
	// Sessions. DeleteSession cascades to participants, cards, and
	// threads. SweepExpired deletes every session past its expiry time
	// and returns how many were removed.
	CreateSession(ctx context.Context, s *board.Session) error
	GetSession(ctx context.Context, id string) (*board.Session, error)
	UpdateSession(ctx context.Context, s *board.Session) error
	DeleteSession(ctx context.Context, id string) error
	ListSessions(ctx context.Context) ([]board.Session, error)
	TouchSession(ctx context.Context, id string, at time.Time) error
	SweepExpired(ctx context.Context, now time.Time) (int, error)

	// Participants. Join is idempotent: the first joiner of a session
	// becomes its creator, later joiners become plain participants,
	// and rejoining returns the existing membership unchanged. Roles
	// change only via TransferRole, never by a joiner self-promoting.
	Join(ctx context.Context, sessionID, userID, username string) (*board.Participant, error)
	GetRole(ctx context.Context, userID, sessionID string) (board.Role, error)
	TransferRole(ctx context.Context, sessionID, fromUserID, toUserID string) error
	ListParticipants(ctx context.Context, sessionID string) ([]board.Participant, error)
	TouchParticipant(ctx context.Context, sessionID, userID string, at time.Time) error
	RenameParticipant(ctx context.Context, sessionID, userID, username string) error

	// Cards. UpdateCard is a full replacement.
	CreateCard(ctx context.Context, c *board.Card) error
	GetCard(ctx context.Context, sessionID, id string) (*board.Card, error)
	UpdateCard(ctx context.Context, c *board.Card) error
	DeleteCard(ctx context.Context, sessionID, id string) error
	ListCards(ctx context.Context, sessionID string) ([]board.Card, error)

	// Threads carry their comments. UpdateThread is a full replacement
	// and is how comment mutations (including the delete-last-comment
	// cascade, which callers express as DeleteThread) are persisted.
	CreateThread(ctx context.Context, t *board.Thread) error
	GetThread(ctx context.Context, sessionID, id string) (*board.Thread, error)
	UpdateThread(ctx context.Context, t *board.Thread) error
	DeleteThread(ctx context.Context, sessionID, id string) error
	ListThreads(ctx context.Context, sessionID string) ([]board.Thread, error)
}

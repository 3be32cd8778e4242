package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/corkboard/corkboard/pkg/board"
)

// RedisStore is the Redis-backed Store. Entities live in hashes, id
// indexes in sets, all namespaced per session. It is safe for
// concurrent use from multiple goroutines.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore creates a Redis-backed store from connection options.
func NewRedisStore(redisOpts *redis.Options) *RedisStore {
	return &RedisStore{rdb: redis.NewClient(redisOpts)}
}

// Close closes the Redis connection. Implements io.Closer.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// CreateSession writes a session and adds it to the session index.
func (s *RedisStore) CreateSession(ctx context.Context, sess *board.Session) error {
	if err := sess.Validate(); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}
	if err := s.rdb.HSet(ctx, sessionKey(sess.ID), sessionToHash(sess)).Err(); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := s.rdb.SAdd(ctx, sessionsIndexKey(), sess.ID).Err(); err != nil {
		return fmt.Errorf("failed to index session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by id. Returns ErrNotFound if absent.
func (s *RedisStore) GetSession(ctx context.Context, id string) (*board.Session, error) {
	hash, err := s.rdb.HGetAll(ctx, sessionKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	// HGetAll returns an empty map for non-existent keys.
	if len(hash) == 0 {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	sess, err := hashToSession(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize session: %w", err)
	}
	return sess, nil
}

// UpdateSession replaces a session's metadata (full HSET replacement).
func (s *RedisStore) UpdateSession(ctx context.Context, sess *board.Session) error {
	if err := sess.Validate(); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}
	if err := s.rdb.HSet(ctx, sessionKey(sess.ID), sessionToHash(sess)).Err(); err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

// DeleteSession removes a session and cascades to its participants,
// cards, and threads.
func (s *RedisStore) DeleteSession(ctx context.Context, id string) error {
	cardIDs, err := s.rdb.SMembers(ctx, cardsIndexKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to list cards for cascade: %w", err)
	}
	threadIDs, err := s.rdb.SMembers(ctx, threadsIndexKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to list threads for cascade: %w", err)
	}

	keys := []string{
		sessionKey(id),
		participantsKey(id),
		cardsIndexKey(id),
		threadsIndexKey(id),
	}
	for _, cardID := range cardIDs {
		keys = append(keys, cardKey(id, cardID))
	}
	for _, threadID := range threadIDs {
		keys = append(keys, threadKey(id, threadID))
	}

	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete session keys: %w", err)
	}
	if err := s.rdb.SRem(ctx, sessionsIndexKey(), id).Err(); err != nil {
		return fmt.Errorf("failed to unindex session: %w", err)
	}
	return nil
}

// ListSessions returns all sessions in unspecified order.
func (s *RedisStore) ListSessions(ctx context.Context) ([]board.Session, error) {
	ids, err := s.rdb.SMembers(ctx, sessionsIndexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	sessions := make([]board.Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.GetSession(ctx, id)
		if err != nil {
			if IsNotFound(err) {
				// Index entry outlived the hash; skip.
				continue
			}
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, nil
}

// TouchSession updates a session's last-activity time.
func (s *RedisStore) TouchSession(ctx context.Context, id string, at time.Time) error {
	exists, err := s.rdb.Exists(ctx, sessionKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to check session existence: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	err = s.rdb.HSet(ctx, sessionKey(id), "last_active_ms", at.UnixMilli()).Err()
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

// SweepExpired deletes every session whose expiry time has passed,
// cascading as DeleteSession does. Returns the number removed.
func (s *RedisStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	sessions, err := s.ListSessions(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for i := range sessions {
		if !sessions[i].Expired(now) {
			continue
		}
		if err := s.DeleteSession(ctx, sessions[i].ID); err != nil {
			return removed, fmt.Errorf("failed to sweep session %s: %w", sessions[i].ID, err)
		}
		removed++
	}
	return removed, nil
}

// Join records a (user, session) membership. The first joiner becomes
// the session's creator; later joiners become plain participants.
// Rejoining returns the existing membership unchanged apart from its
// last-active time.
func (s *RedisStore) Join(ctx context.Context, sessionID, userID, username string) (*board.Participant, error) {
	key := participantsKey(sessionID)

	raw, err := s.rdb.HGet(ctx, key, userID).Result()
	if err == nil {
		var p board.Participant
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("failed to deserialize participant: %w", err)
		}
		p.LastActiveAt = time.Now().UTC()
		if err := s.writeParticipant(ctx, &p); err != nil {
			return nil, err
		}
		return &p, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read participant: %w", err)
	}

	count, err := s.rdb.HLen(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to count participants: %w", err)
	}

	role := board.RoleParticipant
	if count == 0 {
		role = board.RoleCreator
	}

	now := time.Now().UTC()
	p := &board.Participant{
		UserID:       userID,
		SessionID:    sessionID,
		Role:         role,
		JoinedAt:     now,
		LastActiveAt: now,
		Username:     username,
	}
	if err := s.writeParticipant(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *RedisStore) writeParticipant(ctx context.Context, p *board.Participant) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid participant: %w", err)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to serialize participant: %w", err)
	}
	key := participantsKey(p.SessionID)
	if err := s.rdb.HSet(ctx, key, p.UserID, raw).Err(); err != nil {
		return fmt.Errorf("failed to write participant: %w", err)
	}
	return nil
}

func (s *RedisStore) getParticipant(ctx context.Context, sessionID, userID string) (*board.Participant, error) {
	raw, err := s.rdb.HGet(ctx, participantsKey(sessionID), userID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("participant %s in session %s: %w", userID, sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read participant: %w", err)
	}
	var p board.Participant
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("failed to deserialize participant: %w", err)
	}
	return &p, nil
}

// GetRole resolves a user's role in a session from the authoritative
// participant table. Returns ErrNotFound for non-members; callers must
// never substitute a role supplied by a client message.
func (s *RedisStore) GetRole(ctx context.Context, userID, sessionID string) (board.Role, error) {
	p, err := s.getParticipant(ctx, sessionID, userID)
	if err != nil {
		return "", err
	}
	return p.Role, nil
}

// TransferRole moves the creator role between two members. The source
// must currently hold it; there is exactly one creator at steady state.
func (s *RedisStore) TransferRole(ctx context.Context, sessionID, fromUserID, toUserID string) error {
	from, err := s.getParticipant(ctx, sessionID, fromUserID)
	if err != nil {
		return err
	}
	if from.Role != board.RoleCreator {
		return fmt.Errorf("user %s is not the session creator", fromUserID)
	}
	to, err := s.getParticipant(ctx, sessionID, toUserID)
	if err != nil {
		return err
	}

	from.Role = board.RoleParticipant
	to.Role = board.RoleCreator
	if err := s.writeParticipant(ctx, to); err != nil {
		return err
	}
	if err := s.writeParticipant(ctx, from); err != nil {
		return err
	}
	return nil
}

// ListParticipants returns a session's members in unspecified order.
func (s *RedisStore) ListParticipants(ctx context.Context, sessionID string) ([]board.Participant, error) {
	raw, err := s.rdb.HGetAll(ctx, participantsKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	participants := make([]board.Participant, 0, len(raw))
	for _, encoded := range raw {
		var p board.Participant
		if err := json.Unmarshal([]byte(encoded), &p); err != nil {
			return nil, fmt.Errorf("failed to deserialize participant: %w", err)
		}
		participants = append(participants, p)
	}
	return participants, nil
}

// TouchParticipant updates a member's last-active time.
func (s *RedisStore) TouchParticipant(ctx context.Context, sessionID, userID string, at time.Time) error {
	p, err := s.getParticipant(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	p.LastActiveAt = at
	return s.writeParticipant(ctx, p)
}

// RenameParticipant updates a member's display name.
func (s *RedisStore) RenameParticipant(ctx context.Context, sessionID, userID, username string) error {
	p, err := s.getParticipant(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	p.Username = username
	return s.writeParticipant(ctx, p)
}

// CreateCard writes a card and adds it to the session's card index.
// Idempotent: writing the same card twice is safe.
func (s *RedisStore) CreateCard(ctx context.Context, c *board.Card) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid card: %w", err)
	}
	hash, err := cardToHash(c)
	if err != nil {
		return fmt.Errorf("failed to serialize card: %w", err)
	}
	if err := s.rdb.HSet(ctx, cardKey(c.SessionID, c.ID), hash).Err(); err != nil {
		return fmt.Errorf("failed to write card: %w", err)
	}
	if err := s.rdb.SAdd(ctx, cardsIndexKey(c.SessionID), c.ID).Err(); err != nil {
		return fmt.Errorf("failed to index card: %w", err)
	}
	return nil
}

// GetCard retrieves a card by id. Returns ErrNotFound if absent.
func (s *RedisStore) GetCard(ctx context.Context, sessionID, id string) (*board.Card, error) {
	hash, err := s.rdb.HGetAll(ctx, cardKey(sessionID, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read card: %w", err)
	}
	if len(hash) == 0 {
		return nil, fmt.Errorf("card %s: %w", id, ErrNotFound)
	}
	c, err := hashToCard(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize card: %w", err)
	}
	return c, nil
}

// UpdateCard replaces a card (full HSET replacement).
func (s *RedisStore) UpdateCard(ctx context.Context, c *board.Card) error {
	return s.CreateCard(ctx, c)
}

// DeleteCard removes a card and its index entry.
func (s *RedisStore) DeleteCard(ctx context.Context, sessionID, id string) error {
	if err := s.rdb.Del(ctx, cardKey(sessionID, id)).Err(); err != nil {
		return fmt.Errorf("failed to delete card: %w", err)
	}
	if err := s.rdb.SRem(ctx, cardsIndexKey(sessionID), id).Err(); err != nil {
		return fmt.Errorf("failed to unindex card: %w", err)
	}
	return nil
}

// ListCards returns a session's cards in unspecified order.
func (s *RedisStore) ListCards(ctx context.Context, sessionID string) ([]board.Card, error) {
	ids, err := s.rdb.SMembers(ctx, cardsIndexKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	cards := make([]board.Card, 0, len(ids))
	for _, id := range ids {
		c, err := s.GetCard(ctx, sessionID, id)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		cards = append(cards, *c)
	}
	return cards, nil
}

// CreateThread writes a thread and adds it to the session's thread
// index. Idempotent.
func (s *RedisStore) CreateThread(ctx context.Context, t *board.Thread) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid thread: %w", err)
	}
	hash, err := threadToHash(t)
	if err != nil {
		return fmt.Errorf("failed to serialize thread: %w", err)
	}
	if err := s.rdb.HSet(ctx, threadKey(t.SessionID, t.ID), hash).Err(); err != nil {
		return fmt.Errorf("failed to write thread: %w", err)
	}
	if err := s.rdb.SAdd(ctx, threadsIndexKey(t.SessionID), t.ID).Err(); err != nil {
		return fmt.Errorf("failed to index thread: %w", err)
	}
	return nil
}

// GetThread retrieves a thread by id. Returns ErrNotFound if absent.
func (s *RedisStore) GetThread(ctx context.Context, sessionID, id string) (*board.Thread, error) {
	hash, err := s.rdb.HGetAll(ctx, threadKey(sessionID, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read thread: %w", err)
	}
	if len(hash) == 0 {
		return nil, fmt.Errorf("thread %s: %w", id, ErrNotFound)
	}
	t, err := hashToThread(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize thread: %w", err)
	}
	return t, nil
}

// UpdateThread replaces a thread, comments included. A stale anchor
// field from a previous write is cleared by deleting the key first.
func (s *RedisStore) UpdateThread(ctx context.Context, t *board.Thread) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid thread: %w", err)
	}
	if err := s.rdb.Del(ctx, threadKey(t.SessionID, t.ID)).Err(); err != nil {
		return fmt.Errorf("failed to clear thread: %w", err)
	}
	return s.CreateThread(ctx, t)
}

// DeleteThread removes a thread and its index entry.
func (s *RedisStore) DeleteThread(ctx context.Context, sessionID, id string) error {
	if err := s.rdb.Del(ctx, threadKey(sessionID, id)).Err(); err != nil {
		return fmt.Errorf("failed to delete thread: %w", err)
	}
	if err := s.rdb.SRem(ctx, threadsIndexKey(sessionID), id).Err(); err != nil {
		return fmt.Errorf("failed to unindex thread: %w", err)
	}
	return nil
}

// ListThreads returns a session's threads in unspecified order.
func (s *RedisStore) ListThreads(ctx context.Context, sessionID string) ([]board.Thread, error) {
	ids, err := s.rdb.SMembers(ctx, threadsIndexKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	threads := make([]board.Thread, 0, len(ids))
	for _, id := range ids {
		t, err := s.GetThread(ctx, sessionID, id)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		threads = append(threads, *t)
	}
	return threads, nil
}

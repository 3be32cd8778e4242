package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/corkboard/corkboard/pkg/board"
)

const postgresOperationTimeout = 5 * time.Second

// PostgresStore is the Postgres-backed Store. Entities are stored as
// one row per entity with the full record in a JSONB column, plus the
// key columns needed for lookups and cascades. The connection is
// opened lazily on first use.
type PostgresStore struct {
	dsn    string
	openDB func(driverName, dsn string) (*sql.DB, error)

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

// NewPostgresStore creates a Postgres-backed store for the given DSN.
// No connection is made until the first operation.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn cannot be empty")
	}
	return &PostgresStore{dsn: dsn, openDB: sql.Open}, nil
}

// Close closes the database connection, if one was opened.
func (s *PostgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) ensureReady(ctx context.Context) error {
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = fmt.Errorf("failed to open postgres connection: %w", err)
			return
		}

		initCtx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		schema := []string{
			`CREATE TABLE IF NOT EXISTS corkboard_sessions (
				id TEXT PRIMARY KEY,
				data JSONB NOT NULL,
				expires_at TIMESTAMPTZ
			)`,
			`CREATE TABLE IF NOT EXISTS corkboard_participants (
				session_id TEXT NOT NULL,
				user_id TEXT NOT NULL,
				data JSONB NOT NULL,
				PRIMARY KEY (session_id, user_id)
			)`,
			`CREATE TABLE IF NOT EXISTS corkboard_cards (
				id TEXT PRIMARY KEY,
				session_id TEXT NOT NULL,
				data JSONB NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS corkboard_threads (
				id TEXT PRIMARY KEY,
				session_id TEXT NOT NULL,
				data JSONB NOT NULL
			)`,
		}
		for _, stmt := range schema {
			if _, err := db.ExecContext(initCtx, stmt); err != nil {
				db.Close()
				s.initErr = fmt.Errorf("failed to initialize schema: %w", err)
				return
			}
		}
		s.db = db
	})
	return s.initErr
}

func (s *PostgresStore) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, postgresOperationTimeout)
}

// upsertJSON writes an entity snapshot row, replacing any previous one.
func upsertJSON(ctx context.Context, db *sql.DB, query string, args ...interface{}) error {
	_, err := db.ExecContext(ctx, query, args...)
	return err
}

// CreateSession writes a session row.
func (s *PostgresStore) CreateSession(ctx context.Context, sess *board.Session) error {
	if err := sess.Validate(); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}
	if err := s.ensureReady(ctx); err != nil {
		return err
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var expires interface{}
	if sess.ExpiresAt != nil {
		expires = *sess.ExpiresAt
	}
	err = upsertJSON(ctx, s.db,
		`INSERT INTO corkboard_sessions (id, data, expires_at) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, expires_at = EXCLUDED.expires_at`,
		sess.ID, data, expires)
	if err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by id. Returns ErrNotFound if absent.
func (s *PostgresStore) GetSession(ctx context.Context, id string) (*board.Session, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM corkboard_sessions WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	var sess board.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to deserialize session: %w", err)
	}
	return &sess, nil
}

// UpdateSession replaces a session row.
func (s *PostgresStore) UpdateSession(ctx context.Context, sess *board.Session) error {
	return s.CreateSession(ctx, sess)
}

// DeleteSession removes a session and cascades to its participants,
// cards, and threads.
func (s *PostgresStore) DeleteSession(ctx context.Context, id string) error {
	if err := s.ensureReady(ctx); err != nil {
		return err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin cascade delete: %w", err)
	}
	defer tx.Rollback()

	statements := []string{
		`DELETE FROM corkboard_threads WHERE session_id = $1`,
		`DELETE FROM corkboard_cards WHERE session_id = $1`,
		`DELETE FROM corkboard_participants WHERE session_id = $1`,
		`DELETE FROM corkboard_sessions WHERE id = $1`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("failed to cascade delete session: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cascade delete: %w", err)
	}
	return nil
}

// ListSessions returns all sessions in unspecified order.
func (s *PostgresStore) ListSessions(ctx context.Context) ([]board.Session, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT data FROM corkboard_sessions`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []board.Session
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		var sess board.Session
		if err := json.Unmarshal(data, &sess); err != nil {
			return nil, fmt.Errorf("failed to deserialize session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// TouchSession updates a session's last-activity time.
func (s *PostgresStore) TouchSession(ctx context.Context, id string, at time.Time) error {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	sess.LastActiveAt = at
	return s.UpdateSession(ctx, sess)
}

// SweepExpired deletes every session past its expiry, cascading, and
// returns how many were removed.
func (s *PostgresStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	if err := s.ensureReady(ctx); err != nil {
		return 0, err
	}
	listCtx, cancel := s.opCtx(ctx)
	rows, err := s.db.QueryContext(listCtx,
		`SELECT id FROM corkboard_sessions WHERE expires_at IS NOT NULL AND expires_at < $1`, now)
	if err != nil {
		cancel()
		return 0, fmt.Errorf("failed to find expired sessions: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			cancel()
			return 0, fmt.Errorf("failed to scan expired session id: %w", err)
		}
		ids = append(ids, id)
	}
	err = rows.Err()
	rows.Close()
	cancel()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, id := range ids {
		if err := s.DeleteSession(ctx, id); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Join records a membership; the first joiner becomes creator. The
// existence check and insert run in one transaction so two concurrent
// first joiners cannot both claim the creator role.
func (s *PostgresStore) Join(ctx context.Context, sessionID, userID, username string) (*board.Participant, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin join: %w", err)
	}
	defer tx.Rollback()

	var existing []byte
	err = tx.QueryRowContext(ctx,
		`SELECT data FROM corkboard_participants WHERE session_id = $1 AND user_id = $2 FOR UPDATE`,
		sessionID, userID).Scan(&existing)
	if err == nil {
		var p board.Participant
		if err := json.Unmarshal(existing, &p); err != nil {
			return nil, fmt.Errorf("failed to deserialize participant: %w", err)
		}
		p.LastActiveAt = time.Now().UTC()
		if err := writeParticipantTx(ctx, tx, &p); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit join: %w", err)
		}
		return &p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to read participant: %w", err)
	}

	var count int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM corkboard_participants WHERE session_id = $1`, sessionID).Scan(&count)
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
	if err := writeParticipantTx(ctx, tx, p); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit join: %w", err)
	}
	return p, nil
}

func writeParticipantTx(ctx context.Context, tx *sql.Tx, p *board.Participant) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid participant: %w", err)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to serialize participant: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO corkboard_participants (session_id, user_id, data) VALUES ($1, $2, $3)
		 ON CONFLICT (session_id, user_id) DO UPDATE SET data = EXCLUDED.data`,
		p.SessionID, p.UserID, data)
	if err != nil {
		return fmt.Errorf("failed to write participant: %w", err)
	}
	return nil
}

func (s *PostgresStore) getParticipant(ctx context.Context, sessionID, userID string) (*board.Participant, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM corkboard_participants WHERE session_id = $1 AND user_id = $2`,
		sessionID, userID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("participant %s in session %s: %w", userID, sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read participant: %w", err)
	}
	var p board.Participant
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to deserialize participant: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) writeParticipant(ctx context.Context, p *board.Participant) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid participant: %w", err)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to serialize participant: %w", err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	err = upsertJSON(ctx, s.db,
		`INSERT INTO corkboard_participants (session_id, user_id, data) VALUES ($1, $2, $3)
		 ON CONFLICT (session_id, user_id) DO UPDATE SET data = EXCLUDED.data`,
		p.SessionID, p.UserID, data)
	if err != nil {
		return fmt.Errorf("failed to write participant: %w", err)
	}
	return nil
}

// GetRole resolves a user's role from the participant table.
func (s *PostgresStore) GetRole(ctx context.Context, userID, sessionID string) (board.Role, error) {
	p, err := s.getParticipant(ctx, sessionID, userID)
	if err != nil {
		return "", err
	}
	return p.Role, nil
}

// TransferRole moves the creator role between two members.
func (s *PostgresStore) TransferRole(ctx context.Context, sessionID, fromUserID, toUserID string) error {
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
	return s.writeParticipant(ctx, from)
}

// ListParticipants returns a session's members in unspecified order.
func (s *PostgresStore) ListParticipants(ctx context.Context, sessionID string) ([]board.Participant, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM corkboard_participants WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var participants []board.Participant
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan participant row: %w", err)
		}
		var p board.Participant
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to deserialize participant: %w", err)
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

// TouchParticipant updates a member's last-active time.
func (s *PostgresStore) TouchParticipant(ctx context.Context, sessionID, userID string, at time.Time) error {
	p, err := s.getParticipant(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	p.LastActiveAt = at
	return s.writeParticipant(ctx, p)
}

// RenameParticipant updates a member's display name.
func (s *PostgresStore) RenameParticipant(ctx context.Context, sessionID, userID, username string) error {
	p, err := s.getParticipant(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	p.Username = username
	return s.writeParticipant(ctx, p)
}

// CreateCard writes a card row. Idempotent.
func (s *PostgresStore) CreateCard(ctx context.Context, c *board.Card) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid card: %w", err)
	}
	if err := s.ensureReady(ctx); err != nil {
		return err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to serialize card: %w", err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	err = upsertJSON(ctx, s.db,
		`INSERT INTO corkboard_cards (id, session_id, data) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data`,
		c.ID, c.SessionID, data)
	if err != nil {
		return fmt.Errorf("failed to write card: %w", err)
	}
	return nil
}

// GetCard retrieves a card by id. Returns ErrNotFound if absent.
func (s *PostgresStore) GetCard(ctx context.Context, sessionID, id string) (*board.Card, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM corkboard_cards WHERE id = $1 AND session_id = $2`, id, sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("card %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read card: %w", err)
	}
	var c board.Card
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to deserialize card: %w", err)
	}
	return &c, nil
}

// UpdateCard replaces a card row.
func (s *PostgresStore) UpdateCard(ctx context.Context, c *board.Card) error {
	return s.CreateCard(ctx, c)
}

// DeleteCard removes a card row.
func (s *PostgresStore) DeleteCard(ctx context.Context, sessionID, id string) error {
	if err := s.ensureReady(ctx); err != nil {
		return err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM corkboard_cards WHERE id = $1 AND session_id = $2`, id, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete card: %w", err)
	}
	return nil
}

// ListCards returns a session's cards in unspecified order.
func (s *PostgresStore) ListCards(ctx context.Context, sessionID string) ([]board.Card, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM corkboard_cards WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	defer rows.Close()

	var cards []board.Card
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan card row: %w", err)
		}
		var c board.Card
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("failed to deserialize card: %w", err)
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// CreateThread writes a thread row. Idempotent.
func (s *PostgresStore) CreateThread(ctx context.Context, t *board.Thread) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid thread: %w", err)
	}
	if err := s.ensureReady(ctx); err != nil {
		return err
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to serialize thread: %w", err)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	err = upsertJSON(ctx, s.db,
		`INSERT INTO corkboard_threads (id, session_id, data) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data`,
		t.ID, t.SessionID, data)
	if err != nil {
		return fmt.Errorf("failed to write thread: %w", err)
	}
	return nil
}

// GetThread retrieves a thread by id. Returns ErrNotFound if absent.
func (s *PostgresStore) GetThread(ctx context.Context, sessionID, id string) (*board.Thread, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM corkboard_threads WHERE id = $1 AND session_id = $2`, id, sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("thread %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read thread: %w", err)
	}
	var t board.Thread
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to deserialize thread: %w", err)
	}
	return &t, nil
}

// UpdateThread replaces a thread row, comments included.
func (s *PostgresStore) UpdateThread(ctx context.Context, t *board.Thread) error {
	return s.CreateThread(ctx, t)
}

// DeleteThread removes a thread row.
func (s *PostgresStore) DeleteThread(ctx context.Context, sessionID, id string) error {
	if err := s.ensureReady(ctx); err != nil {
		return err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM corkboard_threads WHERE id = $1 AND session_id = $2`, id, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete thread: %w", err)
	}
	return nil
}

// ListThreads returns a session's threads in unspecified order.
func (s *PostgresStore) ListThreads(ctx context.Context, sessionID string) ([]board.Thread, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM corkboard_threads WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	defer rows.Close()

	var threads []board.Thread
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan thread row: %w", err)
		}
		var t board.Thread
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("failed to deserialize thread: %w", err)
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

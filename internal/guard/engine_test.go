package guard

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corkboard/corkboard/internal/auth"
	"github.com/corkboard/corkboard/internal/persist"
	"github.com/corkboard/corkboard/pkg/board"
	"github.com/corkboard/corkboard/pkg/wire"
)

// setupTestEngine creates a guard engine over a miniredis-backed store
// with a session and two members: "creator" joined first, "member"
// second. Events are fed through handle directly; the pub/sub loop is
// exercised in the transport tests.
func setupTestEngine(t *testing.T) (*Engine, *persist.RedisStore, string) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	store := persist.NewRedisStore(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	sessionID := uuid.New().String()
	now := time.Now().UTC()
	require.NoError(t, store.CreateSession(ctx, &board.Session{
		ID:           sessionID,
		Name:         "retro",
		CreatedAt:    now,
		LastActiveAt: now,
		CreatedBy:    "creator",
	}))

	engine := NewEngine(nil, store, sessionID)

	require.NoError(t, engine.handle(ctx, &wire.UserJoin{
		Origin:    wire.Origin{ActorID: "creator"},
		VisitorID: "creator",
		Username:  "Ada",
	}))
	require.NoError(t, engine.handle(ctx, &wire.UserJoin{
		Origin:    wire.Origin{ActorID: "member"},
		VisitorID: "member",
		Username:  "Grace",
	}))

	return engine, store, sessionID
}

func cardAddEvent(actor, cardID, sessionID string) *wire.CardAdd {
	return &wire.CardAdd{
		Origin: wire.Origin{ActorID: actor},
		Card: board.Card{
			ID:        cardID,
			SessionID: sessionID,
			Content:   "note",
			Color:     "yellow",
			Width:     board.CardDefaultWidth,
			Height:    board.CardDefaultHeight,
			CreatedBy: actor,
		},
	}
}

func TestHandle_JoinRoles(t *testing.T) {
	_, store, sessionID := setupTestEngine(t)
	ctx := context.Background()

	role, err := store.GetRole(ctx, "creator", sessionID)
	require.NoError(t, err)
	assert.Equal(t, board.RoleCreator, role)

	role, err = store.GetRole(ctx, "member", sessionID)
	require.NoError(t, err)
	assert.Equal(t, board.RoleParticipant, role)
}

func TestHandle_CardLifecycle(t *testing.T) {
	engine, store, sessionID := setupTestEngine(t)
	ctx := context.Background()
	cardID := uuid.New().String()

	t.Run("add persists with derived votes and clamped size", func(t *testing.T) {
		ev := cardAddEvent("member", cardID, sessionID)
		ev.Card.Width = 5000
		ev.Card.Votes = 42 // wire value is never trusted
		require.NoError(t, engine.handle(ctx, ev))

		card, err := store.GetCard(ctx, sessionID, cardID)
		require.NoError(t, err)
		assert.Equal(t, float64(board.CardMaxWidth), card.Width)
		assert.Equal(t, 0, card.Votes)
	})

	t.Run("anyone may move", func(t *testing.T) {
		require.NoError(t, engine.handle(ctx, &wire.CardMove{
			Origin: wire.Origin{ActorID: "creator"},
			ID:     cardID, X: 300, Y: 400,
		}))

		card, err := store.GetCard(ctx, sessionID, cardID)
		require.NoError(t, err)
		assert.Equal(t, 300.0, card.X)
	})

	t.Run("typing by a non-owner non-creator is denied", func(t *testing.T) {
		otherID := uuid.New().String()
		require.NoError(t, engine.handle(ctx, cardAddEvent("creator", otherID, sessionID)))

		err := engine.handle(ctx, &wire.CardTyping{
			Origin: wire.Origin{ActorID: "member"},
			ID:     otherID, Content: "overwritten",
		})
		require.Error(t, err)
		assert.True(t, auth.IsDenied(err))

		card, err := store.GetCard(ctx, sessionID, otherID)
		require.NoError(t, err)
		assert.Equal(t, "note", card.Content, "denied mutation must leave storage untouched")
	})

	t.Run("delete by a non-owner is denied, by the creator allowed", func(t *testing.T) {
		err := engine.handle(ctx, &wire.CardDelete{
			Origin: wire.Origin{ActorID: "member"},
			ID:     cardID,
		})
		// cardID was created by member, so member may delete it; make a
		// card member does not own.
		require.NoError(t, err)

		victimID := uuid.New().String()
		require.NoError(t, engine.handle(ctx, cardAddEvent("creator", victimID, sessionID)))

		err = engine.handle(ctx, &wire.CardDelete{
			Origin: wire.Origin{ActorID: "member"},
			ID:     victimID,
		})
		require.Error(t, err)
		assert.True(t, auth.IsDenied(err))

		require.NoError(t, engine.handle(ctx, &wire.CardDelete{
			Origin: wire.Origin{ActorID: "creator"},
			ID:     victimID,
		}))
		_, err = store.GetCard(ctx, sessionID, victimID)
		assert.True(t, persist.IsNotFound(err))
	})
}

func TestHandle_SelfVoteDenied(t *testing.T) {
	engine, store, sessionID := setupTestEngine(t)
	ctx := context.Background()
	cardID := uuid.New().String()
	require.NoError(t, engine.handle(ctx, cardAddEvent("member", cardID, sessionID)))

	err := engine.handle(ctx, &wire.CardVote{
		Origin:  wire.Origin{ActorID: "member"},
		ID:      cardID,
		VotedBy: []string{"member"},
	})
	require.Error(t, err)
	assert.True(t, auth.IsDenied(err))

	require.NoError(t, engine.handle(ctx, &wire.CardVote{
		Origin:  wire.Origin{ActorID: "creator"},
		ID:      cardID,
		Votes:   99,
		VotedBy: []string{"creator"},
	}))

	card, err := store.GetCard(ctx, sessionID, cardID)
	require.NoError(t, err)
	assert.Equal(t, 1, card.Votes, "votes derive from the voter set, never the wire value")
}

func TestHandle_LockFreezesSession(t *testing.T) {
	engine, store, sessionID := setupTestEngine(t)
	ctx := context.Background()

	t.Run("participant cannot lock", func(t *testing.T) {
		err := engine.handle(ctx, &wire.SessionSettings{
			Origin: wire.Origin{ActorID: "member"},
			Locked: true,
		})
		require.Error(t, err)
		assert.True(t, auth.IsDenied(err))
	})

	require.NoError(t, engine.handle(ctx, &wire.SessionSettings{
		Origin: wire.Origin{ActorID: "creator"},
		Locked: true,
	}))
	sess, err := store.GetSession(ctx, sessionID)
	require.NoError(t, err)
	require.True(t, sess.Locked)

	t.Run("locked session refuses content from everyone", func(t *testing.T) {
		err := engine.handle(ctx, cardAddEvent("member", uuid.New().String(), sessionID))
		assert.True(t, auth.IsDenied(err))

		err = engine.handle(ctx, cardAddEvent("creator", uuid.New().String(), sessionID))
		assert.True(t, auth.IsDenied(err))
	})

	t.Run("creator can still rename and unlock", func(t *testing.T) {
		require.NoError(t, engine.handle(ctx, &wire.SessionRename{
			Origin:  wire.Origin{ActorID: "creator"},
			NewName: "sprint 12",
		}))
		require.NoError(t, engine.handle(ctx, &wire.SessionSettings{
			Origin: wire.Origin{ActorID: "creator"},
			Locked: false,
		}))

		sess, err := store.GetSession(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, "sprint 12", sess.Name)
		assert.False(t, sess.Locked)
	})
}

func TestHandle_UnknownActorRejected(t *testing.T) {
	engine, _, sessionID := setupTestEngine(t)

	// An actor with no membership record has no role; nothing persists.
	err := engine.handle(context.Background(), cardAddEvent("stranger", uuid.New().String(), sessionID))
	require.Error(t, err)
	assert.False(t, auth.IsDenied(err))
}

func TestHandle_CommentCascade(t *testing.T) {
	engine, store, sessionID := setupTestEngine(t)
	ctx := context.Background()

	threadID := uuid.New().String()
	x, y := 10.0, 20.0
	require.NoError(t, engine.handle(ctx, &wire.ThreadAdd{
		Origin: wire.Origin{ActorID: "member"},
		Thread: board.Thread{
			ID:        threadID,
			SessionID: sessionID,
			CreatedBy: "member",
			X:         &x,
			Y:         &y,
			Comments:  []board.Comment{},
			CreatedAt: time.Now().UTC(),
		},
	}))

	c1 := board.Comment{ID: uuid.New().String(), ThreadID: threadID, CreatedBy: "member", Content: "first"}
	c2 := board.Comment{ID: uuid.New().String(), ThreadID: threadID, CreatedBy: "creator", Content: "second"}
	require.NoError(t, engine.handle(ctx, &wire.CommentAdd{
		Origin: wire.Origin{ActorID: "member"}, ThreadID: threadID, Comment: c1,
	}))
	require.NoError(t, engine.handle(ctx, &wire.CommentAdd{
		Origin: wire.Origin{ActorID: "creator"}, ThreadID: threadID, Comment: c2,
	}))

	t.Run("author-only comment edits", func(t *testing.T) {
		err := engine.handle(ctx, &wire.CommentUpdate{
			Origin:   wire.Origin{ActorID: "member"},
			ThreadID: threadID, CommentID: c2.ID, Content: "hijacked",
		})
		require.Error(t, err)
		assert.True(t, auth.IsDenied(err))
	})

	t.Run("deleting down to zero comments removes the thread", func(t *testing.T) {
		require.NoError(t, engine.handle(ctx, &wire.CommentDelete{
			Origin:   wire.Origin{ActorID: "creator"},
			ThreadID: threadID, CommentID: c2.ID,
		}))
		thread, err := store.GetThread(ctx, sessionID, threadID)
		require.NoError(t, err)
		assert.Len(t, thread.Comments, 1)

		require.NoError(t, engine.handle(ctx, &wire.CommentDelete{
			Origin:   wire.Origin{ActorID: "member"},
			ThreadID: threadID, CommentID: c1.ID,
		}))
		_, err = store.GetThread(ctx, sessionID, threadID)
		assert.True(t, persist.IsNotFound(err))
	})
}

func TestHandle_SyncTrafficNotPersisted(t *testing.T) {
	engine, store, sessionID := setupTestEngine(t)
	ctx := context.Background()

	// Snapshot and presence traffic is informational; the durable
	// record only changes through gated mutation events.
	require.NoError(t, engine.handle(ctx, &wire.CardsSync{
		Origin: wire.Origin{ActorID: "member"},
		Cards:  []board.Card{cardAddEvent("member", uuid.New().String(), sessionID).Card},
	}))
	require.NoError(t, engine.handle(ctx, &wire.CardEditors{
		Origin: wire.Origin{ActorID: "member"},
		ID:     "whatever", Editing: true,
	}))

	cards, err := store.ListCards(ctx, sessionID)
	require.NoError(t, err)
	assert.Empty(t, cards)
}

// TestHandle_AgreesWithLocalGate replays a scripted sequence through
// the authoritative gate and checks every verdict against what a
// client's local gate would produce from the same session, role and
// entity. The two must never disagree.
func TestHandle_AgreesWithLocalGate(t *testing.T) {
	engine, store, sessionID := setupTestEngine(t)
	ctx := context.Background()

	creatorCard := uuid.New().String()
	memberCard := uuid.New().String()
	require.NoError(t, engine.handle(ctx, cardAddEvent("creator", creatorCard, sessionID)))
	require.NoError(t, engine.handle(ctx, cardAddEvent("member", memberCard, sessionID)))

	steps := []struct {
		name   string
		actor  string
		cap    auth.Capability
		cardID string
		event  wire.Event
	}{
		{"member moves creator card", "member", auth.CapMoveCard, creatorCard,
			&wire.CardMove{Origin: wire.Origin{ActorID: "member"}, ID: creatorCard, X: 10, Y: 10}},
		{"member edits creator card", "member", auth.CapEditCard, creatorCard,
			&wire.CardUpdate{Origin: wire.Origin{ActorID: "member"}, Card: board.Card{ID: creatorCard, Content: "hijack"}}},
		{"member votes own card", "member", auth.CapVote, memberCard,
			&wire.CardVote{Origin: wire.Origin{ActorID: "member"}, ID: memberCard, VotedBy: []string{"member"}}},
		{"member toggles lock", "member", auth.CapToggleLock, "",
			&wire.SessionSettings{Origin: wire.Origin{ActorID: "member"}, Locked: true}},
		{"creator locks", "creator", auth.CapToggleLock, "",
			&wire.SessionSettings{Origin: wire.Origin{ActorID: "creator"}, Locked: true}},
		{"member adds card while locked", "member", auth.CapAddCard, "",
			cardAddEvent("member", uuid.New().String(), sessionID)},
		{"creator edits own card while locked", "creator", auth.CapEditCard, creatorCard,
			&wire.CardUpdate{Origin: wire.Origin{ActorID: "creator"}, Card: board.Card{ID: creatorCard, Content: "still frozen"}}},
		{"creator renames session while locked", "creator", auth.CapRenameSession, "",
			&wire.SessionRename{Origin: wire.Origin{ActorID: "creator"}, NewName: "retro v2"}},
		{"creator unlocks", "creator", auth.CapToggleLock, "",
			&wire.SessionSettings{Origin: wire.Origin{ActorID: "creator"}, Locked: false}},
	}

	for _, step := range steps {
		t.Run(step.name, func(t *testing.T) {
			sess, err := store.GetSession(ctx, sessionID)
			require.NoError(t, err)
			role, err := store.GetRole(ctx, step.actor, sessionID)
			require.NoError(t, err)

			req := auth.Request{Session: sess, ActorID: step.actor, Role: role}
			if step.cardID != "" {
				card, err := store.GetCard(ctx, sessionID, step.cardID)
				require.NoError(t, err)
				req.Card = card
			}
			local := auth.Check(step.cap, req)

			authoritative := engine.handle(ctx, step.event)
			if local == nil {
				assert.NoError(t, authoritative)
				return
			}
			require.True(t, auth.IsDenied(authoritative))
			assert.Equal(t, local.(*auth.DeniedError).Reason, authoritative.(*auth.DeniedError).Reason)
		})
	}
}

func TestHandle_TouchesSessionActivity(t *testing.T) {
	engine, store, sessionID := setupTestEngine(t)
	ctx := context.Background()

	before, err := store.GetSession(ctx, sessionID)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, engine.handle(ctx, cardAddEvent("member", uuid.New().String(), sessionID)))

	after, err := store.GetSession(ctx, sessionID)
	require.NoError(t, err)
	assert.True(t, after.LastActiveAt.After(before.LastActiveAt))

	members, err := store.ListParticipants(ctx, sessionID)
	require.NoError(t, err)
	for _, m := range members {
		if m.UserID == "member" {
			assert.True(t, m.LastActiveAt.After(before.LastActiveAt))
		}
	}
}

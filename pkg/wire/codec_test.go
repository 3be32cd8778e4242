package wire

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corkboard/corkboard/pkg/board"
)

func TestEncode(t *testing.T) {
	t.Run("injects type tag and actor stamp", func(t *testing.T) {
		ev := &CardMove{
			Origin: Origin{ActorID: "user-a"},
			ID:     "card-1",
			X:      120,
			Y:      340,
		}

		payload, err := Encode(ev)
		require.NoError(t, err)

		var fields map[string]interface{}
		require.NoError(t, json.Unmarshal(payload, &fields))
		assert.Equal(t, "card:move", fields["type"])
		assert.Equal(t, "user-a", fields["actor"])
		assert.Equal(t, 120.0, fields["x"])
	})

	t.Run("rejects event without actor stamp", func(t *testing.T) {
		_, err := Encode(&CardDelete{ID: "card-1"})
		assert.ErrorIs(t, err, ErrMissingActor)
	})
}

func TestDecode(t *testing.T) {
	t.Run("round-trips a typed event", func(t *testing.T) {
		original := &CardVote{
			Origin:  Origin{ActorID: "user-b"},
			ID:      "card-1",
			Votes:   2,
			VotedBy: []string{"user-a", "user-c"},
		}

		payload, err := Encode(original)
		require.NoError(t, err)

		decoded, err := Decode(payload)
		require.NoError(t, err)

		vote, ok := decoded.(*CardVote)
		require.True(t, ok, "expected *CardVote, got %T", decoded)
		assert.Equal(t, "user-b", vote.Actor())
		assert.Equal(t, 2, vote.Votes)
		assert.Equal(t, []string{"user-a", "user-c"}, vote.VotedBy)
	})

	t.Run("round-trips a card payload", func(t *testing.T) {
		original := &CardAdd{
			Origin: Origin{ActorID: "user-a"},
			Card: board.Card{
				ID:        "11111111-1111-1111-1111-111111111111",
				SessionID: "22222222-2222-2222-2222-222222222222",
				Content:   "discuss throttling",
				Color:     "blue",
				Width:     board.CardDefaultWidth,
				Height:    board.CardDefaultHeight,
				CreatedBy: "user-a",
			},
		}

		payload, err := Encode(original)
		require.NoError(t, err)

		decoded, err := Decode(payload)
		require.NoError(t, err)

		add, ok := decoded.(*CardAdd)
		require.True(t, ok)
		assert.Equal(t, original.Card.ID, add.Card.ID)
		assert.Equal(t, original.Card.Content, add.Card.Content)
	})

	t.Run("unknown tag yields ErrUnknownType", func(t *testing.T) {
		_, err := Decode([]byte(`{"type":"card:fold","actor":"user-a"}`))
		assert.ErrorIs(t, err, ErrUnknownType)
	})

	t.Run("missing actor yields ErrMissingActor", func(t *testing.T) {
		_, err := Decode([]byte(`{"type":"card:delete","id":"card-1"}`))
		assert.ErrorIs(t, err, ErrMissingActor)
	})

	t.Run("malformed payload yields error", func(t *testing.T) {
		_, err := Decode([]byte(`{not json`))
		assert.Error(t, err)
		assert.False(t, errors.Is(err, ErrUnknownType))
	})
}

// TestDecoders_CoverAllTags tests that every tag constant has a decoder
// whose factory produces an event reporting that same tag.
func TestDecoders_CoverAllTags(t *testing.T) {
	tags := []string{
		TypeCardAdd, TypeCardUpdate, TypeCardMove, TypeCardResize,
		TypeCardTyping, TypeCardColor, TypeCardDelete, TypeCardVote,
		TypeCardReact, TypeCardEditors, TypeCardsSync, TypeCardsCluster,
		TypeUserJoin, TypeUserRename,
		TypeSessionRename, TypeSessionSettings,
		TypeThreadAdd, TypeThreadMove, TypeThreadAttach, TypeThreadDetach,
		TypeThreadResolve, TypeThreadDelete, TypeThreadsSync,
		TypeCommentAdd, TypeCommentUpdate, TypeCommentDelete,
	}

	for _, tag := range tags {
		factory, ok := decoders[tag]
		require.True(t, ok, "no decoder registered for %q", tag)
		assert.Equal(t, tag, factory().Tag())
	}
}

func TestEventsChannel(t *testing.T) {
	assert.Equal(t, "corkboard:abc123:events", EventsChannel("abc123"))
}

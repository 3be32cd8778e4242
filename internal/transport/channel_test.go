package transport

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corkboard/corkboard/pkg/wire"
)

// setupTestChannel creates a channel connected to a miniredis instance
func setupTestChannel(t *testing.T) (*Channel, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	ch, err := NewChannel(&redis.Options{Addr: mr.Addr()}, "test-session")
	require.NoError(t, err)
	t.Cleanup(func() { ch.Close() })

	return ch, mr
}

func TestNewChannel(t *testing.T) {
	t.Run("creates channel successfully", func(t *testing.T) {
		ch, _ := setupTestChannel(t)
		assert.NotNil(t, ch)
		assert.Equal(t, "test-session", ch.SessionID())
	})

	t.Run("rejects empty session id", func(t *testing.T) {
		_, err := NewChannel(&redis.Options{Addr: "localhost:6379"}, "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "session id cannot be empty")
	})
}

func TestPing(t *testing.T) {
	ch, _ := setupTestChannel(t)
	assert.NoError(t, ch.Ping(context.Background()))
}

func TestSendAndSubscribe(t *testing.T) {
	ch, _ := setupTestChannel(t)
	ctx := context.Background()

	sub, err := ch.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	sent := &wire.CardMove{
		Origin: wire.Origin{ActorID: "user-a"},
		ID:     "card-1",
		X:      120,
		Y:      340,
	}
	require.NoError(t, ch.Send(ctx, sent))

	select {
	case ev := <-sub.Events():
		move, ok := ev.(*wire.CardMove)
		require.True(t, ok, "expected *wire.CardMove, got %T", ev)
		assert.Equal(t, "user-a", move.Actor())
		assert.Equal(t, 120.0, move.X)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSend_RejectsUnstampedEvent(t *testing.T) {
	ch, _ := setupTestChannel(t)

	err := ch.Send(context.Background(), &wire.CardDelete{ID: "card-1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, wire.ErrMissingActor)
}

func TestSubscribe_SkipsUndecodablePayloads(t *testing.T) {
	ch, mr := setupTestChannel(t)
	ctx := context.Background()

	sub, err := ch.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	channelName := wire.EventsChannel("test-session")

	// Unknown tag, then unstamped payload, then a good event. The
	// subscription surfaces the first two on Errors and keeps going.
	mr.Publish(channelName, `{"type":"card:fold","actor":"user-a"}`)
	mr.Publish(channelName, `{"type":"card:delete","id":"card-1"}`)
	require.NoError(t, ch.Send(ctx, &wire.CardDelete{
		Origin: wire.Origin{ActorID: "user-a"},
		ID:     "card-2",
	}))

	var errCount int
	var gotEvent bool
	deadline := time.After(2 * time.Second)
	for !gotEvent || errCount < 2 {
		select {
		case ev := <-sub.Events():
			del, ok := ev.(*wire.CardDelete)
			require.True(t, ok)
			assert.Equal(t, "card-2", del.ID)
			gotEvent = true
		case err := <-sub.Errors():
			assert.Error(t, err)
			errCount++
		case <-deadline:
			t.Fatalf("timed out: gotEvent=%v errCount=%d", gotEvent, errCount)
		}
	}
}

func TestSubscription_Close(t *testing.T) {
	ch, _ := setupTestChannel(t)

	sub, err := ch.Subscribe(context.Background())
	require.NoError(t, err)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close()) // idempotent

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok, "events channel should be closed")
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed after Close")
	}
}

func TestSubscribe_ContextCancellation(t *testing.T) {
	ch, _ := setupTestChannel(t)

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := ch.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	cancel()

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok, "events channel should close on context cancellation")
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed after context cancellation")
	}
}

package throttle

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects scheduler sends in order, safely across goroutines.
type recorder struct {
	mu    sync.Mutex
	sends []send
}

type send struct {
	key   string
	value interface{}
}

func (r *recorder) record(key string, value interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sends = append(r.sends, send{key, value})
}

func (r *recorder) snapshot() []send {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]send(nil), r.sends...)
}

func TestScheduler_CoalescesBurst(t *testing.T) {
	rec := &recorder{}
	s := NewScheduler(20*time.Millisecond, rec.record)
	defer s.Close()

	// A burst of samples inside one window yields exactly one send
	// carrying the last sample.
	for i := 1; i <= 10; i++ {
		s.Schedule("card-1:move", i)
	}

	assert.Eventually(t, func() bool {
		return len(rec.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	sends := rec.snapshot()
	require.Len(t, sends, 1)
	assert.Equal(t, "card-1:move", sends[0].key)
	assert.Equal(t, 10, sends[0].value)

	// The key is idle again once the window fired, so nothing else
	// arrives.
	time.Sleep(40 * time.Millisecond)
	assert.Len(t, rec.snapshot(), 1)
}

func TestScheduler_KeysAreIndependent(t *testing.T) {
	rec := &recorder{}
	s := NewScheduler(20*time.Millisecond, rec.record)
	defer s.Close()

	s.Schedule("card-1:move", "a")
	s.Schedule("card-2:move", "b")
	s.Schedule("card-1:resize", "c")

	assert.Eventually(t, func() bool {
		return len(rec.snapshot()) == 3
	}, time.Second, 5*time.Millisecond)

	seen := map[string]interface{}{}
	for _, snd := range rec.snapshot() {
		seen[snd.key] = snd.value
	}
	assert.Equal(t, "a", seen["card-1:move"])
	assert.Equal(t, "b", seen["card-2:move"])
	assert.Equal(t, "c", seen["card-1:resize"])
}

func TestScheduler_FlushDeliversImmediately(t *testing.T) {
	rec := &recorder{}
	s := NewScheduler(time.Hour, rec.record) // window long enough to never fire
	defer s.Close()

	s.Schedule("card-1:typing", "draft one")
	s.Schedule("card-1:typing", "draft two")
	s.Flush("card-1:typing")

	sends := rec.snapshot()
	require.Len(t, sends, 1)
	assert.Equal(t, "draft two", sends[0].value)

	// Flush on an idle key is a no-op.
	s.Flush("card-1:typing")
	assert.Len(t, rec.snapshot(), 1)
}

func TestScheduler_CloseFlushesPending(t *testing.T) {
	rec := &recorder{}
	s := NewScheduler(time.Hour, rec.record)

	s.Schedule("card-1:move", 1)
	s.Schedule("card-2:move", 2)
	s.Close()

	assert.Len(t, rec.snapshot(), 2)

	// Schedule after Close is dropped; Close is idempotent.
	s.Schedule("card-3:move", 3)
	s.Close()
	assert.Len(t, rec.snapshot(), 2)
}

func TestNewScheduler_DefaultWindow(t *testing.T) {
	s := NewScheduler(0, func(string, interface{}) {})
	defer s.Close()
	assert.Equal(t, DefaultWindow, s.window)
}

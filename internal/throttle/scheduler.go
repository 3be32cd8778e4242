// Package throttle coalesces high-frequency mutation samples into a
// bounded-rate emission stream. Continuous gestures (drag, resize,
// keystroke typing) feed one sample per input event; the scheduler
// guarantees at most one send per key per window, always carrying the
// most recent sample, with a trailing flush so the final value of a
// gesture is never dropped.
package throttle

import (
	"sync"
	"time"
)

// DefaultWindow is the coalescing window used when no override is given.
const DefaultWindow = 100 * time.Millisecond

// SendFunc delivers a coalesced value for a key. It is called from the
// scheduler's timer goroutines and must be safe for concurrent use.
type SendFunc func(key string, value interface{})

// Scheduler performs per-key trailing-edge coalescing. Keys are fully
// independent: a pending send for one key never delays another.
type Scheduler struct {
	window time.Duration
	send   SendFunc

	mu      sync.Mutex
	pending map[string]*pendingSend
	closed  bool
}

type pendingSend struct {
	timer *time.Timer
	value interface{}
}

// NewScheduler creates a scheduler with the given window and send
// callback. A non-positive window falls back to DefaultWindow.
func NewScheduler(window time.Duration, send SendFunc) *Scheduler {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Scheduler{
		window:  window,
		send:    send,
		pending: make(map[string]*pendingSend),
	}
}

// Schedule records a sample for key. The first sample for an idle key
// arms that key's timer; samples arriving before the timer fires
// replace the pending value. When the timer fires, the latest value is
// sent and the key returns to idle, so a burst of K samples inside one
// window produces exactly one send carrying the last sample.
func (s *Scheduler) Schedule(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if p, ok := s.pending[key]; ok {
		p.value = value
		return
	}

	p := &pendingSend{value: value}
	p.timer = time.AfterFunc(s.window, func() { s.fire(key) })
	s.pending[key] = p
}

// fire delivers the pending value for key, if any, and clears the slot.
func (s *Scheduler) fire(key string) {
	s.mu.Lock()
	p, ok := s.pending[key]
	if ok {
		delete(s.pending, key)
	}
	s.mu.Unlock()

	if ok {
		s.send(key, p.value)
	}
}

// Flush sends key's pending value immediately, if one exists, and
// cancels its timer. Used when a gesture ends and the caller wants the
// final value on the wire without waiting out the window.
func (s *Scheduler) Flush(key string) {
	s.mu.Lock()
	p, ok := s.pending[key]
	if ok {
		p.timer.Stop()
		delete(s.pending, key)
	}
	s.mu.Unlock()

	if ok {
		s.send(key, p.value)
	}
}

// Close flushes every pending key and stops the scheduler. Schedule
// calls after Close are dropped. Safe to call multiple times.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	remaining := s.pending
	s.pending = make(map[string]*pendingSend)
	s.mu.Unlock()

	for key, p := range remaining {
		p.timer.Stop()
		s.send(key, p.value)
	}
}

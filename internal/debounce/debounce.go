// Package debounce suppresses repeat events for the same key inside a
// cooldown window.
//
// A key is emitted when it has never been emitted, or when its last emission
// is strictly older than the window. The check and the update happen as one
// atomic step per key, so two near-simultaneous detections cannot both pass.
package debounce

import (
	"context"
	"sync"
	"time"
)

// Debouncer decides whether an event for key observed at now should go through.
type Debouncer interface {
	ShouldEmit(ctx context.Context, key string, now time.Time) (bool, error)
}

// Memory keeps last-emission times in a mutex-guarded map owned by the
// instance. The map only shrinks through Evict.
type Memory struct {
	window time.Duration

	mu   sync.Mutex
	last map[string]time.Time
}

// NewMemory creates an in-process debouncer with the given cooldown.
func NewMemory(window time.Duration) *Memory {
	return &Memory{window: window, last: make(map[string]time.Time)}
}

// Window returns the cooldown.
func (m *Memory) Window() time.Duration { return m.window }

// ShouldEmit records now for key and returns true, unless key was emitted
// within the window. It never fails.
func (m *Memory) ShouldEmit(_ context.Context, key string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.last[key]; ok && now.Sub(prev) <= m.window {
		return false, nil
	}
	m.last[key] = now
	return true, nil
}

// Evict drops keys whose last emission is before cutoff and returns how many
// were removed.
func (m *Memory) Evict(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, t := range m.last {
		if t.Before(cutoff) {
			delete(m.last, k)
			n++
		}
	}
	return n
}

// Len reports the number of tracked keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.last)
}

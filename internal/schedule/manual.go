package schedule

import (
	"sync"
	"time"
)

// Manual is a Scheduler whose callbacks only run when Fire is called.
// Tests use it to drive deadlines deterministically.
type Manual struct {
	mu      sync.Mutex
	pending map[Key]manualEntry
}

type manualEntry struct {
	after time.Duration
	fn    func()
}

func NewManual() *Manual {
	return &Manual{pending: make(map[Key]manualEntry)}
}

func (m *Manual) Schedule(key Key, after time.Duration, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[key] = manualEntry{after: after, fn: fn}
}

func (m *Manual) Cancel(key Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[key]
	delete(m.pending, key)
	return ok
}

func (m *Manual) CancelGame(gameID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.pending {
		if key.GameID == gameID {
			delete(m.pending, key)
		}
	}
}

// Fire runs the callback for key if it is still pending.
func (m *Manual) Fire(key Key) bool {
	m.mu.Lock()
	entry, ok := m.pending[key]
	delete(m.pending, key)
	m.mu.Unlock()
	if !ok {
		return false
	}
	entry.fn()
	return true
}

// Keys returns the pending keys of a game.
func (m *Manual) Keys(gameID string) []Key {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []Key
	for key := range m.pending {
		if key.GameID == gameID {
			keys = append(keys, key)
		}
	}
	return keys
}

// After returns the delay a pending key was scheduled with.
func (m *Manual) After(key Key) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.pending[key]
	return entry.after, ok
}

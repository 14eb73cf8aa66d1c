// Package schedule runs one-shot callbacks keyed by game and round number.
package schedule

import (
	"sync"
	"time"
)

// Key identifies the deadline of one round of one game.
type Key struct {
	GameID string
	Round  uint64
}

// Scheduler schedules cancellable one-shot callbacks. A callback runs at most
// once and never after Cancel returned for its key.
type Scheduler interface {
	Schedule(key Key, after time.Duration, fn func())
	Cancel(key Key) bool
	CancelGame(gameID string)
}

type timerEntry struct {
	timer *time.Timer
}

// TimerScheduler is the production Scheduler backed by time.AfterFunc.
type TimerScheduler struct {
	mu     sync.Mutex
	timers map[Key]*timerEntry
}

func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{timers: make(map[Key]*timerEntry)}
}

// Schedule replaces any pending callback under the same key.
func (s *TimerScheduler) Schedule(key Key, after time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.timers[key]; ok {
		prev.timer.Stop()
	}
	entry := &timerEntry{}
	s.timers[key] = entry
	entry.timer = time.AfterFunc(after, func() {
		s.mu.Lock()
		if s.timers[key] != entry {
			s.mu.Unlock()
			return
		}
		delete(s.timers, key)
		s.mu.Unlock()
		fn()
	})
}

func (s *TimerScheduler) Cancel(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.timers[key]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(s.timers, key)
	return true
}

// CancelGame drops every pending callback of a game.
func (s *TimerScheduler) CancelGame(gameID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, entry := range s.timers {
		if key.GameID == gameID {
			entry.timer.Stop()
			delete(s.timers, key)
		}
	}
}

// Pending reports how many callbacks are waiting.
func (s *TimerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

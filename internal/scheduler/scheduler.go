package scheduler

import (
	"sync"
	"time"
)

// Scheduler runs at most one pending task per key. Scheduling a key that
// already has a pending task replaces it; a terminal-state transition calls
// Cancel so the timer never fires at all. The function itself must still
// re-check entity state when it runs, since Cancel can lose the race with a
// firing timer.
type Scheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func New() *Scheduler {
	return &Scheduler{timers: make(map[string]*time.Timer)}
}

// Schedule arms fn to run after delay, replacing any pending task for key.
func (s *Scheduler) Schedule(key string, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[key]; ok {
		t.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.timers[key] == timer {
			delete(s.timers, key)
		}
		s.mu.Unlock()
		fn()
	})
	s.timers[key] = timer
}

// Cancel stops the pending task for key, if any. Returns true when a task was
// actually pending.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.timers[key]
	if !ok {
		return false
	}
	delete(s.timers, key)
	return t.Stop()
}

// Pending reports whether key currently has a scheduled task.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[key]
	return ok
}

// Stop cancels everything; used on shutdown.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, t := range s.timers {
		t.Stop()
		delete(s.timers, k)
	}
}

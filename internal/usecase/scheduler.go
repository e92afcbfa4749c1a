package usecase

import (
	"sync"
	"time"
)

// scheduler owns delayed actions so teardown can cancel every pending timer.
type scheduler struct {
	mu     sync.Mutex
	nextID uint64
	timers map[uint64]*time.Timer
}

func newScheduler() *scheduler {
	return &scheduler{timers: make(map[uint64]*time.Timer)}
}

// after runs fn once d elapses unless cancelled first. The returned func cancels it.
func (s *scheduler) after(d time.Duration, fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.timers[id] = time.AfterFunc(d, func() {
		if !s.take(id) {
			return
		}
		fn()
	})
	return func() { s.cancel(id) }
}

func (s *scheduler) cancel(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.timers[id]; ok {
		timer.Stop()
		delete(s.timers, id)
	}
}

func (s *scheduler) cancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
}

func (s *scheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// take claims a fired timer; false means it was cancelled in the meantime.
func (s *scheduler) take(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.timers[id]; !ok {
		return false
	}
	delete(s.timers, id)
	return true
}

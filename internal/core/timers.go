package core

import (
	"sync"
	"time"
)

// Clock abstracts time so scanners and expiry timers can be driven in tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

type realClock struct{}

// RealClock returns a Clock backed by the time package.
func RealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// timerSet owns every pending engine timer so that they can all be cancelled
// together on dispose.
type timerSet struct {
	clock  Clock
	mu     sync.Mutex
	timers map[uint64]Timer
	nextID uint64
	closed bool
}

func newTimerSet(clock Clock) *timerSet {
	return &timerSet{clock: clock, timers: make(map[uint64]Timer)}
}

// after schedules fn and returns a cancel function. After closeAll it is a
// no-op and fn never runs.
func (s *timerSet) after(d time.Duration, fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return func() {}
	}

	s.nextID++
	id := s.nextID
	s.timers[id] = s.clock.AfterFunc(d, func() {
		s.mu.Lock()
		_, live := s.timers[id]
		delete(s.timers, id)
		s.mu.Unlock()
		if live {
			fn()
		}
	})

	return func() {
		s.mu.Lock()
		t, ok := s.timers[id]
		delete(s.timers, id)
		s.mu.Unlock()
		if ok {
			t.Stop()
		}
	}
}

// pending returns the number of scheduled timers.
func (s *timerSet) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// closeAll stops every pending timer and refuses new ones.
func (s *timerSet) closeAll() {
	s.mu.Lock()
	timers := s.timers
	s.timers = make(map[uint64]Timer)
	s.closed = true
	s.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
}

package shutdown

import (
	"sync"
)

// SignalCounter implements "first signal cancels, second signal forces".
// onForce runs once, when the count first reaches forceAfter.
type SignalCounter struct {
	mu         sync.Mutex
	count      int
	forceAfter int
	forced     bool
	onForce    func()
}

// NewSignalCounter creates a counter that calls onForce at forceAfter signals.
func NewSignalCounter(forceAfter int, onForce func()) *SignalCounter {
	return &SignalCounter{forceAfter: forceAfter, onForce: onForce}
}

// Increment records a signal and returns the new count.
func (s *SignalCounter) Increment() int {
	s.mu.Lock()
	s.count++
	count := s.count
	fire := count >= s.forceAfter && !s.forced && s.onForce != nil
	if fire {
		s.forced = true
	}
	onForce := s.onForce
	s.mu.Unlock()

	if fire {
		onForce()
	}
	return count
}

// Count returns the number of signals seen.
func (s *SignalCounter) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

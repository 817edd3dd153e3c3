package poller

import (
	"sync"

	"golang.org/x/time/rate"
)

// SlotManager bounds the number of attempts in flight.
//
// The bound starts at the configured concurrency and can only shrink, never
// below one. An optional rate limiter caps how many attempts are dispatched
// per second on top of the in-flight bound.
type SlotManager struct {
	mu       sync.Mutex
	max      int
	inFlight int
	limiter  *rate.Limiter
}

// NewSlotManager returns a manager with the given bound. max below one is
// raised to one. limiter may be nil.
func NewSlotManager(max int, limiter *rate.Limiter) *SlotManager {
	if max < 1 {
		max = 1
	}
	return &SlotManager{max: max, limiter: limiter}
}

// Available returns how many attempts may start now: max(0, max - inFlight).
func (m *SlotManager) Available() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return max(0, m.max-m.inFlight)
}

// Acquire takes one slot. It returns false when the bound is reached or the
// rate limiter has no token.
func (m *SlotManager) Acquire() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight >= m.max {
		return false
	}
	if m.limiter != nil && !m.limiter.Allow() {
		return false
	}
	m.inFlight++
	return true
}

// Release returns one slot.
func (m *SlotManager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight > 0 {
		m.inFlight--
	}
}

// Shrink lowers the bound by one. It returns the new bound and false when
// the bound is already one.
func (m *SlotManager) Shrink() (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.max <= 1 {
		return m.max, false
	}
	m.max--
	return m.max, true
}

// Max returns the current bound.
func (m *SlotManager) Max() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.max
}

// InFlight returns the number of held slots.
func (m *SlotManager) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight
}

// Package clock abstracts wall-clock time so that forecast expiry and
// long-horizon resets can be tested deterministically.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Real is a Clock backed by time.Now.
type Real struct{}

// Now returns the current system time.
func (Real) Now() time.Time {
	return time.Now()
}

// Mock is a manually advanced Clock. It is safe for concurrent use.
type Mock struct {
	mu      sync.Mutex
	current time.Time
}

// NewMock creates a Mock set to t. A zero t starts at a fixed, non-zero instant.
func NewMock(t time.Time) *Mock {
	if t.IsZero() {
		t = time.Unix(1000000000, 0)
	}
	return &Mock{current: t}
}

// Now returns the mock's current time.
func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Advance moves the clock forward. Panics on negative durations.
func (m *Mock) Advance(d time.Duration) {
	if d < 0 {
		panic("clock.Mock.Advance: duration must be non-negative")
	}
	m.mu.Lock()
	m.current = m.current.Add(d)
	m.mu.Unlock()
}

// OrReal returns c, or Real when c is nil.
func OrReal(c Clock) Clock {
	if c == nil {
		return Real{}
	}
	return c
}

// Package clock provides an injectable time source so that expiry
// comparisons, received-date defaults and audit timestamps can be
// controlled in tests instead of reading the system clock directly.
package clock

import "time"

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// System returns a Clock backed by the real system clock (UTC).
func System() Clock {
	return systemClock{}
}

// Fixed is a Clock pinned to a single instant. Advance moves it forward.
type Fixed struct {
	now time.Time
}

// NewFixed returns a Fixed clock pinned to t.
func NewFixed(t time.Time) *Fixed {
	return &Fixed{now: t}
}

// Now returns the pinned instant.
func (f *Fixed) Now() time.Time {
	return f.now
}

// Advance moves the pinned instant forward by d.
func (f *Fixed) Advance(d time.Duration) {
	f.now = f.now.Add(d)
}

// Set pins the clock to a new instant.
func (f *Fixed) Set(t time.Time) {
	f.now = t
}

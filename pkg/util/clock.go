package util

import "time"

// Clock abstracts scheduling time so expiry sweeps and lock timeouts can be
// driven by tests without real sleeps.
type Clock interface {
	// After fires once d has elapsed, like time.After.
	After(d time.Duration) <-chan time.Time
	// Now returns the current wall-clock time.
	Now() time.Time
}

// RealClock delegates to the time package.
type RealClock struct{}

func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (RealClock) Now() time.Time                         { return time.Now() }

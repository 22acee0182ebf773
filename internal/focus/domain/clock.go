package domain

import "time"

// Clock provides wall-clock time. Timers derive remaining time from Now on
// every check instead of counting down in memory.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the standard time package.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time { return time.Now() }

// Package clock supplies wall-clock sources for components that reason about freshness.
package clock

import "time"

// System reads the real wall clock in UTC.
type System struct{}

// Now returns the current UTC instant.
func (System) Now() time.Time {
	return time.Now().UTC()
}

// Func adapts a plain function to the Clock interfaces used across the service.
type Func func() time.Time

// Now calls f.
func (f Func) Now() time.Time {
	return f()
}

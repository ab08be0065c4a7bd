// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock implements impact.Clock. Times are UTC and truncated to microseconds,
// the resolution of a Postgres timestamptz, so a stored entity reads back
// equal to the value that was written.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

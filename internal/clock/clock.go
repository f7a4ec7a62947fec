// Package clock abstracts time so timer-driven pacing can be tested
// deterministically.
//
// Production code takes a Clock instead of calling time.Now or
// time.AfterFunc directly. Real() returns the standard library behavior;
// Fake() returns a clock that only moves when Advance is called.
package clock

import "time"

// Clock is the subset of the time package the dialer relies on.
type Clock interface {
	// Now returns the current time. Real clocks carry a monotonic reading,
	// so Sub between two Now values is immune to wall-clock jumps.
	Now() time.Time

	// Since is shorthand for Now().Sub(t).
	Since(t time.Time) time.Duration

	// AfterFunc calls f once d has elapsed. The returned Timer cancels
	// the pending call.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop prevents the call. Returns false if it already fired or was
	// stopped.
	Stop() bool
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time                  { return time.Now() }
func (realClock) Since(t time.Time) time.Duration { return time.Since(t) }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Package clock lets shards, heartbeats and rate budgets wait on time
// without binding to the wall clock, so tests can drive them manually.
package clock

import "time"

// Clock is the subset of the time package used by the gateway.
type Clock interface {
	Now() time.Time

	// After returns a channel that receives once d has elapsed.
	After(d time.Duration) <-chan time.Time

	// AfterFunc calls f once d has elapsed. The returned Timer can cancel it.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker panics when d is not positive, matching time.NewTicker.
	NewTicker(d time.Duration) *Ticker
}

// Ticker delivers ticks on C. Ticks are dropped when the reader lags behind.
type Ticker struct {
	C <-chan time.Time

	stop  func()
	reset func(time.Duration)
}

func (t *Ticker) Stop() { t.stop() }

func (t *Ticker) Reset(d time.Duration) { t.reset(d) }

// Timer is a pending AfterFunc call.
type Timer struct {
	stop func() bool
}

// Stop reports whether the call was prevented from running.
func (t *Timer) Stop() bool { return t.stop() }

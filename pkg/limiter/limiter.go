package limiter

import (
	"context"
	"sync"
	"time"

	"github.com/WelcomerTeam/Crust/pkg/clock"
)

// DurationLimiter allows an operation to run limit times per duration.
type DurationLimiter struct {
	clock clock.Clock

	mu        sync.Mutex
	limit     int32
	duration  time.Duration
	resetsAt  time.Time
	available int32
}

// NewDurationLimiter creates a DurationLimiter whose window starts at the
// first Wait call.
func NewDurationLimiter(clk clock.Clock, limit int32, duration time.Duration) *DurationLimiter {
	return &DurationLimiter{
		clock:    clk,
		limit:    limit,
		duration: duration,
	}
}

// Wait blocks until a slot is free in the current window, or ctx is done.
func (l *DurationLimiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()

		now := l.clock.Now()

		if !now.Before(l.resetsAt) {
			l.resetsAt = now.Add(l.duration)
			l.available = l.limit
		}

		if l.available > 0 {
			l.available--
			l.mu.Unlock()

			return nil
		}

		wait := l.resetsAt.Sub(now)
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.clock.After(wait):
		}
	}
}

// Available returns the slots left in the current window.
func (l *DurationLimiter) Available() int32 {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.clock.Now().Before(l.resetsAt) {
		return l.limit
	}

	return l.available
}

// Reset starts a new window from now with the given slots remaining.
func (l *DurationLimiter) Reset(available int32, resetAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.available = available
	l.resetsAt = l.clock.Now().Add(resetAfter)
}

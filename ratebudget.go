package crust

import (
	"context"
	"time"

	"github.com/WelcomerTeam/Crust/pkg/clock"
	"github.com/WelcomerTeam/Crust/pkg/limiter"
)

// SessionStartWindow is how long the gateway's session start budget lasts
// once it has been refilled.
const SessionStartWindow = 24 * time.Hour

// RateBudget is the process wide allowance of new gateway sessions. Every
// connection attempt takes one; when none remain, Acquire blocks until the
// window resets.
type RateBudget struct {
	total   int32
	limiter *limiter.DurationLimiter
}

// NewRateBudget creates a budget from the session start limit returned by
// GET /gateway/bot.
func NewRateBudget(clk clock.Clock, limit SessionStartLimit) *RateBudget {
	budget := &RateBudget{
		total:   limit.Total,
		limiter: limiter.NewDurationLimiter(clk, limit.Total, SessionStartWindow),
	}

	budget.limiter.Reset(limit.Remaining, time.Duration(limit.ResetAfter)*time.Millisecond)

	return budget
}

// Acquire takes one connection attempt from the budget.
func (b *RateBudget) Acquire(ctx context.Context) error {
	return b.limiter.Wait(ctx)
}

func (b *RateBudget) Remaining() int32 {
	return b.limiter.Available()
}

func (b *RateBudget) Total() int32 {
	return b.total
}

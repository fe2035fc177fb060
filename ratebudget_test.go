package crust_test

import (
	"context"
	"testing"
	"time"

	crust "github.com/WelcomerTeam/Crust"
	"github.com/WelcomerTeam/Crust/pkg/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateBudgetAcquire(t *testing.T) {
	t.Parallel()

	fc := clock.NewFake(epoch)
	budget := crust.NewRateBudget(fc, crust.SessionStartLimit{Total: 1000, Remaining: 2, ResetAfter: 60_000})

	assert.Equal(t, int32(1000), budget.Total())
	assert.Equal(t, int32(2), budget.Remaining())

	require.NoError(t, budget.Acquire(context.Background()))
	require.NoError(t, budget.Acquire(context.Background()))
	assert.Equal(t, int32(0), budget.Remaining())

	acquired := make(chan error, 1)

	go func() {
		acquired <- budget.Acquire(context.Background())
	}()

	fc.WaitForTimers(1)
	fc.Advance(time.Minute - time.Millisecond)

	select {
	case <-acquired:
		require.FailNow(t, "acquired from an exhausted budget")
	case <-time.After(20 * time.Millisecond):
	}

	fc.Advance(time.Millisecond)

	select {
	case err := <-acquired:
		require.NoError(t, err)
	case <-time.After(waitTimeout):
		require.FailNow(t, "timed out waiting for the budget to reset")
	}

	assert.Equal(t, int32(999), budget.Remaining())
}

func TestRateBudgetAcquireCanceled(t *testing.T) {
	t.Parallel()

	fc := clock.NewFake(epoch)
	budget := crust.NewRateBudget(fc, crust.SessionStartLimit{Total: 1000, Remaining: 0, ResetAfter: 60_000})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, budget.Acquire(ctx), context.Canceled)
}

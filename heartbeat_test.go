package crust_test

import (
	"context"
	"testing"
	"time"

	crust "github.com/WelcomerTeam/Crust"
	"github.com/WelcomerTeam/Crust/pkg/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/goleak"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type heartbeatRecorder struct {
	sent   chan struct{}
	missed *atomic.Int32
}

func newHeartbeatRecorder() *heartbeatRecorder {
	return &heartbeatRecorder{
		sent:   make(chan struct{}, 16),
		missed: atomic.NewInt32(0),
	}
}

func (r *heartbeatRecorder) send(context.Context) error {
	r.sent <- struct{}{}

	return nil
}

func (r *heartbeatRecorder) miss() {
	r.missed.Inc()
}

func TestHeartbeaterSendsAndDetectsMiss(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	fc := clock.NewFake(epoch)
	recorder := newHeartbeatRecorder()
	h := crust.NewHeartbeater(fc, zerolog.Nop(), recorder.send, recorder.miss)

	require.NoError(t, h.Start(context.Background(), 41250*time.Millisecond))
	assert.Equal(t, 41250*time.Millisecond, h.Interval())

	fc.Advance(41250 * time.Millisecond)
	<-recorder.sent

	fc.Advance(time.Second)
	h.Ack()
	assert.Equal(t, time.Second, h.Latency.Load())

	fc.Advance(40250 * time.Millisecond)
	<-recorder.sent

	// Nothing acknowledges the second heartbeat.
	fc.Advance(41250 * time.Millisecond)

	require.Eventually(t, func() bool { return recorder.missed.Load() == 1 }, time.Second, time.Millisecond)
	assert.False(t, h.Active.Load())
	assert.Len(t, recorder.sent, 0)
}

func TestHeartbeaterRestartAndStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	fc := clock.NewFake(epoch)
	recorder := newHeartbeatRecorder()
	h := crust.NewHeartbeater(fc, zerolog.Nop(), recorder.send, recorder.miss)

	h.Stop()

	require.NoError(t, h.Start(context.Background(), time.Second))
	require.NoError(t, h.Start(context.Background(), 2*time.Second))
	assert.Equal(t, 1, fc.Pending())

	fc.Advance(time.Second)
	assert.Len(t, recorder.sent, 0)

	fc.Advance(time.Second)
	<-recorder.sent

	h.Stop()
	h.Stop()

	assert.Equal(t, 0, fc.Pending())
	assert.Equal(t, time.Duration(0), h.Interval())

	fc.Advance(10 * time.Second)
	assert.Len(t, recorder.sent, 0)
	assert.Equal(t, int32(0), recorder.missed.Load())
}

func TestHeartbeaterRejectsInvalidInterval(t *testing.T) {
	t.Parallel()

	h := crust.NewHeartbeater(clock.NewFake(epoch), zerolog.Nop(), nil, nil)

	assert.ErrorIs(t, h.Start(context.Background(), 0), crust.ErrShardInvalidHeartbeatInterval)
	assert.False(t, h.Active.Load())
}

package crust

import (
	"context"
	"sync"
	"time"

	"github.com/WelcomerTeam/Crust/pkg/clock"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// Heartbeater keeps a connection alive on the interval given by Hello and
// reports a connection whose previous heartbeat was never acknowledged.
type Heartbeater struct {
	Logger zerolog.Logger

	clock  clock.Clock
	send   func(ctx context.Context) error
	onMiss func()

	mu       sync.Mutex
	interval time.Duration
	ticker   *clock.Ticker
	stop     chan struct{}

	Active            *atomic.Bool
	LastHeartbeatAck  *atomic.Time
	LastHeartbeatSent *atomic.Time
	Latency           *atomic.Duration

	acknowledged *atomic.Bool
}

// NewHeartbeater creates a stopped Heartbeater. send writes a heartbeat frame,
// onMiss is called once when a tick finds the last heartbeat unacknowledged.
func NewHeartbeater(clk clock.Clock, logger zerolog.Logger, send func(ctx context.Context) error, onMiss func()) *Heartbeater {
	return &Heartbeater{
		Logger: logger,

		clock:  clk,
		send:   send,
		onMiss: onMiss,

		Active:            atomic.NewBool(false),
		LastHeartbeatAck:  &atomic.Time{},
		LastHeartbeatSent: &atomic.Time{},
		Latency:           atomic.NewDuration(0),

		acknowledged: atomic.NewBool(true),
	}
}

// Start begins heartbeating every interval, replacing a running loop.
func (h *Heartbeater) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return ErrShardInvalidHeartbeatInterval
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.stopLocked()

	now := h.clock.Now()
	h.LastHeartbeatAck.Store(now)
	h.LastHeartbeatSent.Store(now)
	h.acknowledged.Store(true)

	h.interval = interval
	h.ticker = h.clock.NewTicker(interval)
	h.stop = make(chan struct{})
	h.Active.Store(true)

	go h.run(ctx, h.ticker, h.stop)

	return nil
}

// Stop cancels the ticker. It is safe to call at any time and does not wait
// for the loop to exit.
func (h *Heartbeater) Stop() {
	h.mu.Lock()
	h.stopLocked()
	h.mu.Unlock()
}

func (h *Heartbeater) stopLocked() {
	if h.stop == nil {
		return
	}

	close(h.stop)
	h.ticker.Stop()

	h.stop = nil
	h.ticker = nil
	h.Active.Store(false)
}

// stopIf stops the loop owning stop, leaving a newer loop running.
func (h *Heartbeater) stopIf(stop chan struct{}) {
	h.mu.Lock()
	if h.stop == stop {
		h.stopLocked()
	}
	h.mu.Unlock()
}

// Interval returns the interval of the running loop, or zero.
func (h *Heartbeater) Interval() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stop == nil {
		return 0
	}

	return h.interval
}

// Ack records a heartbeat acknowledgement.
func (h *Heartbeater) Ack() {
	now := h.clock.Now()

	h.acknowledged.Store(true)
	h.LastHeartbeatAck.Store(now)
	h.Latency.Store(now.Sub(h.LastHeartbeatSent.Load()))
}

// Beat sends a heartbeat straight away without touching the ack state.
func (h *Heartbeater) Beat(ctx context.Context) error {
	h.LastHeartbeatSent.Store(h.clock.Now())

	return h.send(ctx)
}

func (h *Heartbeater) run(ctx context.Context, ticker *clock.Ticker, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			h.stopIf(stop)

			return
		case <-ticker.C:
			select {
			case <-stop:
				return
			default:
			}

			if !h.acknowledged.Load() {
				h.Logger.Warn().
					Time("last_sent", h.LastHeartbeatSent.Load()).
					Time("last_ack", h.LastHeartbeatAck.Load()).
					Msg("Heartbeat was not acknowledged")

				h.stopIf(stop)
				h.onMiss()

				return
			}

			h.acknowledged.Store(false)

			if err := h.Beat(ctx); err != nil {
				h.Logger.Error().Err(err).Msg("Failed to send heartbeat")
			}
		}
	}
}

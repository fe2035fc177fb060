package crust_test

import (
	"context"
	"errors"
	"testing"

	crust "github.com/WelcomerTeam/Crust"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusEmit(t *testing.T) {
	t.Parallel()

	bus := crust.NewBus()
	defer bus.Close()

	events := bus.Subscribe(1)

	bus.Emit("HELLO", 1)

	assert.Equal(t, crust.BusEvent{Name: "HELLO", Data: 1}, <-events)

	bus.Unsubscribe(events)

	_, ok := <-events
	assert.False(t, ok)
}

func TestBusCall(t *testing.T) {
	t.Parallel()

	bus := crust.NewBus()
	defer bus.Close()

	_, err := bus.Call(context.Background(), "guild_count", nil)
	require.ErrorIs(t, err, crust.ErrNoCommunicationHandler)

	bus.Handle("guild_count", func(_ context.Context, args any) (any, error) {
		return args.(int) * 2, nil
	})

	result, err := bus.Call(context.Background(), "guild_count", 21)
	require.NoError(t, err)
	assert.Equal(t, 42, result)

	bus.Handle("guild_count", nil)

	_, err = bus.Call(context.Background(), "guild_count", 21)
	require.ErrorIs(t, err, crust.ErrNoCommunicationHandler)
}

func TestLocalRelay(t *testing.T) {
	t.Parallel()

	bus := crust.NewBus()
	defer bus.Close()

	var disconnected websocket.StatusCode

	relay := crust.NewLocalRelay(bus, func(_ context.Context, code websocket.StatusCode) error {
		disconnected = code

		return nil
	})

	events := bus.Subscribe(1)

	// Leaving an aggregate emits nothing, so the first event is the ready one.
	require.NoError(t, relay.NotifyStateChange(context.Background(), crust.SessionStateConnecting, ""))
	require.NoError(t, relay.NotifyStateChange(context.Background(), crust.SessionStateReady, crust.CrustAllShardsReady))
	assert.Equal(t, crust.BusEvent{
		Name: crust.CrustAllShardsReady,
		Data: crust.AggregateStateEvent{State: crust.SessionStateReady},
	}, <-events)

	bus.Handle("ping", func(context.Context, any) (any, error) {
		return "pong", nil
	})

	results, err := relay.RequestBroadcastEvent(context.Background(), "ping", nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"pong"}, results)

	result, err := relay.RequestSendEvent(context.Background(), "ping", 4, nil)
	require.NoError(t, err)
	assert.Equal(t, "pong", result)

	bus.Handle("fail", func(context.Context, any) (any, error) {
		return nil, errors.New("failed")
	})

	_, err = relay.RequestBroadcastEvent(context.Background(), "fail", nil)
	require.EqualError(t, err, "failed")

	require.NoError(t, relay.RequestDisconnectAll(context.Background(), crust.CloseManual))
	assert.Equal(t, crust.CloseManual, disconnected)
}

package relay_test

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	crust "github.com/WelcomerTeam/Crust"
	"github.com/WelcomerTeam/Crust/relay"
	"github.com/coder/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	supervisor *relay.Supervisor
	children   []*relay.Child
	buses      []*crust.Bus
}

// newLink returns both ends of an in-memory pipe pair.
func newLink() (*relay.PipeChannel, *relay.PipeChannel) {
	childReader, supervisorWriter := io.Pipe()
	supervisorReader, childWriter := io.Pipe()

	return relay.NewPipeChannel(childReader, childWriter), relay.NewPipeChannel(supervisorReader, supervisorWriter)
}

func newHarness(t *testing.T, processCount int32) *harness {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	h := &harness{}

	channels := make([]relay.Channel, 0, processCount)
	closers := make([]io.Closer, 0, processCount*2)

	for processID := int32(0); processID < processCount; processID++ {
		childChannel, supervisorChannel := newLink()

		bus := crust.NewBus()
		child := relay.NewChild(zerolog.Nop(), processID, childChannel, bus)

		go child.Run(ctx) //nolint:errcheck

		h.children = append(h.children, child)
		h.buses = append(h.buses, bus)

		channels = append(channels, supervisorChannel)
		closers = append(closers, childChannel)
	}

	h.supervisor = relay.NewSupervisor(zerolog.Nop(), channels)

	go h.supervisor.Run(ctx) //nolint:errcheck

	t.Cleanup(func() {
		cancel()

		_ = h.supervisor.Close()

		for _, closer := range closers {
			_ = closer.Close()
		}
	})

	return h
}

func nextEvent(t *testing.T, events <-chan crust.BusEvent) crust.BusEvent {
	t.Helper()

	select {
	case event := <-events:
		return event
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timed out waiting for bus event")

		return crust.BusEvent{}
	}
}

func TestGlobalEventWaitsForEveryProcess(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 2)
	ctx := context.Background()

	first := h.buses[0].Subscribe(4)
	second := h.buses[1].Subscribe(4)

	require.NoError(t, h.children[0].NotifyStateChange(ctx, crust.SessionStateReady, crust.CrustAllShardsReady))
	require.NoError(t, h.children[1].NotifyStateChange(ctx, crust.SessionStateReady, crust.CrustAllShardsReady))

	for _, events := range []<-chan crust.BusEvent{first, second} {
		event := nextEvent(t, events)

		assert.Equal(t, crust.CrustAllShardsReady, event.Name)
		assert.Equal(t, crust.AggregateStateEvent{State: crust.SessionStateReady}, event.Data)
	}

	require.NoError(t, h.children[0].NotifyStateChange(ctx, crust.SessionStateClosed, crust.CrustAllShardsClosed))
	require.NoError(t, h.children[1].NotifyStateChange(ctx, crust.SessionStateClosed, crust.CrustAllShardsClosed))

	event := nextEvent(t, first)
	assert.Equal(t, crust.CrustAllShardsClosed, event.Name)
	assert.Equal(t, crust.AggregateStateEvent{State: crust.SessionStateClosed}, event.Data)
}

func TestGlobalEventFiresAgainAfterRecovery(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 2)
	ctx := context.Background()

	first := h.buses[0].Subscribe(4)
	second := h.buses[1].Subscribe(4)

	require.NoError(t, h.children[0].NotifyStateChange(ctx, crust.SessionStateReady, crust.CrustAllShardsReady))
	require.NoError(t, h.children[1].NotifyStateChange(ctx, crust.SessionStateReady, crust.CrustAllShardsReady))

	assert.Equal(t, crust.CrustAllShardsReady, nextEvent(t, first).Name)
	assert.Equal(t, crust.CrustAllShardsReady, nextEvent(t, second).Name)

	// Process 0 loses a shard and gets it back.
	require.NoError(t, h.children[0].NotifyStateChange(ctx, crust.SessionStateConnecting, ""))
	require.NoError(t, h.children[0].NotifyStateChange(ctx, crust.SessionStateReady, crust.CrustAllShardsReady))

	for _, events := range []<-chan crust.BusEvent{first, second} {
		event := nextEvent(t, events)

		assert.Equal(t, crust.CrustAllShardsReady, event.Name)
		assert.Equal(t, crust.AggregateStateEvent{State: crust.SessionStateReady}, event.Data)
	}

	select {
	case event := <-first:
		require.FailNow(t, "unexpected bus event", event.Name)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestGlobalEventNeedsAgreement(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 2)
	ctx := context.Background()

	events := h.buses[0].Subscribe(4)

	require.NoError(t, h.children[0].NotifyStateChange(ctx, crust.SessionStateReady, crust.CrustAllShardsReady))
	require.NoError(t, h.children[1].NotifyStateChange(ctx, crust.SessionStateConnecting, ""))

	select {
	case event := <-events:
		require.FailNow(t, "unexpected bus event", event.Name)
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, h.children[1].NotifyStateChange(ctx, crust.SessionStateReady, crust.CrustAllShardsReady))
	assert.Equal(t, crust.CrustAllShardsReady, nextEvent(t, events).Name)
}

func TestSendRoutesToShardOwner(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 2)

	for processID, bus := range h.buses {
		bus.Handle("whoami", func(context.Context, any) (any, error) {
			return fmt.Sprintf("process-%d", processID), nil
		})
	}

	result, err := h.children[0].RequestSendEvent(context.Background(), "whoami", 3, nil)
	require.NoError(t, err)
	assert.Equal(t, "process-1", result)

	result, err = h.children[1].RequestSendEvent(context.Background(), "whoami", 4, nil)
	require.NoError(t, err)
	assert.Equal(t, "process-0", result)
}

func TestSendPassesArguments(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1)

	h.buses[0].Handle("echo", func(_ context.Context, args any) (any, error) {
		return args, nil
	})

	result, err := h.children[0].RequestSendEvent(context.Background(), "echo", 0, map[string]any{"guild_id": "1234"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"guild_id": "1234"}, result)
}

func TestSendReturnsRemoteErrors(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1)

	_, err := h.children[0].RequestSendEvent(context.Background(), "missing", 0, nil)
	require.ErrorIs(t, err, relay.ErrRemote)
	assert.Contains(t, err.Error(), "missing")
}

func TestBroadcastGathersEveryProcess(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3)

	for processID, bus := range h.buses {
		bus.Handle("count", func(context.Context, any) (any, error) {
			return processID, nil
		})
	}

	results, err := h.children[2].RequestBroadcastEvent(context.Background(), "count", nil)
	require.NoError(t, err)
	assert.Equal(t, []any{uint64(0), uint64(1), uint64(2)}, results)
}

func TestDisconnectAllReachesEveryProcess(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 2)

	var (
		mu    sync.Mutex
		codes []websocket.StatusCode
	)

	for _, child := range h.children {
		child.OnDisconnect(func(_ context.Context, code websocket.StatusCode) error {
			mu.Lock()
			defer mu.Unlock()

			codes = append(codes, code)

			return nil
		})
	}

	require.NoError(t, h.children[0].RequestDisconnectAll(context.Background(), crust.CloseManual))

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, []websocket.StatusCode{crust.CloseManual, crust.CloseManual}, codes)
}

func TestRequestsFailOnceChannelCloses(t *testing.T) {
	t.Parallel()

	childChannel, supervisorChannel := newLink()
	child := relay.NewChild(zerolog.Nop(), 0, childChannel, crust.NewBus())

	done := make(chan error, 1)

	go func() {
		done <- child.Run(context.Background())
	}()

	require.NoError(t, supervisorChannel.Close())
	require.NoError(t, <-done)

	_, err := child.RequestSendEvent(context.Background(), "anything", 0, nil)
	require.ErrorIs(t, err, relay.ErrRelayClosed)
}

func TestProcessForShard(t *testing.T) {
	t.Parallel()

	supervisor := relay.NewSupervisor(zerolog.Nop(), make([]relay.Channel, 3))

	assert.Equal(t, int32(3), supervisor.ProcessCount())
	assert.Equal(t, int32(0), supervisor.ProcessForShard(0))
	assert.Equal(t, int32(2), supervisor.ProcessForShard(5))
	assert.Equal(t, int32(1), supervisor.ProcessForShard(7))
}

func TestActionString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "broadcast", relay.ActionBroadcast.String())
	assert.Equal(t, "reply", relay.ActionReply.String())
	assert.Equal(t, "unknown", relay.Action(0).String())
}

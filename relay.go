package crust

import (
	"context"

	"github.com/coder/websocket"
)

// Relay carries aggregate state and application events between processes
// that split one bot's shards. A single process uses LocalRelay.
type Relay interface {
	// NotifyStateChange reports that every local shard reached state. The
	// global event fires once every process has reported the same state. An
	// empty globalEvent reports that the shards left their shared state.
	NotifyStateChange(ctx context.Context, state SessionState, globalEvent string) error

	// RequestBroadcastEvent calls a communication event on every process.
	RequestBroadcastEvent(ctx context.Context, name string, args any) ([]any, error)

	// RequestSendEvent calls a communication event on the process that owns shardID.
	RequestSendEvent(ctx context.Context, name string, shardID int32, args any) (any, error)

	// RequestDisconnectAll closes every shard on every process.
	RequestDisconnectAll(ctx context.Context, code websocket.StatusCode) error
}

// LocalRelay is the Relay of a process that owns all of its shards. Every
// request is answered locally.
type LocalRelay struct {
	bus        *Bus
	disconnect func(ctx context.Context, code websocket.StatusCode) error
}

func NewLocalRelay(bus *Bus, disconnect func(ctx context.Context, code websocket.StatusCode) error) *LocalRelay {
	return &LocalRelay{
		bus:        bus,
		disconnect: disconnect,
	}
}

func (r *LocalRelay) NotifyStateChange(_ context.Context, state SessionState, globalEvent string) error {
	if globalEvent == "" {
		return nil
	}

	r.bus.Emit(globalEvent, AggregateStateEvent{State: state})

	return nil
}

func (r *LocalRelay) RequestBroadcastEvent(ctx context.Context, name string, args any) ([]any, error) {
	result, err := r.bus.Call(ctx, name, args)
	if err != nil {
		return nil, err
	}

	return []any{result}, nil
}

func (r *LocalRelay) RequestSendEvent(ctx context.Context, name string, _ int32, args any) (any, error) {
	return r.bus.Call(ctx, name, args)
}

func (r *LocalRelay) RequestDisconnectAll(ctx context.Context, code websocket.StatusCode) error {
	if r.disconnect == nil {
		return nil
	}

	return r.disconnect(ctx, code)
}

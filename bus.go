package crust

import (
	"context"
	"fmt"
	"sync"

	"github.com/WelcomerTeam/Crust/pkg/broadcast"
)

// BusEvent is a named in-process event.
type BusEvent struct {
	Data any
	Name string
}

// CommunicationHandler answers a named request. Handlers registered on one
// process can be called from another through the Relay.
type CommunicationHandler func(ctx context.Context, args any) (any, error)

// Bus is the process-local event bus. Events are fanned out to subscribers;
// communication events are answered by a single registered handler.
type Bus struct {
	events *broadcast.Server[BusEvent]

	mu       sync.RWMutex
	handlers map[string]CommunicationHandler
}

func NewBus() *Bus {
	return &Bus{
		events:   broadcast.NewServer[BusEvent](),
		handlers: make(map[string]CommunicationHandler),
	}
}

// Emit sends an event to every subscriber. Subscribers that are not keeping
// up miss it.
func (b *Bus) Emit(name string, data any) {
	b.events.Broadcast(BusEvent{Name: name, Data: data})
}

// Subscribe returns a channel receiving every emitted event.
func (b *Bus) Subscribe(buffer int) <-chan BusEvent {
	return b.events.Subscribe(buffer)
}

func (b *Bus) Unsubscribe(channel <-chan BusEvent) {
	b.events.CancelSubscription(channel)
}

// Handle registers the handler for a communication event, replacing any
// existing one.
func (b *Bus) Handle(name string, handler CommunicationHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if handler == nil {
		delete(b.handlers, name)

		return
	}

	b.handlers[name] = handler
}

// Call runs the handler for a communication event.
func (b *Bus) Call(ctx context.Context, name string, args any) (any, error) {
	b.mu.RLock()
	handler, ok := b.handlers[name]
	b.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoCommunicationHandler, name)
	}

	return handler(ctx, args)
}

func (b *Bus) Close() {
	b.events.Close()
}

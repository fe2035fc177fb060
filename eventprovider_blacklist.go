package crust

import (
	"context"
)

// EventProviderWithBlacklist drops events in the event blacklist, passes the
// rest to the next dispatcher and publishes those not in the produce
// blacklist.
type EventProviderWithBlacklist struct {
	next     EventDispatcher
	producer Producer

	eventBlacklist   map[string]struct{}
	produceBlacklist map[string]struct{}
}

// NewEventProviderWithBlacklist wraps next. next and producer may be nil.
func NewEventProviderWithBlacklist(next EventDispatcher, producer Producer, eventBlacklist, produceBlacklist []string) *EventProviderWithBlacklist {
	return &EventProviderWithBlacklist{
		next:     next,
		producer: producer,

		eventBlacklist:   toSet(eventBlacklist),
		produceBlacklist: toSet(produceBlacklist),
	}
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		set[value] = struct{}{}
	}

	return set
}

func (p *EventProviderWithBlacklist) Dispatch(ctx context.Context, shard *Shard, event Event) {
	if _, ok := p.eventBlacklist[event.Name]; ok {
		return
	}

	if p.next != nil {
		p.next.Dispatch(ctx, shard, event)
	}

	if p.producer == nil {
		return
	}

	if _, ok := p.produceBlacklist[event.Name]; ok {
		return
	}

	if err := p.producer.Publish(ctx, shard, newProducedPayload(shard, event)); err != nil {
		shard.Logger.Error().Err(err).Str("event", event.Name).Msg("Failed to publish event")
	}
}

package crust

import (
	"context"
	"fmt"

	"github.com/WelcomerTeam/Crust/crustjson"
	"github.com/WelcomerTeam/Crust/messaging"
)

type Producer interface {
	Publish(ctx context.Context, shard *Shard, payload *ProducedPayload) error
	Close() error
}

// MessagingProducer publishes payloads as JSON through a messaging client,
// using the event name as the channel.
type MessagingProducer struct {
	client messaging.Client
}

func NewMessagingProducer(client messaging.Client) *MessagingProducer {
	return &MessagingProducer{client: client}
}

// NewProducerFromConfiguration connects the configured message queue. It
// returns nil when no producer is configured.
func NewProducerFromConfiguration(ctx context.Context, configuration *Configuration) (*MessagingProducer, error) {
	if configuration.Producer.Type == "" {
		return nil, nil
	}

	client, err := messaging.NewClient(configuration.Producer.Type)
	if err != nil {
		return nil, err
	}

	args := make(map[string]string, len(configuration.Producer.Arguments)+1)
	for key, value := range configuration.Producer.Arguments {
		args[key] = value
	}

	if _, ok := messaging.GetEntry(args, "Channel"); !ok && configuration.Producer.Channel != "" {
		args["Channel"] = configuration.Producer.Channel
	}

	clientName := fmt.Sprintf("%s-%d-%s", configuration.Identifier, configuration.Relay.ProcessID, randomHex(4))

	if err := client.Connect(ctx, clientName, args); err != nil {
		return nil, fmt.Errorf("failed to connect %s producer: %w", client.String(), err)
	}

	return NewMessagingProducer(client), nil
}

func (p *MessagingProducer) Publish(ctx context.Context, _ *Shard, payload *ProducedPayload) error {
	data, err := crustjson.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	return p.client.Publish(ctx, payload.Type, data)
}

func (p *MessagingProducer) Close() error {
	return p.client.Close()
}

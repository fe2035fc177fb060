package messaging

import (
	"context"
	"fmt"
	"strconv"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/stan.go"
)

func init() {
	Register("stan", func() Client { return &StanClient{} })
}

type StanClient struct {
	NatsClient *nats.Conn `json:"-"`
	StanClient stan.Conn  `json:"-"`

	async bool

	channel string
	cluster string
}

func (stanMQ *StanClient) String() string {
	return "stan"
}

func (stanMQ *StanClient) Channel() string {
	return stanMQ.channel
}

func (stanMQ *StanClient) Cluster() string {
	return stanMQ.cluster
}

// Connect takes Address, Cluster, Channel and the optional UseNATSConnection
// and Async.
func (stanMQ *StanClient) Connect(_ context.Context, clientName string, args map[string]string) (err error) {
	address, err := requireEntry("stan", args, "Address")
	if err != nil {
		return err
	}

	stanMQ.cluster, err = requireEntry("stan", args, "Cluster")
	if err != nil {
		return err
	}

	stanMQ.channel, err = requireEntry("stan", args, "Channel")
	if err != nil {
		return err
	}

	useNatsConnection := true

	if value, ok := GetEntry(args, "UseNATSConnection"); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			useNatsConnection = parsed
		}
	}

	if value, ok := GetEntry(args, "Async"); ok {
		stanMQ.async, _ = strconv.ParseBool(value)
	}

	var option stan.Option

	if useNatsConnection {
		stanMQ.NatsClient, err = nats.Connect(address)
		if err != nil {
			return fmt.Errorf("stan connect nats: %w", err)
		}

		option = stan.NatsConn(stanMQ.NatsClient)
	} else {
		option = stan.NatsURL(address)
	}

	stanMQ.StanClient, err = stan.Connect(
		stanMQ.cluster,
		clientName,
		option,
	)
	if err != nil {
		return fmt.Errorf("stan connect stan: %w", err)
	}

	return nil
}

func (stanMQ *StanClient) Publish(_ context.Context, channelName string, data []byte) (err error) {
	subject := stanMQ.channel + "." + channelName

	if stanMQ.async {
		_, err = stanMQ.StanClient.PublishAsync(subject, data, nil)

		return err
	}

	return stanMQ.StanClient.Publish(subject, data)
}

func (stanMQ *StanClient) Close() error {
	var err error

	if stanMQ.StanClient != nil {
		err = stanMQ.StanClient.Close()
	}

	if stanMQ.NatsClient != nil {
		stanMQ.NatsClient.Close()
	}

	return err
}

package messaging

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

func init() {
	Register("jetstream", func() Client { return &JetStreamClient{} })
}

type JetStreamClient struct {
	NatsClient      *nats.Conn          `json:"-"`
	JetStreamClient jetstream.JetStream `json:"-"`
	JetStreamStream jetstream.Stream    `json:"-"`

	channel string
}

func (jetstreamMQ *JetStreamClient) String() string {
	return "jetstream"
}

func (jetstreamMQ *JetStreamClient) Channel() string {
	return jetstreamMQ.channel
}

// Connect takes Address, Channel and the optional UseInterestPolicy.
func (jetstreamMQ *JetStreamClient) Connect(ctx context.Context, clientName string, args map[string]string) error {
	address, err := requireEntry("jetstream", args, "Address")
	if err != nil {
		return err
	}

	jetstreamMQ.channel, err = requireEntry("jetstream", args, "Channel")
	if err != nil {
		return err
	}

	jetstreamMQ.NatsClient, err = nats.Connect(address, nats.Name(clientName))
	if err != nil {
		return fmt.Errorf("jetstream connect nats: %w", err)
	}

	jetstreamMQ.JetStreamClient, err = jetstream.New(jetstreamMQ.NatsClient)
	if err != nil {
		return fmt.Errorf("jetstream new: %w", err)
	}

	retention := jetstream.WorkQueuePolicy

	if value, ok := GetEntry(args, "UseInterestPolicy"); ok {
		if interest, _ := strconv.ParseBool(value); interest {
			retention = jetstream.InterestPolicy
		}
	}

	jetstreamMQ.JetStreamStream, err = jetstreamMQ.JetStreamClient.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:              jetstreamMQ.channel,
		Subjects:          []string{jetstreamMQ.channel + ".*"},
		Retention:         retention,
		Discard:           jetstream.DiscardOld,
		MaxAge:            5 * time.Minute,
		Storage:           jetstream.MemoryStorage,
		MaxMsgsPerSubject: 1_000_000,
		MaxMsgSize:        math.MaxInt32,
		NoAck:             false,
	})
	if err != nil {
		return fmt.Errorf("jetstream create stream: %w", err)
	}

	return nil
}

func (jetstreamMQ *JetStreamClient) Publish(ctx context.Context, channelName string, data []byte) error {
	_, err := jetstreamMQ.JetStreamClient.Publish(
		ctx,
		jetstreamMQ.channel+"."+channelName,
		data,
	)

	return err
}

func (jetstreamMQ *JetStreamClient) Close() error {
	if jetstreamMQ.NatsClient != nil {
		jetstreamMQ.NatsClient.Close()
	}

	return nil
}

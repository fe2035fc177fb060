package messaging

import (
	"context"
	"strconv"

	"github.com/segmentio/kafka-go"
)

func init() {
	Register("kafka", func() Client { return &KafkaClient{} })
}

type KafkaClient struct {
	KafkaClient *kafka.Writer

	channel string
}

func parseKafkaBalancer(balancer string) kafka.Balancer {
	switch balancer {
	case "crc32":
		return &kafka.CRC32Balancer{}
	case "hash":
		return &kafka.Hash{}
	case "murmur2":
		return &kafka.Murmur2Balancer{}
	case "roundrobin":
		return &kafka.RoundRobin{}
	case "leastbytes":
		return &kafka.LeastBytes{}
	default:
		return nil
	}
}

func (kafkaMQ *KafkaClient) String() string {
	return "kafka"
}

func (kafkaMQ *KafkaClient) Channel() string {
	return kafkaMQ.channel
}

// Connect takes Address, Channel and the optional Balancer and Async.
func (kafkaMQ *KafkaClient) Connect(_ context.Context, _ string, args map[string]string) (err error) {
	address, err := requireEntry("kafka", args, "Address")
	if err != nil {
		return err
	}

	kafkaMQ.channel, err = requireEntry("kafka", args, "Channel")
	if err != nil {
		return err
	}

	balancerName, _ := GetEntry(args, "Balancer")
	asyncValue, _ := GetEntry(args, "Async")
	async, _ := strconv.ParseBool(asyncValue)

	kafkaMQ.KafkaClient = &kafka.Writer{
		Addr:     kafka.TCP(address),
		Balancer: parseKafkaBalancer(balancerName),
		Async:    async,
	}

	return nil
}

// Publish writes to the topic named after the channel. The event name is the
// message key so balancers keep one event type on one partition.
func (kafkaMQ *KafkaClient) Publish(ctx context.Context, channelName string, data []byte) error {
	return kafkaMQ.KafkaClient.WriteMessages(
		ctx,
		kafka.Message{
			Topic: kafkaMQ.channel,
			Key:   []byte(channelName),
			Value: data,
		},
	)
}

func (kafkaMQ *KafkaClient) Close() error {
	if kafkaMQ.KafkaClient == nil {
		return nil
	}

	return kafkaMQ.KafkaClient.Close()
}

package crust_test

import (
	"context"
	"testing"

	crust "github.com/WelcomerTeam/Crust"
	"github.com/WelcomerTeam/Crust/crustjson"
	"github.com/WelcomerTeam/Crust/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessagingProducer(t *testing.T) {
	t.Parallel()

	client := &messaging.MemoryClient{}
	producer := crust.NewMessagingProducer(client)

	require.NoError(t, producer.Publish(context.Background(), nil, &crust.ProducedPayload{
		Type:     "MESSAGE_CREATE",
		Data:     []byte(`{"id":"1"}`),
		Sequence: 4,
		Op:       crust.GatewayOpDispatch,
		Metadata: crust.ProducedMetadata{Identifier: "welcomer", Shard: [3]int32{0, 2, 4}},
	}))

	messages := client.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "MESSAGE_CREATE", messages[0].Channel)

	var payload crust.ProducedPayload
	require.NoError(t, crustjson.Unmarshal(messages[0].Data, &payload))

	assert.Equal(t, int64(4), payload.Sequence)
	assert.Equal(t, [3]int32{0, 2, 4}, payload.Metadata.Shard)
	assert.JSONEq(t, `{"id":"1"}`, string(payload.Data))

	require.NoError(t, producer.Close())
}

func TestNewProducerFromConfiguration(t *testing.T) {
	t.Parallel()

	producer, err := crust.NewProducerFromConfiguration(context.Background(), &crust.Configuration{})
	require.NoError(t, err)
	assert.Nil(t, producer)

	producer, err = crust.NewProducerFromConfiguration(context.Background(), &crust.Configuration{
		Producer: crust.ProducerConfiguration{Type: "memory", Channel: "events"},
	})
	require.NoError(t, err)
	require.NotNil(t, producer)

	_, err = crust.NewProducerFromConfiguration(context.Background(), &crust.Configuration{
		Producer: crust.ProducerConfiguration{Type: "carrier-pigeon"},
	})
	require.Error(t, err)
}

package crust

import (
	"github.com/WelcomerTeam/Crust/crustjson"
)

// ProducedPayload is a dispatch event as published to a message queue.
type ProducedPayload struct {
	Type     string               `json:"t"`
	Data     crustjson.RawMessage `json:"d"`
	Sequence int64                `json:"s"`
	Op       GatewayOp            `json:"op"`

	Metadata ProducedMetadata `json:"__metadata"`
}

// ProducedMetadata tells consumers where an event came from.
type ProducedMetadata struct {
	Identifier string `json:"i"`

	// Shard is [process_id, shard_id, shard_count].
	Shard [3]int32 `json:"s"`
}

func newProducedPayload(shard *Shard, event Event) *ProducedPayload {
	return &ProducedPayload{
		Type:     event.Name,
		Data:     event.Data,
		Sequence: event.Sequence,
		Op:       GatewayOpDispatch,
		Metadata: ProducedMetadata{
			Identifier: shard.Manager.Configuration.Identifier,
			Shard: [3]int32{
				shard.Manager.Configuration.Relay.ProcessID,
				shard.ShardID,
				shard.ShardCount,
			},
		},
	}
}

package crust

// Events emitted on the Bus by the Manager.
const (
	CrustShardStatusUpdate = "CRUST_SHARD_STATUS_UPDATE"
	CrustShardReady        = "CRUST_SHARD_READY"

	// Global events raised through the Relay once every shard agrees.
	CrustAllShardsReady  = "CRUST_ALL_SHARDS_READY"
	CrustAllShardsClosed = "CRUST_ALL_SHARDS_CLOSED"
)

type ShardStatusUpdateEvent struct {
	Identifier string       `json:"identifier" cbor:"identifier"`
	ShardID    int32        `json:"shard_id" cbor:"shard_id"`
	State      SessionState `json:"state" cbor:"state"`
}

type ShardReadyEvent struct {
	Identifier string `json:"identifier" cbor:"identifier"`
	ShardID    int32  `json:"shard_id" cbor:"shard_id"`
}

// AggregateStateEvent is the data of CrustAllShardsReady and CrustAllShardsClosed.
type AggregateStateEvent struct {
	State SessionState `json:"state" cbor:"state"`
}

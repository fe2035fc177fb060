package crust

import "errors"

var (
	ErrMissingToken = errors.New("configuration missing token")

	ErrManagerMissingShards = errors.New("manager missing shards")
	ErrManagerStarted       = errors.New("manager already started")

	ErrShardNotFound                 = errors.New("shard not found")
	ErrShardNotConnected             = errors.New("shard not connected")
	ErrShardTerminated               = errors.New("shard terminated")
	ErrShardInvalidHeartbeatInterval = errors.New("shard invalid heartbeat interval")

	ErrUnauthorized = errors.New("invalid token passed")

	ErrNoCommunicationHandler = errors.New("no communication handler registered")
)

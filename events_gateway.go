package crust

import (
	"context"
	"fmt"
	"time"

	"github.com/WelcomerTeam/Crust/crustjson"
	"github.com/tidwall/gjson"
)

type gatewayHandler func(ctx context.Context, sh *Shard, conn *connection, payload *GatewayPayload) error

var gatewayHandlers = make(map[GatewayOp]gatewayHandler)

func registerGatewayHandler(op GatewayOp, handler gatewayHandler) {
	gatewayHandlers[op] = handler
}

func gatewayOpDispatch(ctx context.Context, sh *Shard, conn *connection, payload *GatewayPayload) error {
	sh.mu.Lock()
	if payload.Sequence > sh.sequence {
		sh.sequence = payload.Sequence
	}
	sh.mu.Unlock()

	return sh.onDispatch(ctx, conn, Event{
		Name:     payload.Type,
		Data:     payload.Data,
		Sequence: payload.Sequence,
		Kind:     EventKindFromName(payload.Type),
	})
}

func gatewayOpHeartbeat(ctx context.Context, sh *Shard, _ *connection, _ *GatewayPayload) error {
	if err := sh.heartbeater.Beat(ctx); err != nil {
		return fmt.Errorf("failed to send requested heartbeat: %w", err)
	}

	return nil
}

func gatewayOpReconnect(_ context.Context, sh *Shard, conn *connection, _ *GatewayPayload) error {
	sh.Logger.Info().Msg("Shard has been requested to reconnect")

	sh.requestClose(conn, CloseUnknownError)

	return nil
}

func gatewayOpInvalidSession(_ context.Context, sh *Shard, conn *connection, payload *GatewayPayload) error {
	resumable := gjson.ParseBytes(payload.Data).Bool()

	sh.Logger.Warn().Bool("resumable", resumable).Msg("Shard has received an invalid session")

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sh.conn != conn {
		return nil
	}

	if sh.invalidSessionTimer != nil {
		sh.invalidSessionTimer.Stop()
	}

	sh.invalidSessionTimer = sh.clock.AfterFunc(sh.Manager.Configuration.InvalidSessionWait, func() {
		go sh.reidentify(conn)
	})

	return nil
}

func gatewayOpHello(ctx context.Context, sh *Shard, conn *connection, payload *GatewayPayload) error {
	var hello Hello

	if err := crustjson.Unmarshal(payload.Data, &hello); err != nil {
		return fmt.Errorf("failed to unmarshal hello: %w", err)
	}

	interval := time.Duration(hello.HeartbeatInterval) * time.Millisecond

	if err := sh.heartbeater.Start(ctx, interval); err != nil {
		return err
	}

	sh.Logger.Debug().Dur("heartbeat_interval", interval).Msg("Received hello")

	sh.mu.Lock()
	resuming := sh.pendingResume
	sh.mu.Unlock()

	if resuming {
		return nil
	}

	// Identify may wait a while for its turn, so it must not hold up reads.
	go func() {
		if err := sh.identify(ctx, conn); err != nil {
			sh.Logger.Error().Err(err).Msg("Failed to identify")
		}
	}()

	return nil
}

func gatewayOpHeartbeatAck(_ context.Context, sh *Shard, _ *connection, _ *GatewayPayload) error {
	sh.heartbeater.Ack()

	UpdateGatewayLatency(
		sh.Manager.Configuration.Identifier,
		sh.ShardID,
		float64(sh.heartbeater.Latency.Load().Milliseconds()),
	)

	return nil
}

func init() {
	registerGatewayHandler(GatewayOpDispatch, gatewayOpDispatch)
	registerGatewayHandler(GatewayOpHeartbeat, gatewayOpHeartbeat)
	registerGatewayHandler(GatewayOpReconnect, gatewayOpReconnect)
	registerGatewayHandler(GatewayOpInvalidSession, gatewayOpInvalidSession)
	registerGatewayHandler(GatewayOpHello, gatewayOpHello)
	registerGatewayHandler(GatewayOpHeartbeatACK, gatewayOpHeartbeatAck)
}

package relay

import (
	"context"
	"fmt"

	"github.com/WelcomerTeam/Crust"
	"github.com/coder/websocket"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// Child is the Relay of a process that owns part of a bot's shards. Requests
// go to the supervisor, which answers them from every process.
type Child struct {
	Logger zerolog.Logger

	processID int32
	channel   Channel
	bus       *crust.Bus
	pending   *pending

	disconnect *atomic.Pointer[func(ctx context.Context, code websocket.StatusCode) error]
}

var _ crust.Relay = (*Child)(nil)

func NewChild(logger zerolog.Logger, processID int32, channel Channel, bus *crust.Bus) *Child {
	return &Child{
		Logger: logger.With().Int32("process_id", processID).Logger(),

		processID: processID,
		channel:   channel,
		bus:       bus,
		pending:   newPending(),

		disconnect: atomic.NewPointer[func(ctx context.Context, code websocket.StatusCode) error](nil),
	}
}

// OnDisconnect sets what runs when the supervisor asks every shard to close,
// usually Manager.DisconnectAll.
func (c *Child) OnDisconnect(fn func(ctx context.Context, code websocket.StatusCode) error) {
	c.disconnect.Store(&fn)
}

// Run serves the supervisor until ctx is done or the channel breaks.
// Requests still waiting when it returns fail with ErrRelayClosed.
func (c *Child) Run(ctx context.Context) error {
	defer c.pending.close()

	err := c.channel.Run(ctx, func(envelope Envelope) {
		c.handle(ctx, envelope)
	})
	if err != nil {
		return fmt.Errorf("relay channel failed: %w", err)
	}

	return nil
}

func (c *Child) NotifyStateChange(_ context.Context, state crust.SessionState, globalEvent string) error {
	envelope, err := newEnvelope(ActionShardChangedState, "", StateChange{
		ProcessID:   c.processID,
		State:       state,
		GlobalEvent: globalEvent,
	})
	if err != nil {
		return err
	}

	return c.channel.Send(envelope)
}

func (c *Child) RequestBroadcastEvent(ctx context.Context, name string, args any) ([]any, error) {
	reply, err := c.request(ctx, ActionBroadcast, name, 0, args)
	if err != nil {
		return nil, err
	}

	results := make([]any, 0, len(reply.Results))

	for _, raw := range reply.Results {
		value, err := decodeValue(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode broadcast result: %w", err)
		}

		results = append(results, value)
	}

	return results, nil
}

func (c *Child) RequestSendEvent(ctx context.Context, name string, shardID int32, args any) (any, error) {
	reply, err := c.request(ctx, ActionSend, name, shardID, args)
	if err != nil {
		return nil, err
	}

	return decodeValue(reply.Result)
}

// RequestDisconnectAll returns once every process has closed its shards.
func (c *Child) RequestDisconnectAll(ctx context.Context, code websocket.StatusCode) error {
	envelope, err := newEnvelope(ActionDisconnectAll, "", Disconnect{Code: int(code)})
	if err != nil {
		return err
	}

	_, err = c.pending.request(ctx, c.channel, envelope)

	return err
}

func (c *Child) request(ctx context.Context, action Action, name string, shardID int32, args any) (Reply, error) {
	encoded, err := encodeArgs(args)
	if err != nil {
		return Reply{}, fmt.Errorf("failed to encode arguments: %w", err)
	}

	envelope, err := newEnvelope(action, "", CommunicationRequest{
		Name:    name,
		ShardID: shardID,
		Args:    encoded,
	})
	if err != nil {
		return Reply{}, err
	}

	return c.pending.request(ctx, c.channel, envelope)
}

func (c *Child) handle(ctx context.Context, envelope Envelope) {
	switch envelope.Action {
	case ActionReply:
		var reply Reply

		if err := unmarshal(envelope.Payload, &reply); err != nil {
			c.Logger.Warn().Err(err).Msg("Failed to decode reply")

			return
		}

		c.pending.resolve(envelope.Nonce, reply)
	case ActionEmitBotEvent:
		c.onBotEvent(envelope)
	case ActionEmitCommunicationEvent:
		go c.onCommunicationEvent(ctx, envelope)
	case ActionEmitDisconnect:
		go c.onDisconnect(ctx, envelope)
	default:
		c.Logger.Warn().Str("action", envelope.Action.String()).Msg("Ignoring unexpected relay action")
	}
}

func (c *Child) onBotEvent(envelope Envelope) {
	var event BotEvent

	if err := unmarshal(envelope.Payload, &event); err != nil {
		c.Logger.Warn().Err(err).Msg("Failed to decode bot event")

		return
	}

	switch event.Name {
	case crust.CrustAllShardsReady, crust.CrustAllShardsClosed:
		var aggregate crust.AggregateStateEvent

		if err := unmarshal(event.Data, &aggregate); err != nil {
			c.Logger.Warn().Err(err).Str("event", event.Name).Msg("Failed to decode aggregate state")

			return
		}

		c.bus.Emit(event.Name, aggregate)
	default:
		data, err := decodeValue(event.Data)
		if err != nil {
			c.Logger.Warn().Err(err).Str("event", event.Name).Msg("Failed to decode bot event data")

			return
		}

		c.bus.Emit(event.Name, data)
	}
}

func (c *Child) onCommunicationEvent(ctx context.Context, envelope Envelope) {
	var request CommunicationRequest

	reply := func() Reply {
		if err := unmarshal(envelope.Payload, &request); err != nil {
			return Reply{Error: fmt.Sprintf("failed to decode request: %v", err)}
		}

		args, err := decodeValue(request.Args)
		if err != nil {
			return Reply{Error: fmt.Sprintf("failed to decode arguments: %v", err)}
		}

		return replyFor(c.bus.Call(ctx, request.Name, args))
	}()

	if err := sendReply(c.channel, envelope.Nonce, reply); err != nil {
		c.Logger.Error().Err(err).Str("event", request.Name).Msg("Failed to reply to communication event")
	}
}

func (c *Child) onDisconnect(ctx context.Context, envelope Envelope) {
	var disconnect Disconnect

	reply := func() Reply {
		if err := unmarshal(envelope.Payload, &disconnect); err != nil {
			return Reply{Error: fmt.Sprintf("failed to decode disconnect: %v", err)}
		}

		fn := c.disconnect.Load()
		if fn == nil {
			return Reply{}
		}

		c.Logger.Info().Int("code", disconnect.Code).Msg("Disconnecting shards on request")

		return replyFor(nil, (*fn)(ctx, websocket.StatusCode(disconnect.Code)))
	}()

	if err := sendReply(c.channel, envelope.Nonce, reply); err != nil {
		c.Logger.Error().Err(err).Msg("Failed to reply to disconnect")
	}
}

package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/WelcomerTeam/Crust"
	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Supervisor links the child processes of one bot. It raises the global
// state events once every child agrees and routes requests between them.
type Supervisor struct {
	Logger zerolog.Logger

	channels []Channel
	pending  []*pending

	mu       sync.Mutex
	states   []crust.SessionState
	reported []bool
}

func NewSupervisor(logger zerolog.Logger, channels []Channel) *Supervisor {
	supervisor := &Supervisor{
		Logger: logger,

		channels: channels,
		pending:  make([]*pending, len(channels)),

		states:   make([]crust.SessionState, len(channels)),
		reported: make([]bool, len(channels)),
	}

	for i := range supervisor.pending {
		supervisor.pending[i] = newPending()
	}

	return supervisor
}

// ProcessCount is the number of children.
func (s *Supervisor) ProcessCount() int32 {
	return int32(len(s.channels))
}

// Run serves every child until ctx is done or every channel has closed.
func (s *Supervisor) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	for processID, channel := range s.channels {
		group.Go(func() error {
			defer s.pending[processID].close()

			err := channel.Run(ctx, func(envelope Envelope) {
				s.handle(ctx, int32(processID), envelope)
			})
			if err != nil {
				return fmt.Errorf("channel to process %d failed: %w", processID, err)
			}

			return nil
		})
	}

	return group.Wait()
}

// Close closes the channel to every child.
func (s *Supervisor) Close() error {
	var errs []error

	for _, channel := range s.channels {
		errs = append(errs, channel.Close())
	}

	return errors.Join(errs...)
}

func (s *Supervisor) handle(ctx context.Context, processID int32, envelope Envelope) {
	switch envelope.Action {
	case ActionReply:
		var reply Reply

		if err := unmarshal(envelope.Payload, &reply); err != nil {
			s.Logger.Warn().Err(err).Int32("process_id", processID).Msg("Failed to decode reply")

			return
		}

		s.pending[processID].resolve(envelope.Nonce, reply)
	case ActionShardChangedState:
		var change StateChange

		if err := unmarshal(envelope.Payload, &change); err != nil {
			s.Logger.Warn().Err(err).Int32("process_id", processID).Msg("Failed to decode state change")

			return
		}

		s.onStateChange(processID, change)
	case ActionBroadcast:
		go s.serve(ctx, processID, envelope, s.broadcast)
	case ActionSend:
		go s.serve(ctx, processID, envelope, s.send)
	case ActionDisconnectAll:
		go s.serve(ctx, processID, envelope, s.disconnectAll)
	default:
		s.Logger.Warn().
			Int32("process_id", processID).
			Str("action", envelope.Action.String()).
			Msg("Ignoring unexpected relay action")
	}
}

// serve answers a child's request with the result of fn.
func (s *Supervisor) serve(ctx context.Context, processID int32, envelope Envelope, fn func(ctx context.Context, payload cbor.RawMessage) Reply) {
	reply := fn(ctx, envelope.Payload)

	if err := sendReply(s.channels[processID], envelope.Nonce, reply); err != nil {
		s.Logger.Error().Err(err).Int32("process_id", processID).Msg("Failed to reply")
	}
}

// onStateChange records a child's aggregate state. Children report every
// edge of their own aggregate, so a report that leaves every child in the
// same state raises the global event. A report without a global event only
// records that the child left its previous state.
func (s *Supervisor) onStateChange(processID int32, change StateChange) {
	if processID < 0 || int(processID) >= len(s.states) {
		return
	}

	s.mu.Lock()

	s.states[processID] = change.State
	s.reported[processID] = true

	fire := change.GlobalEvent != ""

	for i, state := range s.states {
		if !s.reported[i] || state != change.State {
			fire = false

			break
		}
	}

	s.mu.Unlock()

	if !fire {
		return
	}

	s.Logger.Info().
		Str("event", change.GlobalEvent).
		Str("state", change.State.String()).
		Msg("Every process reached state")

	if err := s.EmitBotEvent(change.GlobalEvent, crust.AggregateStateEvent{State: change.State}); err != nil {
		s.Logger.Error().Err(err).Str("event", change.GlobalEvent).Msg("Failed to emit global event")
	}
}

// EmitBotEvent emits an event on the bus of every child.
func (s *Supervisor) EmitBotEvent(name string, data any) error {
	encoded, err := encodeArgs(data)
	if err != nil {
		return fmt.Errorf("failed to encode event data: %w", err)
	}

	envelope, err := newEnvelope(ActionEmitBotEvent, "", BotEvent{Name: name, Data: encoded})
	if err != nil {
		return err
	}

	var errs []error

	for _, channel := range s.channels {
		errs = append(errs, channel.Send(envelope))
	}

	return errors.Join(errs...)
}

func (s *Supervisor) broadcast(ctx context.Context, payload cbor.RawMessage) Reply {
	var request CommunicationRequest

	if err := unmarshal(payload, &request); err != nil {
		return Reply{Error: fmt.Sprintf("failed to decode broadcast: %v", err)}
	}

	results := make([]cbor.RawMessage, len(s.channels))

	group, ctx := errgroup.WithContext(ctx)

	for processID := range s.channels {
		group.Go(func() error {
			reply, err := s.communicate(ctx, int32(processID), request)
			if err != nil {
				return fmt.Errorf("process %d: %w", processID, err)
			}

			results[processID] = reply.Result

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return Reply{Error: err.Error()}
	}

	return Reply{Results: results}
}

func (s *Supervisor) send(ctx context.Context, payload cbor.RawMessage) Reply {
	var request CommunicationRequest

	if err := unmarshal(payload, &request); err != nil {
		return Reply{Error: fmt.Sprintf("failed to decode send: %v", err)}
	}

	reply, err := s.communicate(ctx, s.ProcessForShard(request.ShardID), request)
	if err != nil {
		return Reply{Error: err.Error()}
	}

	return Reply{Result: reply.Result}
}

func (s *Supervisor) disconnectAll(ctx context.Context, payload cbor.RawMessage) Reply {
	var disconnect Disconnect

	if err := unmarshal(payload, &disconnect); err != nil {
		return Reply{Error: fmt.Sprintf("failed to decode disconnect: %v", err)}
	}

	if err := s.DisconnectAll(ctx, disconnect.Code); err != nil {
		return Reply{Error: err.Error()}
	}

	return Reply{}
}

// DisconnectAll asks every child to close its shards and waits for them.
func (s *Supervisor) DisconnectAll(ctx context.Context, code int) error {
	group, ctx := errgroup.WithContext(ctx)

	for processID, channel := range s.channels {
		group.Go(func() error {
			envelope, err := newEnvelope(ActionEmitDisconnect, "", Disconnect{Code: code})
			if err != nil {
				return err
			}

			if _, err := s.pending[processID].request(ctx, channel, envelope); err != nil {
				return fmt.Errorf("process %d: %w", processID, err)
			}

			return nil
		})
	}

	return group.Wait()
}

// ProcessForShard returns the child that owns shardID.
func (s *Supervisor) ProcessForShard(shardID int32) int32 {
	count := int32(len(s.channels))
	if count == 0 || shardID < 0 {
		return 0
	}

	return shardID % count
}

func (s *Supervisor) communicate(ctx context.Context, processID int32, request CommunicationRequest) (Reply, error) {
	if processID < 0 || int(processID) >= len(s.channels) {
		return Reply{}, fmt.Errorf("no process %d", processID)
	}

	envelope, err := newEnvelope(ActionEmitCommunicationEvent, "", request)
	if err != nil {
		return Reply{}, err
	}

	return s.pending[processID].request(ctx, s.channels[processID], envelope)
}

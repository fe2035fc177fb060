// Package relay carries aggregate shard state and application requests
// between a supervisor and the child processes that split one bot's shards.
package relay

import (
	"errors"
	"reflect"

	"github.com/WelcomerTeam/Crust"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

var (
	ErrRelayClosed = errors.New("relay is closed")
	ErrRemote      = errors.New("remote process returned an error")
)

// Action is the kind of an envelope.
type Action uint8

const (
	// Child to supervisor.
	ActionBroadcast Action = iota + 1
	ActionSend
	ActionShardChangedState
	ActionDisconnectAll

	// Supervisor to child.
	ActionEmitCommunicationEvent
	ActionEmitBotEvent
	ActionEmitDisconnect

	// Either way, answering the envelope with the same nonce.
	ActionReply
)

func (a Action) String() string {
	switch a {
	case ActionBroadcast:
		return "broadcast"
	case ActionSend:
		return "send"
	case ActionShardChangedState:
		return "shard_changed_state"
	case ActionDisconnectAll:
		return "disconnect_all"
	case ActionEmitCommunicationEvent:
		return "emit_communication_event"
	case ActionEmitBotEvent:
		return "emit_bot_event"
	case ActionEmitDisconnect:
		return "emit_disconnect"
	case ActionReply:
		return "reply"
	default:
		return "unknown"
	}
}

// Envelope is a single relay message.
type Envelope struct {
	Action  Action          `cbor:"1,keyasint"`
	Nonce   string          `cbor:"2,keyasint,omitempty"`
	Payload cbor.RawMessage `cbor:"3,keyasint,omitempty"`
}

// CommunicationRequest asks for a named communication event to be handled.
// ShardID is only used by ActionSend.
type CommunicationRequest struct {
	Name    string          `cbor:"name"`
	ShardID int32           `cbor:"shard_id,omitempty"`
	Args    cbor.RawMessage `cbor:"args,omitempty"`
}

type StateChange struct {
	ProcessID   int32              `cbor:"process_id"`
	State       crust.SessionState `cbor:"state"`
	GlobalEvent string             `cbor:"global_event"`
}

type Disconnect struct {
	Code int `cbor:"code"`
}

type BotEvent struct {
	Name string          `cbor:"name"`
	Data cbor.RawMessage `cbor:"data,omitempty"`
}

// Reply answers a request. Results is filled for broadcasts, Result for
// everything else.
type Reply struct {
	Result  cbor.RawMessage   `cbor:"result,omitempty"`
	Results []cbor.RawMessage `cbor:"results,omitempty"`
	Error   string            `cbor:"error,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("relay: CBOR encoder initialization failed: " + err.Error())
	}

	// Handlers receive arguments as any, so maps must decode with string keys.
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("relay: CBOR decoder initialization failed: " + err.Error())
	}
}

func marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// newEnvelope encodes payload into an envelope. An empty nonce gets a new one.
func newEnvelope(action Action, nonce string, payload any) (Envelope, error) {
	if nonce == "" {
		nonce = uuid.NewString()
	}

	envelope := Envelope{Action: action, Nonce: nonce}

	if payload != nil {
		data, err := marshal(payload)
		if err != nil {
			return Envelope{}, err
		}

		envelope.Payload = data
	}

	return envelope, nil
}

// encodeArgs encodes request arguments. Nil stays empty.
func encodeArgs(args any) (cbor.RawMessage, error) {
	if args == nil {
		return nil, nil
	}

	return marshal(args)
}

// decodeValue decodes a raw value into a generic one.
func decodeValue(raw cbor.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var value any

	if err := unmarshal(raw, &value); err != nil {
		return nil, err
	}

	return value, nil
}

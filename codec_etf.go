//go:build !crust_noetf

package crust

import (
	"errors"
	"fmt"

	"github.com/WelcomerTeam/Crust/crustjson"
	"github.com/WelcomerTeam/Crust/pkg/etf"
	"github.com/coder/websocket"
)

var errMalformedTerm = errors.New("etf frame is not a map")

func init() {
	newBinarySerializer = func() serializer { return etfSerializer{} }
}

type etfSerializer struct{}

func (etfSerializer) encoding() Encoding {
	return EncodingETF
}

func (etfSerializer) messageType() websocket.MessageType {
	return websocket.MessageBinary
}

// marshal goes through JSON first so struct tags decide the field names.
func (etfSerializer) marshal(v any) ([]byte, error) {
	res, err := crustjson.Marshal(v)
	if err != nil {
		return nil, err
	}

	tree, err := crustjson.UnmarshalGeneric(res)
	if err != nil {
		return nil, err
	}

	return etf.Marshal(tree)
}

func (etfSerializer) unmarshal(data []byte, payload *GatewayPayload) error {
	term, err := etf.Unmarshal(data)
	if err != nil {
		return err
	}

	frame, ok := term.(map[string]any)
	if !ok {
		return errMalformedTerm
	}

	if op, ok := frame["op"].(int64); ok {
		payload.Op = GatewayOp(op)
	}

	if sequence, ok := frame["s"].(int64); ok {
		payload.Sequence = sequence
	}

	if eventType, ok := frame["t"].(string); ok {
		payload.Type = eventType
	}

	if data, ok := frame["d"]; ok {
		payload.Data, err = crustjson.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to re-encode data: %w", err)
		}
	}

	return nil
}

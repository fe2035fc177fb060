package crust

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/WelcomerTeam/Crust/crustjson"
	"github.com/coder/websocket"
)

// Encoding is the serialization negotiated with the gateway.
type Encoding string

const (
	EncodingJSON Encoding = "json"
	EncodingETF  Encoding = "etf"
)

// Compression is the transport compression negotiated with the gateway.
type Compression string

const (
	CompressionNone       Compression = ""
	CompressionZlibStream Compression = "zlib-stream"
)

// CodecCapabilities describes which optional codecs were compiled in.
type CodecCapabilities struct {
	BinaryAvailable      bool `json:"binary_available"`
	CompressionAvailable bool `json:"compression_available"`
}

// CodecOptions is what the configuration asks for. Anything not available
// falls back to JSON without compression.
type CodecOptions struct {
	Encoding    Encoding    `json:"encoding" yaml:"encoding"`
	Compression Compression `json:"compression" yaml:"compression"`
}

type serializer interface {
	encoding() Encoding
	messageType() websocket.MessageType
	marshal(v any) ([]byte, error)
	unmarshal(data []byte, payload *GatewayPayload) error
}

type inflater interface {
	// inflate returns the decompressed message once frame completes one,
	// otherwise nil.
	inflate(frame []byte) ([]byte, error)
}

// Filled in by the build tagged codec files.
var (
	newBinarySerializer func() serializer
	newStreamInflater   func() inflater
)

// DetectCodecCapabilities reports the optional codecs in this build.
func DetectCodecCapabilities() CodecCapabilities {
	return CodecCapabilities{
		BinaryAvailable:      newBinarySerializer != nil,
		CompressionAvailable: newStreamInflater != nil,
	}
}

// Codec converts gateway frames to and from their wire form for one
// connection. Encode is safe for concurrent use; Decode keeps stream state
// and must only be called from the goroutine reading the transport.
type Codec struct {
	serializer serializer
	inflater   inflater
}

func NewCodec(capabilities CodecCapabilities, options CodecOptions) *Codec {
	codec := &Codec{serializer: jsonSerializer{}}

	if options.Encoding == EncodingETF && capabilities.BinaryAvailable && newBinarySerializer != nil {
		codec.serializer = newBinarySerializer()
	}

	if options.Compression == CompressionZlibStream && capabilities.CompressionAvailable && newStreamInflater != nil {
		codec.inflater = newStreamInflater()
	}

	return codec
}

func (c *Codec) Encoding() Encoding {
	return c.serializer.encoding()
}

func (c *Codec) Compression() Compression {
	if c.inflater == nil {
		return CompressionNone
	}

	return CompressionZlibStream
}

// QueryValues returns the query parameters for the gateway URL.
func (c *Codec) QueryValues() url.Values {
	values := url.Values{}
	values.Set("v", strconv.Itoa(GatewayVersion))
	values.Set("encoding", string(c.Encoding()))

	if c.inflater != nil {
		values.Set("compress", string(CompressionZlibStream))
	}

	return values
}

// Encode serializes a command. Outgoing frames are never compressed.
func (c *Codec) Encode(op GatewayOp, data any) (websocket.MessageType, []byte, error) {
	res, err := c.serializer.marshal(SentPayload{Op: op, Data: data})
	if err != nil {
		return 0, nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	return c.serializer.messageType(), res, nil
}

// Decode turns a transport message into a frame. It returns a nil payload and
// nil error when the message is only part of a compressed frame.
func (c *Codec) Decode(messageType websocket.MessageType, data []byte) (*GatewayPayload, error) {
	if messageType == websocket.MessageBinary && c.inflater != nil {
		inflated, err := c.inflater.inflate(data)
		if err != nil {
			return nil, fmt.Errorf("failed to inflate message: %w", err)
		}

		if inflated == nil {
			return nil, nil
		}

		data = inflated
	}

	// Frames sent as text are always JSON, even when ETF was requested.
	var ser serializer = jsonSerializer{}
	if messageType == websocket.MessageBinary {
		ser = c.serializer
	}

	payload := &GatewayPayload{}

	if err := ser.unmarshal(data, payload); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}

	return payload, nil
}

type jsonSerializer struct{}

func (jsonSerializer) encoding() Encoding {
	return EncodingJSON
}

func (jsonSerializer) messageType() websocket.MessageType {
	return websocket.MessageText
}

func (jsonSerializer) marshal(v any) ([]byte, error) {
	return crustjson.Marshal(v)
}

func (jsonSerializer) unmarshal(data []byte, payload *GatewayPayload) error {
	return crustjson.Unmarshal(data, payload)
}

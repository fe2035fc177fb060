package crust_test

import (
	"bytes"
	"strings"
	"testing"

	crust "github.com/WelcomerTeam/Crust"
	"github.com/coder/websocket"
	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allCapabilities = crust.CodecCapabilities{BinaryAvailable: true, CompressionAvailable: true}

func TestDetectCodecCapabilities(t *testing.T) {
	t.Parallel()

	assert.Equal(t, allCapabilities, crust.DetectCodecCapabilities())
}

func TestCodecFallback(t *testing.T) {
	t.Parallel()

	codec := crust.NewCodec(crust.CodecCapabilities{}, crust.CodecOptions{
		Encoding:    crust.EncodingETF,
		Compression: crust.CompressionZlibStream,
	})

	assert.Equal(t, crust.EncodingJSON, codec.Encoding())
	assert.Equal(t, crust.CompressionNone, codec.Compression())
	assert.Equal(t, "encoding=json&v=10", codec.QueryValues().Encode())

	messageType, data, err := codec.Encode(crust.GatewayOpHeartbeat, int64(42))
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, messageType)
	assert.JSONEq(t, `{"op":1,"d":42}`, string(data))

	payload, err := codec.Decode(messageType, data)
	require.NoError(t, err)
	assert.Equal(t, crust.GatewayOpHeartbeat, payload.Op)
	assert.Equal(t, "42", string(payload.Data))

	payload, err = codec.Decode(websocket.MessageText, []byte(`{"op":10,"d":{"heartbeat_interval":41250},"s":null,"t":null}`))
	require.NoError(t, err)
	assert.Equal(t, crust.GatewayOpHello, payload.Op)
	assert.JSONEq(t, `{"heartbeat_interval":41250}`, string(payload.Data))
}

func TestCodecDecodeFailure(t *testing.T) {
	t.Parallel()

	codec := crust.NewCodec(allCapabilities, crust.CodecOptions{})

	payload, err := codec.Decode(websocket.MessageText, []byte(`{"op":`))
	assert.Error(t, err)
	assert.Nil(t, payload)
}

func TestCodecETF(t *testing.T) {
	t.Parallel()

	codec := crust.NewCodec(allCapabilities, crust.CodecOptions{Encoding: crust.EncodingETF})
	assert.Equal(t, "encoding=etf&v=10", codec.QueryValues().Encode())

	messageType, data, err := codec.Encode(crust.GatewayOpResume, crust.Resume{
		Token:     "token",
		SessionID: "session",
		Sequence:  1234,
	})
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageBinary, messageType)
	assert.Equal(t, byte(131), data[0])

	payload, err := codec.Decode(messageType, data)
	require.NoError(t, err)
	assert.Equal(t, crust.GatewayOpResume, payload.Op)
	assert.JSONEq(t, `{"token":"token","session_id":"session","seq":1234}`, string(payload.Data))
}

// zlibFrames compresses each message with a sync flush, the way the gateway
// does on a zlib-stream connection.
func zlibFrames(t *testing.T, messages ...string) [][]byte {
	t.Helper()

	var buf bytes.Buffer

	writer := zlib.NewWriter(&buf)
	frames := make([][]byte, 0, len(messages))

	for _, message := range messages {
		_, err := writer.Write([]byte(message))
		require.NoError(t, err)
		require.NoError(t, writer.Flush())

		frames = append(frames, append([]byte(nil), buf.Bytes()...))
		buf.Reset()
	}

	return frames
}

func TestCodecZlibStreamSplitFrames(t *testing.T) {
	t.Parallel()

	codec := crust.NewCodec(allCapabilities, crust.CodecOptions{Compression: crust.CompressionZlibStream})
	assert.Equal(t, "compress=zlib-stream&encoding=json&v=10", codec.QueryValues().Encode())

	guilds := `[` + strings.Repeat(`{"id":"81384788765712384","unavailable":true},`, 50) + `{"id":"1","unavailable":true}]`

	first := `{"op":0,"s":1,"t":"READY","d":{"session_id":"abc","guilds":` + guilds + `}}`
	second := `{"op":0,"s":2,"t":"GUILD_CREATE","d":{"id":"81384788765712384","unavailable":true}}`

	frames := zlibFrames(t, first, second)

	// Split the first message over three transport messages.
	raw := frames[0]
	parts := [][]byte{raw[:5], raw[5 : len(raw)-2], raw[len(raw)-2:]}

	for _, part := range parts[:2] {
		payload, err := codec.Decode(websocket.MessageBinary, part)
		require.NoError(t, err)
		assert.Nil(t, payload)
	}

	payload, err := codec.Decode(websocket.MessageBinary, parts[2])
	require.NoError(t, err)
	require.NotNil(t, payload)
	assert.Equal(t, "READY", payload.Type)
	assert.Equal(t, int64(1), payload.Sequence)

	// The second message back references the first one.
	payload, err = codec.Decode(websocket.MessageBinary, frames[1])
	require.NoError(t, err)
	require.NotNil(t, payload)
	assert.Equal(t, "GUILD_CREATE", payload.Type)
	assert.JSONEq(t, `{"id":"81384788765712384","unavailable":true}`, string(payload.Data))

	// A new connection starts a new stream.
	codec = crust.NewCodec(allCapabilities, crust.CodecOptions{Compression: crust.CompressionZlibStream})

	frames = zlibFrames(t, second)

	payload, err = codec.Decode(websocket.MessageBinary, frames[0])
	require.NoError(t, err)
	require.NotNil(t, payload)
	assert.Equal(t, int64(2), payload.Sequence)
}

package crust

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
)

// WebsocketReadLimit is the largest single message accepted from the gateway.
const WebsocketReadLimit = 512 << 20

// Transport is a single gateway connection. *websocket.Conn satisfies it.
type Transport interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, messageType websocket.MessageType, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// WebsocketDialer dials the gateway over a real websocket.
type WebsocketDialer struct {
	HTTPClient *http.Client
	Header     http.Header
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Transport, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: d.Header,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to websocket: %w", err)
	}

	conn.SetReadLimit(WebsocketReadLimit)

	return conn, nil
}

// closeCodeFromError extracts the close code from a read error. Errors that
// do not carry one are reported as an abnormal closure.
func closeCodeFromError(err error) websocket.StatusCode {
	if code := websocket.CloseStatus(err); code != -1 {
		return code
	}

	return CloseAbnormal
}

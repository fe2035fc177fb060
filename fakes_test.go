package crust_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	crust "github.com/WelcomerTeam/Crust"
	"github.com/WelcomerTeam/Crust/crustjson"
	"github.com/WelcomerTeam/Crust/pkg/clock"
	"github.com/coder/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 5 * time.Second

// sentFrame is a frame a shard wrote.
type sentFrame struct {
	Op   crust.GatewayOp      `json:"op"`
	Data crustjson.RawMessage `json:"d"`
}

// fakeTransport is the gateway end of one connection.
type fakeTransport struct {
	url string

	incoming chan []byte
	written  chan sentFrame

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error

	mu         sync.Mutex
	closeCodes []websocket.StatusCode
}

func newFakeTransport(url string) *fakeTransport {
	return &fakeTransport{
		url:      url,
		incoming: make(chan []byte, 64),
		written:  make(chan sentFrame, 64),
		closed:   make(chan struct{}),
	}
}

func (tr *fakeTransport) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case data := <-tr.incoming:
		return websocket.MessageText, data, nil
	case <-tr.closed:
		return 0, nil, tr.closeErr
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (tr *fakeTransport) Write(_ context.Context, _ websocket.MessageType, data []byte) error {
	select {
	case <-tr.closed:
		return errors.New("transport is closed")
	default:
	}

	var frame sentFrame

	if err := crustjson.Unmarshal(data, &frame); err != nil {
		return err
	}

	tr.written <- frame

	return nil
}

func (tr *fakeTransport) Close(code websocket.StatusCode, _ string) error {
	tr.mu.Lock()
	tr.closeCodes = append(tr.closeCodes, code)
	tr.mu.Unlock()

	tr.shutdown(code)

	return nil
}

// serverClose closes the connection from the gateway's side.
func (tr *fakeTransport) serverClose(code websocket.StatusCode) {
	tr.shutdown(code)
}

func (tr *fakeTransport) shutdown(code websocket.StatusCode) {
	tr.closeOnce.Do(func() {
		tr.closeErr = websocket.CloseError{Code: code}
		close(tr.closed)
	})
}

func (tr *fakeTransport) CloseCodes() []websocket.StatusCode {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	return append([]websocket.StatusCode(nil), tr.closeCodes...)
}

func (tr *fakeTransport) send(t *testing.T, op crust.GatewayOp, data any) {
	t.Helper()

	frame, err := crustjson.Marshal(map[string]any{"op": op, "d": data})
	require.NoError(t, err)

	tr.incoming <- frame
}

func (tr *fakeTransport) sendRaw(data []byte) {
	tr.incoming <- data
}

func (tr *fakeTransport) dispatch(t *testing.T, name string, sequence int64, data any) {
	t.Helper()

	frame, err := crustjson.Marshal(map[string]any{"op": crust.GatewayOpDispatch, "t": name, "s": sequence, "d": data})
	require.NoError(t, err)

	tr.incoming <- frame
}

func (tr *fakeTransport) hello(t *testing.T) {
	t.Helper()

	tr.send(t, crust.GatewayOpHello, map[string]any{"heartbeat_interval": 41250})
}

func (tr *fakeTransport) nextFrame(t *testing.T) sentFrame {
	t.Helper()

	select {
	case frame := <-tr.written:
		return frame
	case <-time.After(waitTimeout):
		require.FailNow(t, "timed out waiting for a frame")

		return sentFrame{}
	}
}

func (tr *fakeTransport) assertNoFrame(t *testing.T) {
	t.Helper()

	select {
	case frame := <-tr.written:
		require.Failf(t, "unexpected frame", "op %d", frame.Op)
	case <-time.After(50 * time.Millisecond):
	}
}

type fakeDialer struct {
	transports chan *fakeTransport

	mu       sync.Mutex
	failures int
	dials    int
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{transports: make(chan *fakeTransport, 16)}
}

// failNext makes the next n dials fail.
func (d *fakeDialer) failNext(n int) {
	d.mu.Lock()
	d.failures = n
	d.mu.Unlock()
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.dials
}

func (d *fakeDialer) Dial(_ context.Context, url string) (crust.Transport, error) {
	d.mu.Lock()
	d.dials++

	if d.failures > 0 {
		d.failures--
		d.mu.Unlock()

		return nil, errors.New("connection refused")
	}
	d.mu.Unlock()

	transport := newFakeTransport(url)
	d.transports <- transport

	return transport, nil
}

func (d *fakeDialer) next(t *testing.T) *fakeTransport {
	t.Helper()

	select {
	case transport := <-d.transports:
		return transport
	case <-time.After(waitTimeout):
		require.FailNow(t, "timed out waiting for a dial")

		return nil
	}
}

func (d *fakeDialer) assertNoDial(t *testing.T) {
	t.Helper()

	select {
	case <-d.transports:
		require.FailNow(t, "unexpected dial")
	case <-time.After(50 * time.Millisecond):
	}
}

type fakeGateway struct {
	response crust.GatewayBotResponse
}

func (g fakeGateway) GetGatewayBot(context.Context) (*crust.GatewayBotResponse, error) {
	response := g.response

	return &response, nil
}

type recordingDispatcher struct {
	events chan crust.Event
}

func (d recordingDispatcher) Dispatch(_ context.Context, _ *crust.Shard, event crust.Event) {
	d.events <- event
}

// stateReport is one NotifyStateChange call.
type stateReport struct {
	State       crust.SessionState
	GlobalEvent string
}

// recordingRelay records state reports and answers nothing else.
type recordingRelay struct {
	reports chan stateReport
}

func (r recordingRelay) NotifyStateChange(_ context.Context, state crust.SessionState, globalEvent string) error {
	r.reports <- stateReport{State: state, GlobalEvent: globalEvent}

	return nil
}

func (r recordingRelay) RequestBroadcastEvent(context.Context, string, any) ([]any, error) {
	return nil, nil
}

func (r recordingRelay) RequestSendEvent(context.Context, string, int32, any) (any, error) {
	return nil, nil
}

func (r recordingRelay) RequestDisconnectAll(context.Context, websocket.StatusCode) error {
	return nil
}

func (r recordingRelay) next(t *testing.T) stateReport {
	t.Helper()

	select {
	case report := <-r.reports:
		return report
	case <-time.After(waitTimeout):
		require.FailNow(t, "timed out waiting for a state report")

		return stateReport{}
	}
}

type harness struct {
	clock      *clock.FakeClock
	dialer     *fakeDialer
	manager    *crust.Manager
	bus        *crust.Bus
	busEvents  <-chan crust.BusEvent
	dispatched chan crust.Event

	ctx      context.Context
	startErr chan error
}

type harnessOptions struct {
	configure func(configuration *crust.Configuration)
	limit     *crust.SessionStartLimit
	relay     crust.Relay
}

func newHarness(t *testing.T, options harnessOptions) *harness {
	t.Helper()

	configuration := &crust.Configuration{
		Token:      "token",
		ShardCount: 1,
		Intents:    513,
	}

	if options.configure != nil {
		options.configure(configuration)
	}

	limit := crust.SessionStartLimit{Total: 1000, Remaining: 1000, MaxConcurrency: 1}
	if options.limit != nil {
		limit = *options.limit
	}

	h := &harness{
		clock:      clock.NewFake(epoch),
		dialer:     newFakeDialer(),
		bus:        crust.NewBus(),
		dispatched: make(chan crust.Event, 256),
		startErr:   make(chan error, 1),
	}

	h.busEvents = h.bus.Subscribe(256)

	manager, err := crust.NewManager(configuration, crust.ManagerOptions{
		Logger: zerolog.Nop(),
		Clock:  h.clock,
		Client: fakeGateway{response: crust.GatewayBotResponse{
			URL:               "wss://gateway.test",
			Shards:            1,
			SessionStartLimit: limit,
		}},
		Dialer:           h.dialer,
		IdentifyProvider: crust.IdentifyImmediately,
		Dispatcher:       recordingDispatcher{events: h.dispatched},
		Relay:            options.relay,
		Bus:              h.bus,
		Capabilities:     &crust.CodecCapabilities{},
	})
	require.NoError(t, err)

	h.manager = manager

	ctx, cancel := context.WithCancel(context.Background())
	h.ctx = ctx

	t.Cleanup(func() {
		_ = manager.Stop(context.Background())

		cancel()
	})

	return h
}

func (h *harness) start() {
	go func() {
		h.startErr <- h.manager.Start(h.ctx)
	}()
}

func (h *harness) shard(t *testing.T, shardID int32) *crust.Shard {
	t.Helper()

	var shard *crust.Shard

	require.Eventually(t, func() bool {
		var err error

		shard, err = h.manager.Shard(shardID)

		return err == nil
	}, waitTimeout, time.Millisecond)

	return shard
}

// nextDispatch waits for the dispatcher to see an event.
func (h *harness) nextDispatch(t *testing.T) crust.Event {
	t.Helper()

	select {
	case event := <-h.dispatched:
		return event
	case <-time.After(waitTimeout):
		require.FailNow(t, "timed out waiting for a dispatch")

		return crust.Event{}
	}
}

// waitForBusEvent skips bus events until one named name arrives.
func (h *harness) waitForBusEvent(t *testing.T, name string) crust.BusEvent {
	t.Helper()

	timeout := time.After(waitTimeout)

	for {
		select {
		case event := <-h.busEvents:
			if event.Name == name {
				return event
			}
		case <-timeout:
			require.FailNowf(t, "timed out waiting for bus event", "%s", name)

			return crust.BusEvent{}
		}
	}
}

func waitForState(t *testing.T, shard *crust.Shard, state crust.SessionState) {
	t.Helper()

	require.Eventually(t, func() bool {
		return shard.State() == state
	}, waitTimeout, time.Millisecond, "shard never reached %s", state)
}

// handshake runs Hello, Identify and an empty READY on transport.
func (h *harness) handshake(t *testing.T, shard *crust.Shard, transport *fakeTransport) {
	t.Helper()

	transport.hello(t)

	frame := transport.nextFrame(t)
	require.Equal(t, crust.GatewayOpIdentify, frame.Op)

	transport.dispatch(t, "READY", 1, map[string]any{
		"session_id":         "session",
		"resume_gateway_url": "wss://resume.test",
		"guilds":             []any{},
	})

	require.Equal(t, "READY", h.nextDispatch(t).Name)
	waitForState(t, shard, crust.SessionStateReady)
}

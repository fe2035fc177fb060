package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/nats-io/nats.go"
)

// Channel is one bidirectional link between the supervisor and a child.
type Channel interface {
	Send(envelope Envelope) error

	// Run delivers received envelopes to handle until ctx is done or the
	// link breaks.
	Run(ctx context.Context, handle func(Envelope)) error

	Close() error
}

// PipeChannel exchanges CBOR envelopes over a reader and writer, such as the
// stdio of a child process.
type PipeChannel struct {
	mu      sync.Mutex
	encoder *cbor.Encoder
	decoder *cbor.Decoder

	reader io.Reader
	writer io.Writer
}

func NewPipeChannel(reader io.Reader, writer io.Writer) *PipeChannel {
	return &PipeChannel{
		encoder: encMode.NewEncoder(writer),
		decoder: decMode.NewDecoder(reader),
		reader:  reader,
		writer:  writer,
	}
}

func (p *PipeChannel) Send(envelope Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.encoder.Encode(envelope); err != nil {
		return fmt.Errorf("failed to write envelope: %w", err)
	}

	return nil
}

// Run reads until the reader is exhausted. Reads cannot be interrupted, so a
// canceled ctx only takes effect once the other side writes or closes.
func (p *PipeChannel) Run(ctx context.Context, handle func(Envelope)) error {
	for {
		var envelope Envelope

		if err := p.decoder.Decode(&envelope); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
				return nil
			}

			return fmt.Errorf("failed to read envelope: %w", err)
		}

		if ctx.Err() != nil {
			return nil
		}

		handle(envelope)
	}
}

func (p *PipeChannel) Close() error {
	var errs []error

	if closer, ok := p.writer.(io.Closer); ok {
		errs = append(errs, closer.Close())
	}

	if closer, ok := p.reader.(io.Closer); ok {
		errs = append(errs, closer.Close())
	}

	return errors.Join(errs...)
}

// NATSChannel exchanges envelopes over two NATS subjects. Unlike pipes, the
// processes on either end need not be related.
type NATSChannel struct {
	conn *nats.Conn

	publish   string
	subscribe string
}

// NewNATSChannel publishes on publish and receives on subscribe.
func NewNATSChannel(conn *nats.Conn, publish, subscribe string) *NATSChannel {
	return &NATSChannel{
		conn:      conn,
		publish:   publish,
		subscribe: subscribe,
	}
}

// ChildSubject is where the supervisor sends to the child processID.
func ChildSubject(subject string, processID int32) string {
	return fmt.Sprintf("%s.child.%d", subject, processID)
}

// SupervisorSubject is where the child processID sends to the supervisor.
func SupervisorSubject(subject string, processID int32) string {
	return fmt.Sprintf("%s.supervisor.%d", subject, processID)
}

// NewNATSChildChannel is the child's end of the link to the supervisor.
func NewNATSChildChannel(conn *nats.Conn, subject string, processID int32) *NATSChannel {
	return NewNATSChannel(conn, SupervisorSubject(subject, processID), ChildSubject(subject, processID))
}

// NewNATSSupervisorChannels returns the supervisor's end of the link to
// every child.
func NewNATSSupervisorChannels(conn *nats.Conn, subject string, processCount int32) []Channel {
	channels := make([]Channel, 0, processCount)

	for processID := int32(0); processID < processCount; processID++ {
		channels = append(channels, NewNATSChannel(conn, ChildSubject(subject, processID), SupervisorSubject(subject, processID)))
	}

	return channels
}

func (n *NATSChannel) Send(envelope Envelope) error {
	data, err := marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	if err := n.conn.Publish(n.publish, data); err != nil {
		return fmt.Errorf("failed to publish envelope: %w", err)
	}

	return nil
}

func (n *NATSChannel) Run(ctx context.Context, handle func(Envelope)) error {
	messages := make(chan *nats.Msg, 64)

	subscription, err := n.conn.ChanSubscribe(n.subscribe, messages)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", n.subscribe, err)
	}

	defer func() {
		_ = subscription.Unsubscribe()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-messages:
			var envelope Envelope

			if err := unmarshal(msg.Data, &envelope); err != nil {
				continue
			}

			handle(envelope)
		}
	}
}

// Close leaves the shared connection open.
func (n *NATSChannel) Close() error {
	return nil
}

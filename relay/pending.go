package relay

import (
	"context"
	"fmt"
	"sync"
)

// pending correlates replies with the requests waiting for them.
type pending struct {
	mu      sync.Mutex
	waiters map[string]chan Reply
	closed  bool
}

func newPending() *pending {
	return &pending{waiters: make(map[string]chan Reply)}
}

func (p *pending) register(nonce string) (chan Reply, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrRelayClosed
	}

	waiter := make(chan Reply, 1)
	p.waiters[nonce] = waiter

	return waiter, nil
}

func (p *pending) forget(nonce string) {
	p.mu.Lock()
	delete(p.waiters, nonce)
	p.mu.Unlock()
}

// resolve hands reply to its waiter. Replies nobody waits for are dropped.
func (p *pending) resolve(nonce string, reply Reply) bool {
	p.mu.Lock()
	waiter, ok := p.waiters[nonce]
	delete(p.waiters, nonce)
	p.mu.Unlock()

	if ok {
		waiter <- reply
	}

	return ok
}

// close fails every waiter and refuses new ones.
func (p *pending) close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true

	for nonce, waiter := range p.waiters {
		close(waiter)
		delete(p.waiters, nonce)
	}
}

// request sends envelope and waits for the reply carrying its nonce.
func (p *pending) request(ctx context.Context, channel Channel, envelope Envelope) (Reply, error) {
	waiter, err := p.register(envelope.Nonce)
	if err != nil {
		return Reply{}, err
	}

	if err := channel.Send(envelope); err != nil {
		p.forget(envelope.Nonce)

		return Reply{}, err
	}

	select {
	case <-ctx.Done():
		p.forget(envelope.Nonce)

		return Reply{}, ctx.Err()
	case reply, ok := <-waiter:
		if !ok {
			return Reply{}, ErrRelayClosed
		}

		if reply.Error != "" {
			return reply, fmt.Errorf("%w: %s", ErrRemote, reply.Error)
		}

		return reply, nil
	}
}

// sendReply answers the envelope with nonce.
func sendReply(channel Channel, nonce string, reply Reply) error {
	envelope, err := newEnvelope(ActionReply, nonce, reply)
	if err != nil {
		return err
	}

	return channel.Send(envelope)
}

// replyFor builds a Reply from a handler result.
func replyFor(result any, err error) Reply {
	if err != nil {
		return Reply{Error: err.Error()}
	}

	encoded, err := encodeArgs(result)
	if err != nil {
		return Reply{Error: fmt.Sprintf("failed to encode result: %v", err)}
	}

	return Reply{Result: encoded}
}

// Package broadcast fans values out to any number of subscribers.
package broadcast

import (
	"sync"
)

// Server delivers every broadcast value to each subscriber. Subscribers that
// fall behind lose values rather than blocking the broadcaster.
type Server[T any] struct {
	mu        sync.Mutex
	listeners map[chan T]struct{}
	closed    bool
}

func NewServer[T any]() *Server[T] {
	return &Server[T]{
		listeners: make(map[chan T]struct{}),
	}
}

// ListenersCount returns the number of listeners
func (s *Server[T]) ListenersCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.listeners)
}

// Broadcast sends val to every subscriber and returns how many received it.
func (s *Server[T]) Broadcast(val T) (delivered int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for listener := range s.listeners {
		select {
		case listener <- val:
			delivered++
		default:
		}
	}

	return delivered
}

// Subscribe returns a new channel that will receive all broadcasts. The
// channel is closed by CancelSubscription or Close.
func (s *Server[T]) Subscribe(buffer int) <-chan T {
	s.mu.Lock()
	defer s.mu.Unlock()

	listener := make(chan T, buffer)

	if s.closed {
		close(listener)

		return listener
	}

	s.listeners[listener] = struct{}{}

	return listener
}

// CancelSubscription cancels a subscription
//
// All channels returned by Subscribe() should be cancelled eventually
func (s *Server[T]) CancelSubscription(channel <-chan T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for listener := range s.listeners {
		if listener == channel {
			delete(s.listeners, listener)
			close(listener)

			return
		}
	}
}

// Close closes every subscription. Later broadcasts are dropped.
func (s *Server[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.closed = true

	for listener := range s.listeners {
		close(listener)
	}

	s.listeners = make(map[chan T]struct{})
}

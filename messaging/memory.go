package messaging

import (
	"context"
	"sync"
)

func init() {
	Register("memory", func() Client { return &MemoryClient{} })
}

// Message is a payload kept by MemoryClient.
type Message struct {
	Channel string
	Data    []byte
}

// MemoryClient keeps published messages in memory. It is useful for tests and
// for running without a queue.
type MemoryClient struct {
	mu       sync.Mutex
	messages []Message

	channel string
}

func (memoryMQ *MemoryClient) String() string {
	return "memory"
}

func (memoryMQ *MemoryClient) Channel() string {
	return memoryMQ.channel
}

func (memoryMQ *MemoryClient) Connect(_ context.Context, _ string, args map[string]string) error {
	memoryMQ.channel, _ = GetEntry(args, "Channel")

	return nil
}

func (memoryMQ *MemoryClient) Publish(_ context.Context, channelName string, data []byte) error {
	memoryMQ.mu.Lock()
	defer memoryMQ.mu.Unlock()

	memoryMQ.messages = append(memoryMQ.messages, Message{
		Channel: channelName,
		Data:    append([]byte(nil), data...),
	})

	return nil
}

// Messages returns a copy of everything published so far.
func (memoryMQ *MemoryClient) Messages() []Message {
	memoryMQ.mu.Lock()
	defer memoryMQ.mu.Unlock()

	return append([]Message(nil), memoryMQ.messages...)
}

func (memoryMQ *MemoryClient) Close() error {
	return nil
}

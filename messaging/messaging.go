// Package messaging publishes produced gateway events to a message queue.
package messaging

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Client is a message queue connection. Publish must be safe for concurrent
// use by every shard.
type Client interface {
	String() string
	Channel() string

	Connect(ctx context.Context, clientName string, args map[string]string) error
	Publish(ctx context.Context, channelName string, data []byte) error
	Close() error
}

var (
	clientsMu sync.RWMutex
	clients   = map[string]func() Client{}
)

// Register makes a client type available to NewClient.
func Register(name string, constructor func() Client) {
	clientsMu.Lock()
	defer clientsMu.Unlock()

	clients[name] = constructor
}

// Clients lists all current clients we have available.
func Clients() []string {
	clientsMu.RLock()
	defer clientsMu.RUnlock()

	names := make([]string, 0, len(clients))
	for name := range clients {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// NewClient returns an unconnected client of the given type.
func NewClient(clientType string) (Client, error) {
	clientsMu.RLock()
	constructor, ok := clients[strings.ToLower(clientType)]
	clientsMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown messaging client %q, available: %s", clientType, strings.Join(Clients(), ", "))
	}

	return constructor(), nil
}

// GetEntry returns first match from a map and handles keys as non case sensitive.
func GetEntry(m map[string]string, key string) (string, bool) {
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}

	return "", false
}

func requireEntry(client string, m map[string]string, key string) (string, error) {
	value, ok := GetEntry(m, key)
	if !ok || value == "" {
		return "", fmt.Errorf("%s connect: missing %s", client, key)
	}

	return value, nil
}

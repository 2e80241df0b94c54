package signal

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

type registryEntry struct {
	client *ChannelClient
	refs   int
}

// ChannelRegistry shares one ChannelClient per (endpoint, credentials) pair across the
// process. Build one in main and pass it down.
type ChannelRegistry struct {
	mu      sync.Mutex
	entries map[string]*registryEntry
	logger  *zap.SugaredLogger
}

// NewChannelRegistry creates an empty registry.
func NewChannelRegistry(logger *zap.SugaredLogger) *ChannelRegistry {
	return &ChannelRegistry{
		entries: make(map[string]*registryEntry),
		logger:  logger,
	}
}

func registryKey(cfg ClientConfig) string {
	return cfg.URL + "|" + cfg.credentials()
}

// Acquire returns the connected client for cfg, dialing it on first use.
func (r *ChannelRegistry) Acquire(ctx context.Context, cfg ClientConfig) (*ChannelClient, error) {
	key := registryKey(cfg)

	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entries[key]; ok {
		entry.refs++
		return entry.client, nil
	}

	client := NewChannelClient(cfg, r.logger)
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("acquire channel: %w", err)
	}
	r.entries[key] = &registryEntry{client: client, refs: 1}
	return client, nil
}

// Release drops one reference; the last one closes the connection.
func (r *ChannelRegistry) Release(client *ChannelClient) error {
	key := registryKey(client.cfg)

	r.mu.Lock()
	entry, ok := r.entries[key]
	if !ok || entry.client != client {
		r.mu.Unlock()
		return nil
	}
	entry.refs--
	if entry.refs > 0 {
		r.mu.Unlock()
		return nil
	}
	delete(r.entries, key)
	r.mu.Unlock()

	return client.Close()
}

// Len returns the number of live shared clients.
func (r *ChannelRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

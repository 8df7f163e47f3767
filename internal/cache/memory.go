package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory is an in-process Cache for single-binary deployments and tests.
type Memory struct {
	store *gocache.Cache
}

var _ Cache = (*Memory)(nil)

// NewMemory creates an in-process cache. Entries without an explicit ttl
// live for defaultTTL; expired entries are swept every cleanup interval.
func NewMemory(defaultTTL, cleanup time.Duration) *Memory {
	return &Memory{store: gocache.New(defaultTTL, cleanup)}
}

// Get returns a copy of the stored value.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m.store.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	data, ok := v.([]byte)
	if !ok {
		return nil, ErrCacheMiss
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Set stores a copy of value.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	data := make([]byte, len(value))
	copy(data, value)
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	m.store.Set(key, data, ttl)
	return nil
}

// Delete removes key.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.store.Delete(key)
	return nil
}

// Flush drops every entry.
func (m *Memory) Flush() {
	m.store.Flush()
}

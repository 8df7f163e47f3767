package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"blockctl/internal/utils"

	"github.com/bradfitz/gomemcache/memcache"
)

// Memcached is a Cache backed by a memcached cluster shared with other
// console processes (PHP-FPM style deployments run several).
type Memcached struct {
	client *memcache.Client
}

var _ Cache = (*Memcached)(nil)

// NewMemcached creates a client for the given server addresses.
func NewMemcached(timeout time.Duration, servers ...string) (*Memcached, error) {
	if len(servers) == 0 {
		return nil, fmt.Errorf("no memcached servers configured")
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	return &Memcached{client: client}, nil
}

// Get fetches key. The memcache client has no context support; ctx is
// accepted for interface parity.
func (m *Memcached) Get(_ context.Context, key string) ([]byte, error) {
	item, err := m.client.Get(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("memcached get %s: %w", key, err)
	}
	return item.Value, nil
}

// maxRelativeExpiration is the largest expiration memcached treats as
// relative; larger values are read as a Unix timestamp.
const maxRelativeExpiration = 30 * 24 * 60 * 60

// Set stores value. Values over utils.MaxCacheValueSize are refused.
func (m *Memcached) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if len(value) > utils.MaxCacheValueSize {
		return fmt.Errorf("memcached set %s: %w", key, ErrValueTooLarge)
	}
	item := &memcache.Item{
		Key:        key,
		Value:      value,
		Expiration: expiration(ttl),
	}
	if err := m.client.Set(item); err != nil {
		return fmt.Errorf("memcached set %s: %w", key, err)
	}
	return nil
}

// expiration converts ttl to whole seconds, rounding up and capped at 30
// days. Zero or negative ttl means no expiry.
func expiration(ttl time.Duration) int32 {
	if ttl <= 0 {
		return 0
	}
	secs := (ttl + time.Second - 1) / time.Second
	if secs > maxRelativeExpiration {
		secs = maxRelativeExpiration
	}
	return int32(secs)
}

// Delete removes key; a miss is treated as success.
func (m *Memcached) Delete(_ context.Context, key string) error {
	err := m.client.Delete(key)
	if err == nil || errors.Is(err, memcache.ErrCacheMiss) {
		return nil
	}
	return fmt.Errorf("memcached delete %s: %w", key, err)
}

// Ping checks that every server answers.
func (m *Memcached) Ping() error {
	return m.client.Ping()
}

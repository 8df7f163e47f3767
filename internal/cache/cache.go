// Package cache defines the shared key-value cache the console coordinates
// through. Request handlers never lock each other; they only read, fill and
// delete keys here.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache: miss")

// ErrValueTooLarge is returned by Set when a value exceeds the item limit.
var ErrValueTooLarge = errors.New("cache: value too large")

// Cache is the shared store injected into the config store and control loop.
type Cache interface {
	// Get returns the value for key or ErrCacheMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. A zero ttl uses the backend default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

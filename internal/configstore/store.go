// Package configstore serves configuration snapshots out of the shared
// cache, reloading from the helper's config file on a miss.
//
// The store never edits a cached entry. State changes go through the
// privileged helper, which rewrites the file; the console only evicts the
// cached copy so the next reader picks the new file up.
package configstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"blockctl/internal/cache"
	"blockctl/internal/metrics"
	"blockctl/internal/status"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	// CacheKey is the shared cache key holding the serialized configuration.
	CacheKey = "Config"

	// StatusKey is the configuration key carrying the encoded blocking status.
	StatusKey = "Status"
)

// record is the serialized form kept in the cache.
type record struct {
	Values   map[string]string `json:"values"`
	LoadedAt time.Time         `json:"loaded_at"`
}

// Snapshot is a read-only view of configuration as of one cache fetch.
type Snapshot struct {
	status   status.BlockingStatus
	values   map[string]string
	loadedAt time.Time
}

// Status returns the decoded blocking status. Callers still need to
// Normalize it against the current time.
func (s *Snapshot) Status() status.BlockingStatus { return s.status }

// Value returns a configuration value. The raw status is not exposed here;
// use Status.
func (s *Snapshot) Value(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Keys returns the configuration keys in sorted order.
func (s *Snapshot) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LoadedAt is when the snapshot was read from disk.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Store implements fetch-or-reload over a shared cache.
type Store struct {
	cache    cache.Cache
	loader   Loader
	ttl      time.Duration
	clock    clockwork.Clock
	recorder metrics.Recorder
	group    singleflight.Group
	// gen counts invalidations; a reload that spans one does not fill the cache.
	gen atomic.Uint64
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets the cache entry lifetime.
func WithTTL(ttl time.Duration) Option { return func(s *Store) { s.ttl = ttl } }

// WithClock overrides the clock stamping reloads.
func WithClock(c clockwork.Clock) Option { return func(s *Store) { s.clock = c } }

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option { return func(s *Store) { s.recorder = r } }

// New creates a Store.
func New(c cache.Cache, loader Loader, opts ...Option) *Store {
	s := &Store{
		cache:    c,
		loader:   loader,
		clock:    clockwork.NewRealClock(),
		recorder: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the cached snapshot, reloading on a miss. Concurrent misses
// share one reload. An unreadable cache entry is treated as a miss.
func (s *Store) Get(ctx context.Context) (*Snapshot, error) {
	data, err := s.cache.Get(ctx, CacheKey)
	switch {
	case err == nil:
		snap, derr := s.decode(data)
		if derr == nil {
			return snap, nil
		}
		logrus.WithError(derr).Warn("Discarding unreadable cached config")
	case !errors.Is(err, cache.ErrCacheMiss):
		logrus.WithError(err).Warn("Config cache read failed, reloading from disk")
	}

	v, err, shared := s.group.Do(CacheKey, func() (interface{}, error) {
		return s.reload(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, err
	}
	if shared {
		logrus.Debug("Config reload shared with concurrent reader")
	}
	return v.(*Snapshot), nil
}

// Invalidate evicts the cached snapshot. It does not wait for, or cancel,
// a reload already in flight.
func (s *Store) Invalidate(ctx context.Context) {
	s.recorder.IncInvalidation()
	s.gen.Add(1)
	if err := s.cache.Delete(ctx, CacheKey); err != nil {
		logrus.WithError(err).Warn("Failed to invalidate cached config")
		return
	}
	logrus.Debug("Cached config invalidated")
}

func (s *Store) reload(ctx context.Context) (*Snapshot, error) {
	gen := s.gen.Load()
	values, err := s.loader.Load(ctx)
	if err != nil {
		s.recorder.IncReload(metrics.ReloadResultFailed)
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	s.recorder.IncReload(metrics.ReloadResultOK)

	rec := record{Values: values, LoadedAt: s.clock.Now().UTC()}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize config: %w", err)
	}
	if s.gen.Load() != gen {
		logrus.Debug("Config invalidated during reload, not caching")
		return s.snapshot(rec), nil
	}
	if err := s.cache.Set(ctx, CacheKey, data, s.ttl); err != nil {
		// Serve the fresh snapshot anyway; the next reader reloads again.
		logrus.WithError(err).Warn("Failed to populate config cache")
	}

	return s.snapshot(rec), nil
}

func (s *Store) decode(data []byte) (*Snapshot, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return s.snapshot(rec), nil
}

func (s *Store) snapshot(rec record) *Snapshot {
	raw := rec.Values[StatusKey]
	st, ok := status.Parse(raw)
	if !ok {
		s.recorder.IncMalformedStatus()
		logrus.WithField("status", raw).Warn("Malformed blocking status, treating as enabled")
	}
	values := make(map[string]string, len(rec.Values))
	for k, v := range rec.Values {
		if k == StatusKey {
			continue
		}
		values[k] = v
	}
	return &Snapshot{status: st, values: values, loadedAt: rec.LoadedAt}
}

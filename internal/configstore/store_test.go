package configstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"blockctl/internal/cache"
	"blockctl/internal/metrics"
	"blockctl/internal/status"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLoader struct {
	loads  atomic.Int32
	values map[string]string
	err    error
	delay  time.Duration
}

func (l *countingLoader) Load(context.Context) (map[string]string, error) {
	l.loads.Add(1)
	if l.delay > 0 {
		time.Sleep(l.delay)
	}
	if l.err != nil {
		return nil, l.err
	}
	out := make(map[string]string, len(l.values))
	for k, v := range l.values {
		out[k] = v
	}
	return out, nil
}

type malformedCounter struct {
	metrics.NoopRecorder
	malformed     atomic.Int32
	invalidations atomic.Int32
}

func (m *malformedCounter) IncMalformedStatus() { m.malformed.Add(1) }
func (m *malformedCounter) IncInvalidation()    { m.invalidations.Add(1) }

func newMemory() *cache.Memory { return cache.NewMemory(time.Hour, time.Hour) }

func TestStoreGetReloadsOnMissOnly(t *testing.T) {
	ctx := context.Background()
	loader := &countingLoader{values: map[string]string{"Status": "Stop", "bl_tld": "1"}}
	store := New(newMemory(), loader)

	snap, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, status.Stopped(), snap.Status())
	v, ok := snap.Value("bl_tld")
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	_, err = store.Get(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, loader.loads.Load(), "second Get should be served from cache")
}

func TestStoreInvalidateForcesReload(t *testing.T) {
	ctx := context.Background()
	loader := &countingLoader{values: map[string]string{"Status": "Enabled"}}
	rec := &malformedCounter{}
	store := New(newMemory(), loader, WithRecorder(rec))

	_, err := store.Get(ctx)
	require.NoError(t, err)

	loader.values = map[string]string{"Status": "Paused1700000000"}
	store.Invalidate(ctx)
	assert.EqualValues(t, 1, rec.invalidations.Load())

	snap, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, status.PausedUntil(time.Unix(1700000000, 0)), snap.Status())
	assert.EqualValues(t, 2, loader.loads.Load())
}

func TestStoreRawStatusNotExposed(t *testing.T) {
	store := New(newMemory(), &countingLoader{values: map[string]string{"Status": "Stop", "a": "b"}})
	snap, err := store.Get(context.Background())
	require.NoError(t, err)

	_, ok := snap.Value(StatusKey)
	assert.False(t, ok)
	assert.Equal(t, []string{"a"}, snap.Keys())
}

func TestStoreMalformedStatusDefaultsToEnabled(t *testing.T) {
	rec := &malformedCounter{}
	store := New(newMemory(), &countingLoader{values: map[string]string{"Status": "Pausedsoon"}}, WithRecorder(rec))

	snap, err := store.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, status.Enabled(), snap.Status())
	assert.EqualValues(t, 1, rec.malformed.Load())
}

func TestStoreDiscardsUnreadableCacheEntry(t *testing.T) {
	ctx := context.Background()
	mem := newMemory()
	require.NoError(t, mem.Set(ctx, CacheKey, []byte("not json"), 0))

	loader := &countingLoader{values: map[string]string{"Status": "Stop"}}
	snap, err := New(mem, loader).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, status.Stopped(), snap.Status())
	assert.EqualValues(t, 1, loader.loads.Load())
}

func TestStoreLoaderError(t *testing.T) {
	loader := &countingLoader{err: errors.New("disk on fire")}
	_, err := New(newMemory(), loader).Get(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestStoreConcurrentReaders(t *testing.T) {
	ctx := context.Background()
	loader := &countingLoader{values: map[string]string{"Status": "Stop"}, delay: 20 * time.Millisecond}
	store := New(newMemory(), loader)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := store.Get(ctx)
			if assert.NoError(t, err) {
				assert.Equal(t, status.Stopped(), snap.Status())
			}
		}()
	}
	wg.Wait()

	// Concurrent misses collapse into far fewer reloads than readers.
	assert.Less(t, loader.loads.Load(), int32(20))
}

func TestStoreInvalidateDoesNotWaitForReload(t *testing.T) {
	ctx := context.Background()
	loader := &countingLoader{values: map[string]string{"Status": "Stop"}, delay: 200 * time.Millisecond}
	store := New(newMemory(), loader)

	go func() { _, _ = store.Get(ctx) }()
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	store.Invalidate(ctx)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestStoreReloadSpanningInvalidateIsNotCached(t *testing.T) {
	ctx := context.Background()
	c := newMemory()
	started := make(chan struct{})
	release := make(chan struct{})
	loader := LoaderFunc(func(context.Context) (map[string]string, error) {
		close(started)
		<-release
		return map[string]string{"Status": "Enabled"}, nil
	})
	store := New(c, loader)

	done := make(chan *Snapshot)
	go func() {
		snap, err := store.Get(ctx)
		assert.NoError(t, err)
		done <- snap
	}()

	<-started
	store.Invalidate(ctx)
	close(release)

	snap := <-done
	require.NotNil(t, snap)
	assert.Equal(t, status.Enabled(), snap.Status())

	_, err := c.Get(ctx, CacheKey)
	assert.ErrorIs(t, err, cache.ErrCacheMiss, "stale reload must not repopulate the cache")
}

func TestFileLoader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notrack.conf")
	content := "# NoTrack config\n" +
		"\n" +
		"Status = Paused1700000900\n" +
		"bl_custom = \"http://example.com/list.txt\"\n" +
		"IPVersion=IPv4\n" +
		"not a pair\n" +
		" = orphan\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	values, err := (&FileLoader{Path: path}).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"Status":    "Paused1700000900",
		"bl_custom": "http://example.com/list.txt",
		"IPVersion": "IPv4",
	}, values)

	t.Run("MissingFileIsEmpty", func(t *testing.T) {
		values, err := (&FileLoader{Path: filepath.Join(dir, "absent.conf")}).Load(context.Background())
		require.NoError(t, err)
		assert.Empty(t, values)
	})
}

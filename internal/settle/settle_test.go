package settle

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedDelayWaitsFullWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	waiter := NewFixedDelay(clock).Prepare(context.Background())

	done := make(chan time.Duration, 1)
	go func() { done <- waiter.Wait(5 * time.Second) }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(4 * time.Second)
	select {
	case <-done:
		t.Fatal("returned before the window elapsed")
	case <-time.After(20 * time.Millisecond):
	}

	clock.Advance(time.Second)
	select {
	case waited := <-done:
		assert.Equal(t, 5*time.Second, waited)
	case <-time.After(time.Second):
		t.Fatal("did not return after the window elapsed")
	}
}

func TestFixedDelayZeroWindow(t *testing.T) {
	waiter := NewFixedDelay(clockwork.NewFakeClock()).Prepare(context.Background())
	assert.Zero(t, waiter.Wait(0))
}

func TestFileWatchReturnsEarlyOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notrack.conf")
	require.NoError(t, os.WriteFile(path, []byte("Status = Enabled\n"), 0644))

	settler, err := NewFileWatch(path, 50*time.Millisecond, nil)
	require.NoError(t, err)
	waiter := settler.Prepare(context.Background())

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = os.WriteFile(path, []byte("Status = Stop\n"), 0644)
	}()

	start := time.Now()
	waiter.Wait(5 * time.Second)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestFileWatchIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notrack.conf")

	settler, err := NewFileWatch(path, 0, nil)
	require.NoError(t, err)
	waiter := settler.Prepare(context.Background())

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = os.WriteFile(filepath.Join(dir, "other.conf"), []byte("x"), 0644)
	}()

	start := time.Now()
	waiter.Wait(300 * time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
}

func TestFileWatchFallsBackWhenDirectoryMissing(t *testing.T) {
	clock := clockwork.NewFakeClock()
	settler, err := NewFileWatch(filepath.Join(t.TempDir(), "missing", "notrack.conf"), 0, clock)
	require.NoError(t, err)

	waiter := settler.Prepare(context.Background())
	_, isFixed := waiter.(fixedWaiter)
	assert.True(t, isFixed)
}

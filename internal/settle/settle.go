// Package settle implements the wait held after dispatching an action, so
// the helper's asynchronous config write lands before anyone can repopulate
// the cache with the old file contents.
package settle

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// Waiter holds the caller for at most one settle window.
type Waiter interface {
	// Wait blocks for up to window and returns how long it actually waited.
	Wait(window time.Duration) time.Duration
}

// Settler arms a Waiter. Prepare is called before dispatch so that a
// watcher cannot miss a write made by a fast helper.
type Settler interface {
	Prepare(ctx context.Context) Waiter
}

// FixedDelay waits the full window every time.
type FixedDelay struct {
	clock clockwork.Clock
}

// NewFixedDelay creates a fixed-delay settler.
func NewFixedDelay(clock clockwork.Clock) *FixedDelay {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &FixedDelay{clock: clock}
}

func (f *FixedDelay) Prepare(context.Context) Waiter { return fixedWaiter{clock: f.clock} }

type fixedWaiter struct {
	clock clockwork.Clock
}

func (w fixedWaiter) Wait(window time.Duration) time.Duration {
	if window <= 0 {
		return 0
	}
	w.clock.Sleep(window)
	return window
}

// FileWatch ends the wait early once the helper's config file changes,
// plus a short grace period for the rest of the write. It never waits
// longer than the fixed window.
type FileWatch struct {
	path  string
	grace time.Duration
	clock clockwork.Clock
}

// NewFileWatch creates a settler watching path.
func NewFileWatch(path string, grace time.Duration, clock clockwork.Clock) (*FileWatch, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve settle watch path: %w", err)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &FileWatch{path: abs, grace: grace, clock: clock}, nil
}

// Prepare starts watching the file's directory. If the watcher cannot be
// created the full fixed window is used instead.
func (f *FileWatch) Prepare(context.Context) Waiter {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logrus.WithError(err).Warn("Failed to create settle watcher, using fixed delay")
		return fixedWaiter{clock: f.clock}
	}
	// Watch the directory; helpers commonly replace the file by rename.
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		watcher.Close()
		logrus.WithError(err).WithField("path", f.path).Warn("Failed to watch blocking config, using fixed delay")
		return fixedWaiter{clock: f.clock}
	}
	return &watchWaiter{watcher: watcher, file: filepath.Base(f.path), grace: f.grace, clock: f.clock}
}

type watchWaiter struct {
	watcher *fsnotify.Watcher
	file    string
	grace   time.Duration
	clock   clockwork.Clock
}

func (w *watchWaiter) Wait(window time.Duration) time.Duration {
	defer w.watcher.Close()

	start := w.clock.Now()
	if window <= 0 {
		return 0
	}
	deadline := w.clock.NewTimer(window)
	defer deadline.Stop()

	errs := w.watcher.Errors
	for {
		select {
		case <-deadline.Chan():
			logrus.Debug("Settle window elapsed without config change")
			return w.clock.Since(start)
		case event, ok := <-w.watcher.Events:
			if !ok {
				<-deadline.Chan()
				return w.clock.Since(start)
			}
			if filepath.Base(event.Name) != w.file {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			logrus.WithField("op", event.Op.String()).Debug("Blocking config changed during settle")
			remaining := window - w.clock.Since(start)
			if w.grace < remaining {
				remaining = w.grace
			}
			if remaining > 0 {
				select {
				case <-w.clock.After(remaining):
				case <-deadline.Chan():
				}
			}
			return w.clock.Since(start)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logrus.WithError(err).Warn("Settle watcher error")
		}
	}
}

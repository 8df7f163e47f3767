package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"blockctl/internal/audit"
	"blockctl/internal/cache"
	"blockctl/internal/configstore"
	"blockctl/internal/dispatch"
	"blockctl/internal/settle"
	"blockctl/internal/status"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// eventLog records side effects in the order they happen.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (e *eventLog) add(format string, args ...interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, fmt.Sprintf(format, args...))
}

func (e *eventLog) list() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...)
}

func (e *eventLog) count(event string) int {
	n := 0
	for _, ev := range e.list() {
		if ev == event {
			n++
		}
	}
	return n
}

// helperConfig stands in for the helper-owned config file.
type helperConfig struct {
	mu     sync.Mutex
	status string
	loads  int
}

func (h *helperConfig) set(raw string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = raw
}

func (h *helperConfig) Load(context.Context) (map[string]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.loads++
	return map[string]string{configstore.StatusKey: h.status}, nil
}

func (h *helperConfig) loadCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loads
}

type recordingStore struct {
	*configstore.Store
	log *eventLog
}

func (s recordingStore) Invalidate(ctx context.Context) {
	s.log.add("invalidate")
	s.Store.Invalidate(ctx)
}

type fakeDispatcher struct {
	log    *eventLog
	err    error
	onExec func(kind dispatch.ActionKind)
	ctxErr error
}

func (d *fakeDispatcher) Execute(ctx context.Context, kind dispatch.ActionKind) error {
	d.log.add("execute:%s", kind)
	d.ctxErr = ctx.Err()
	if d.onExec != nil {
		d.onExec(kind)
	}
	return d.err
}

type fakeSettler struct{ log *eventLog }

func (s fakeSettler) Prepare(context.Context) settle.Waiter {
	s.log.add("prepare")
	return fakeWaiter{log: s.log}
}

type fakeWaiter struct{ log *eventLog }

func (w fakeWaiter) Wait(window time.Duration) time.Duration {
	if window > 0 {
		w.log.add("settle:%s", window)
	}
	return window
}

type fakeJournal struct {
	mu       sync.Mutex
	accepted []string
	entries  []audit.Entry
}

func (j *fakeJournal) RecordAccepted(_ string, kind string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.accepted = append(j.accepted, kind)
}

func (j *fakeJournal) RecordAction(_ context.Context, e audit.Entry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
}

type fakeNotifier struct {
	published []status.BlockingStatus
}

func (n *fakeNotifier) Publish(st status.BlockingStatus, _ time.Time) {
	n.published = append(n.published, st)
}

type harness struct {
	log        *eventLog
	config     *helperConfig
	dispatcher *fakeDispatcher
	journal    *fakeJournal
	terminated []dispatch.ActionKind
	clock      *clockwork.FakeClock
	loop       *Loop
}

var testWindows = Windows{Change: 5 * time.Second, Refresh: 6 * time.Second}

func newHarness(t *testing.T, rawStatus string, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		log:     &eventLog{},
		config:  &helperConfig{status: rawStatus},
		journal: &fakeJournal{},
		clock:   clockwork.NewFakeClockAt(time.Unix(1700000500, 0)),
	}
	h.dispatcher = &fakeDispatcher{log: h.log}

	store := configstore.New(cache.NewMemory(time.Hour, time.Hour), h.config, configstore.WithClock(h.clock))
	base := []Option{
		WithClock(h.clock),
		WithSettler(fakeSettler{log: h.log}),
		WithWindows(testWindows),
		WithJournal(h.journal),
		WithTerminator(TerminatorFunc(func(kind dispatch.ActionKind) {
			h.log.add("terminate:%s", kind)
			h.terminated = append(h.terminated, kind)
		})),
	}
	h.loop = New(recordingStore{Store: store, log: h.log}, h.dispatcher, append(base, opts...)...)
	return h
}

func TestParseRequest(t *testing.T) {
	tests := []struct {
		operation string
		pauseTime string
		want      dispatch.ActionKind
	}{
		{"force-notrack", "", dispatch.KindForceRefresh},
		{"restart", "", dispatch.KindRestart},
		{"shutdown", "", dispatch.KindShutdown},
		{"", "pause5", dispatch.KindPause5},
		{"", "pause15", dispatch.KindPause15},
		{"", "pause30", dispatch.KindPause30},
		{"", "pause60", dispatch.KindPause60},
		{"", "start", dispatch.KindStart},
		{"", "stop", dispatch.KindStop},
		{"shutdown", "pause5", dispatch.KindShutdown},
		{"reboot", "pause5", dispatch.KindPause5},
		{"", "pause10", dispatch.KindUnknown},
		{"force-refresh", "", dispatch.KindUnknown},
		{"", "", dispatch.KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.operation+"/"+tt.pauseTime, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseRequest(tt.operation, tt.pauseTime))
		})
	}
}

func TestPause15InvalidatesDispatchesAndSettles(t *testing.T) {
	h := newHarness(t, "Enabled")

	res := h.loop.HandleForm(context.Background(), "", "pause15")

	assert.Equal(t, OutcomeRedirect, res.Outcome)
	assert.Equal(t, PhaseDone, res.Phase)
	assert.NoError(t, res.Err)
	assert.Equal(t, 5*time.Second, res.Settled)
	assert.Equal(t, dispatch.KindPause15, res.Action.Kind)
	assert.Equal(t, []string{"invalidate", "prepare", "execute:pause15", "settle:5s"}, h.log.list())

	require.Len(t, h.journal.entries, 1)
	assert.Equal(t, audit.OutcomeDone, h.journal.entries[0].Outcome)
	assert.Equal(t, []string{"pause15"}, h.journal.accepted)
}

func TestStartRejectedWhileEnabled(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"Enabled", "Enabled"},
		{"Empty", ""},
		{"ExpiredPause", "Paused1700000000"},
		{"Malformed", "Pausedsoon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.raw)

			res := h.loop.HandleForm(context.Background(), "", "start")

			assert.Equal(t, OutcomeRejected, res.Outcome)
			assert.Equal(t, PhaseRejected, res.Phase)
			assert.Zero(t, h.log.count("invalidate"))
			assert.Zero(t, h.log.count("execute:start"))
			assert.Empty(t, h.journal.accepted)
			require.Len(t, h.journal.entries, 1)
			assert.Equal(t, audit.OutcomeRejected, h.journal.entries[0].Outcome)
		})
	}
}

func TestStartAcceptedWhenNotEnabled(t *testing.T) {
	for _, raw := range []string{"Stop", "Paused1700000900"} {
		t.Run(raw, func(t *testing.T) {
			h := newHarness(t, raw)

			res := h.loop.Handle(context.Background(), dispatch.KindStart)

			assert.Equal(t, OutcomeRedirect, res.Outcome)
			assert.Equal(t, []string{"invalidate", "prepare", "execute:start", "settle:5s"}, h.log.list())
		})
	}
}

func TestEveryAcceptedKindInvalidatesBeforeExecute(t *testing.T) {
	for _, kind := range dispatch.Kinds() {
		t.Run(kind.String(), func(t *testing.T) {
			h := newHarness(t, "Stop")

			h.loop.Handle(context.Background(), kind)

			events := h.log.list()
			invalidateAt, executeAt := -1, -1
			for i, ev := range events {
				if ev == "invalidate" && invalidateAt < 0 {
					invalidateAt = i
				}
				if ev == "execute:"+kind.String() {
					executeAt = i
				}
			}
			require.GreaterOrEqual(t, invalidateAt, 0, "no invalidation in %v", events)
			require.GreaterOrEqual(t, executeAt, 0, "no dispatch in %v", events)
			assert.Less(t, invalidateAt, executeAt)
			assert.Equal(t, 1, h.log.count("execute:"+kind.String()))
		})
	}
}

func TestForceRefreshUsesRefreshWindow(t *testing.T) {
	h := newHarness(t, "Enabled")

	res := h.loop.HandleForm(context.Background(), "force-notrack", "")

	assert.Equal(t, OutcomeRedirect, res.Outcome)
	assert.Equal(t, []string{"invalidate", "prepare", "execute:force-refresh", "settle:6s"}, h.log.list())
}

func TestShutdownTerminatesWithoutSettling(t *testing.T) {
	h := newHarness(t, "Enabled")

	res := h.loop.HandleForm(context.Background(), "shutdown", "")

	assert.Equal(t, OutcomeTerminated, res.Outcome)
	assert.Equal(t, []string{"invalidate", "execute:shutdown", "terminate:shutdown"}, h.log.list())
	assert.Equal(t, []dispatch.ActionKind{dispatch.KindShutdown}, h.terminated)
	require.Len(t, h.journal.entries, 1)
	assert.Equal(t, audit.OutcomeTerminated, h.journal.entries[0].Outcome)
}

func TestRestartHoldsFlushWindowBeforeDispatch(t *testing.T) {
	h := newHarness(t, "Enabled", WithWindows(Windows{Change: time.Second, Refresh: 2 * time.Second, Flush: 8 * time.Second}))

	done := make(chan Result, 1)
	go func() { done <- h.loop.Handle(context.Background(), dispatch.KindRestart) }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, []string{"invalidate"}, h.log.list())

	h.clock.Advance(8 * time.Second)
	select {
	case res := <-done:
		assert.Equal(t, OutcomeTerminated, res.Outcome)
		assert.Equal(t, 8*time.Second, res.Settled)
	case <-time.After(time.Second):
		t.Fatal("restart did not complete after the flush window")
	}
	assert.Equal(t, []string{"invalidate", "execute:restart", "terminate:restart"}, h.log.list())
}

func TestDispatchFailure(t *testing.T) {
	t.Run("StatusChange", func(t *testing.T) {
		h := newHarness(t, "Enabled")
		h.dispatcher.err = &dispatch.DispatchError{Kind: dispatch.KindStop, Cause: dispatch.ErrHelperFailed}

		res := h.loop.Handle(context.Background(), dispatch.KindStop)

		assert.Equal(t, OutcomeRedirect, res.Outcome)
		assert.True(t, errors.Is(res.Err, dispatch.ErrHelperFailed))
		assert.Equal(t, 5*time.Second, res.Settled)
		assert.Equal(t, []string{"invalidate", "prepare", "execute:stop", "settle:5s"}, h.log.list())
		require.Len(t, h.journal.entries, 1)
		assert.Equal(t, audit.OutcomeFailed, h.journal.entries[0].Outcome)
		assert.NotEmpty(t, h.journal.entries[0].Error)
	})

	t.Run("WriteBeforeFailureIsSeen", func(t *testing.T) {
		h := newHarness(t, "Enabled")
		h.dispatcher.onExec = func(dispatch.ActionKind) { h.config.set("Stop") }
		h.dispatcher.err = &dispatch.DispatchError{Kind: dispatch.KindStop, Cause: dispatch.ErrHelperFailed}

		res := h.loop.Handle(context.Background(), dispatch.KindStop)
		require.Error(t, res.Err)

		st, err := h.loop.CurrentStatus(context.Background())
		require.NoError(t, err)
		assert.Equal(t, status.Stopped(), st)
	})

	t.Run("ForceRefreshHoldsRefreshWindow", func(t *testing.T) {
		h := newHarness(t, "Enabled")
		h.dispatcher.err = &dispatch.DispatchError{Kind: dispatch.KindForceRefresh, Cause: dispatch.ErrHelperFailed}

		res := h.loop.Handle(context.Background(), dispatch.KindForceRefresh)

		assert.Equal(t, OutcomeRedirect, res.Outcome)
		assert.Equal(t, 1, h.log.count("settle:6s"))
	})

	t.Run("TerminalDoesNotTerminate", func(t *testing.T) {
		h := newHarness(t, "Enabled")
		h.dispatcher.err = &dispatch.DispatchError{Kind: dispatch.KindShutdown, Cause: dispatch.ErrHelperNotFound}

		res := h.loop.Handle(context.Background(), dispatch.KindShutdown)

		assert.Equal(t, OutcomeRedirect, res.Outcome)
		assert.True(t, errors.Is(res.Err, dispatch.ErrHelperNotFound))
		assert.Empty(t, h.terminated)
	})
}

func TestUnknownRequestNotHandled(t *testing.T) {
	h := newHarness(t, "Enabled")

	res := h.loop.HandleForm(context.Background(), "format-disk", "pause90")

	assert.Equal(t, OutcomeNotHandled, res.Outcome)
	assert.Empty(t, h.log.list())
	assert.Empty(t, h.journal.entries)
}

func TestAcceptedRequestIgnoresCancellation(t *testing.T) {
	h := newHarness(t, "Enabled")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := h.loop.Handle(ctx, dispatch.KindStop)

	assert.Equal(t, OutcomeRedirect, res.Outcome)
	assert.NoError(t, h.dispatcher.ctxErr)
	assert.Equal(t, 1, h.log.count("settle:5s"))
}

func TestNotifierSeesStatusAfterSettle(t *testing.T) {
	notifier := &fakeNotifier{}
	h := newHarness(t, "Enabled", WithNotifier(notifier))
	h.dispatcher.onExec = func(dispatch.ActionKind) { h.config.set("Stop") }

	h.loop.Handle(context.Background(), dispatch.KindStop)

	assert.Equal(t, []status.BlockingStatus{status.Stopped()}, notifier.published)
}

func TestCurrentStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("NearExpiryReloadsOnce", func(t *testing.T) {
		h := newHarness(t, "Paused1700000530")
		_, err := h.loop.Snapshot(ctx)
		require.NoError(t, err)
		h.config.set("Enabled")

		st, err := h.loop.CurrentStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, status.Enabled(), st)
		assert.Equal(t, 2, h.config.loadCount())
		assert.Equal(t, 1, h.log.count("invalidate"))
	})

	t.Run("DistantExpiryServedFromCache", func(t *testing.T) {
		h := newHarness(t, "Paused1700003000")

		st, err := h.loop.CurrentStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, status.PausedUntil(time.Unix(1700003000, 0)), st)
		assert.Equal(t, 1, h.config.loadCount())
		assert.Zero(t, h.log.count("invalidate"))
	})

	t.Run("ExpiredPauseNormalizes", func(t *testing.T) {
		h := newHarness(t, "Paused1700000000")

		st, err := h.loop.CurrentStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, status.Enabled(), st)
	})

	t.Run("Stopped", func(t *testing.T) {
		h := newHarness(t, "Stop")

		st, err := h.loop.CurrentStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, status.Stopped(), st)
	})
}

func TestProcessTerminatorExitsAfterDelay(t *testing.T) {
	codes := make(chan int, 1)
	term := ProcessTerminator{Delay: 10 * time.Millisecond, Exit: func(code int) { codes <- code }}

	term.Terminate(dispatch.KindShutdown)

	select {
	case code := <-codes:
		assert.Equal(t, 0, code)
	case <-time.After(time.Second):
		t.Fatal("exit was not called")
	}
}

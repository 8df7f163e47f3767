// Package control runs one operator request through validation, cache
// invalidation, helper dispatch and the settle wait.
//
// The loop keeps no state between requests. Within a request the steps are
// strictly ordered: the cached config is evicted before the helper runs, and
// the caller is held for the settle window afterwards so the helper's write
// lands before anyone repopulates the cache.
package control

import (
	"context"
	"time"

	"blockctl/internal/audit"
	"blockctl/internal/configstore"
	"blockctl/internal/dispatch"
	"blockctl/internal/metrics"
	"blockctl/internal/settle"
	"blockctl/internal/status"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// Phase is a step of the request state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseValidating
	PhaseInvalidating
	PhaseDispatching
	PhaseSettling
	PhaseDone
	PhaseRejected
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseValidating:
		return "validating"
	case PhaseInvalidating:
		return "invalidating"
	case PhaseDispatching:
		return "dispatching"
	case PhaseSettling:
		return "settling"
	case PhaseDone:
		return "done"
	case PhaseRejected:
		return "rejected"
	}
	return "unknown"
}

// Outcome tells the HTTP layer what to do with the response.
type Outcome int

const (
	// OutcomeNotHandled means the request carried no recognized action.
	OutcomeNotHandled Outcome = iota
	// OutcomeRejected means validation refused the action; render normally.
	OutcomeRejected
	// OutcomeRedirect means the action ran (or failed to) and the caller
	// should redirect back to the page.
	OutcomeRedirect
	// OutcomeTerminated means the host is going away; send nothing.
	OutcomeTerminated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNotHandled:
		return "not_handled"
	case OutcomeRejected:
		return "rejected"
	case OutcomeRedirect:
		return "redirect"
	case OutcomeTerminated:
		return "terminated"
	}
	return "unknown"
}

// Windows are the settle durations per action class. Change < Refresh < Flush.
type Windows struct {
	Change  time.Duration // pause, start, stop
	Refresh time.Duration // force-refresh
	Flush   time.Duration // held before restart and shutdown
}

// DefaultWindows returns the stock settle windows.
func DefaultWindows() Windows {
	return Windows{
		Change:  5 * time.Second,
		Refresh: 6 * time.Second,
		Flush:   8 * time.Second,
	}
}

// DefaultLeeway is how close to expiry a pause must be before the status
// view forces a reload.
const DefaultLeeway = 60 * time.Second

// Store is the part of the config store the loop needs.
type Store interface {
	Get(ctx context.Context) (*configstore.Snapshot, error)
	Invalidate(ctx context.Context)
}

// Journal receives the audit trail of each request.
type Journal interface {
	RecordAccepted(actionID, kind string)
	RecordAction(ctx context.Context, entry audit.Entry)
}

// Notifier is told about the status after an action completes.
type Notifier interface {
	Publish(st status.BlockingStatus, at time.Time)
}

// Result describes how a request ended.
type Result struct {
	Action  PendingAction
	Phase   Phase
	Outcome Outcome
	Err     error
	Settled time.Duration
}

// Loop is the control loop. It is safe for concurrent use.
type Loop struct {
	store      Store
	dispatcher dispatch.Dispatcher
	settler    settle.Settler
	terminator Terminator
	clock      clockwork.Clock
	recorder   metrics.Recorder
	journal    Journal
	notifier   Notifier
	windows    Windows
	leeway     time.Duration
}

// Option configures a Loop.
type Option func(*Loop)

func WithSettler(s settle.Settler) Option { return func(l *Loop) { l.settler = s } }
func WithTerminator(t Terminator) Option { return func(l *Loop) { l.terminator = t } }
func WithClock(c clockwork.Clock) Option { return func(l *Loop) { l.clock = c } }
func WithRecorder(r metrics.Recorder) Option { return func(l *Loop) { l.recorder = r } }
func WithJournal(j Journal) Option { return func(l *Loop) { l.journal = j } }
func WithNotifier(n Notifier) Option { return func(l *Loop) { l.notifier = n } }
func WithWindows(w Windows) Option { return func(l *Loop) { l.windows = w } }
func WithExpiryLeeway(d time.Duration) Option { return func(l *Loop) { l.leeway = d } }

// New creates a control loop. Without options it settles with a fixed
// delay on the real clock and never terminates the process.
func New(store Store, dispatcher dispatch.Dispatcher, opts ...Option) *Loop {
	l := &Loop{
		store:      store,
		dispatcher: dispatcher,
		clock:      clockwork.NewRealClock(),
		recorder:   metrics.NoopRecorder{},
		windows:    DefaultWindows(),
		leeway:     DefaultLeeway,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.settler == nil {
		l.settler = settle.NewFixedDelay(l.clock)
	}
	if l.terminator == nil {
		l.terminator = TerminatorFunc(func(dispatch.ActionKind) {})
	}
	return l
}

// HandleForm parses the posted form fields and runs the request.
func (l *Loop) HandleForm(ctx context.Context, operation, pauseTime string) Result {
	return l.Handle(ctx, ParseRequest(operation, pauseTime))
}

// Handle runs one request to completion. It blocks through dispatch and
// the settle window.
func (l *Loop) Handle(ctx context.Context, kind dispatch.ActionKind) Result {
	if kind == dispatch.KindUnknown {
		l.recorder.IncRequest(kind.String(), metrics.OutcomeNotHandled)
		return Result{Phase: PhaseIdle, Outcome: OutcomeNotHandled}
	}

	action := PendingAction{ID: uuid.New(), Kind: kind, RequestedAt: l.clock.Now()}
	log := logrus.WithFields(logrus.Fields{
		"action":    kind.String(),
		"action_id": action.ID.String(),
	})

	log.Debug("Validating action")
	if !l.accept(ctx, kind) {
		log.Info("Rejected start, blocking is already enabled")
		l.recorder.IncRequest(kind.String(), metrics.OutcomeRejected)
		l.record(ctx, action, audit.OutcomeRejected, nil)
		return Result{Action: action, Phase: PhaseRejected, Outcome: OutcomeRejected}
	}

	// Past this point the request runs to completion even if the client goes.
	ctx = context.WithoutCancel(ctx)
	if l.journal != nil {
		l.journal.RecordAccepted(action.ID.String(), kind.String())
	}

	log.Debug("Invalidating cached config")
	l.store.Invalidate(ctx)

	if kind.IsTerminal() {
		return l.handleTerminal(ctx, action, log)
	}

	waiter := l.settler.Prepare(ctx)

	log.Debug("Dispatching action")
	err := l.dispatch(ctx, kind)

	// The helper may have written the file before failing, so the window
	// is held either way.
	name, window := l.window(kind)
	log.WithField("window", window).Debug("Settling")
	settled := waiter.Wait(window)
	l.recorder.ObserveSettle(name, settled)

	if err != nil {
		log.WithError(err).Error("Action dispatch failed")
		l.recorder.IncRequest(kind.String(), metrics.OutcomeFailed)
		l.record(ctx, action, audit.OutcomeFailed, err)
		return Result{Action: action, Phase: PhaseDone, Outcome: OutcomeRedirect, Err: err, Settled: settled}
	}

	l.recorder.IncRequest(kind.String(), metrics.OutcomeDone)
	l.record(ctx, action, audit.OutcomeDone, nil)
	l.publish(ctx)
	log.WithField("settled", settled).Info("Action completed")
	return Result{Action: action, Phase: PhaseDone, Outcome: OutcomeRedirect, Settled: settled}
}

// handleTerminal holds the flush window, hands restart or shutdown to the
// helper and then terminates the console.
func (l *Loop) handleTerminal(ctx context.Context, action PendingAction, log *logrus.Entry) Result {
	name, window := l.window(action.Kind)
	log.WithField("window", window).Debug("Holding before terminal action")
	settled := l.hold(window)
	l.recorder.ObserveSettle(name, settled)

	log.Debug("Dispatching action")
	if err := l.dispatch(ctx, action.Kind); err != nil {
		log.WithError(err).Error("Action dispatch failed")
		l.recorder.IncRequest(action.Kind.String(), metrics.OutcomeFailed)
		l.record(ctx, action, audit.OutcomeFailed, err)
		return Result{Action: action, Phase: PhaseDone, Outcome: OutcomeRedirect, Err: err, Settled: settled}
	}

	l.recorder.IncRequest(action.Kind.String(), metrics.OutcomeTerminated)
	l.record(ctx, action, audit.OutcomeTerminated, nil)
	l.terminator.Terminate(action.Kind)
	return Result{Action: action, Phase: PhaseDone, Outcome: OutcomeTerminated, Settled: settled}
}

// accept reports whether kind may run. Only start can be refused: it is a
// no-op while blocking is already enabled.
func (l *Loop) accept(ctx context.Context, kind dispatch.ActionKind) bool {
	if kind != dispatch.KindStart {
		return true
	}
	snap, err := l.store.Get(ctx)
	if err != nil {
		logrus.WithError(err).Warn("Failed to read status, assuming blocking is enabled")
		return false
	}
	return snap.Status().Normalize(l.clock.Now()).State() != status.StateEnabled
}

func (l *Loop) dispatch(ctx context.Context, kind dispatch.ActionKind) error {
	start := l.clock.Now()
	err := l.dispatcher.Execute(ctx, kind)
	l.recorder.ObserveDispatch(kind.String(), l.clock.Since(start), err == nil)
	return err
}

func (l *Loop) window(kind dispatch.ActionKind) (string, time.Duration) {
	switch {
	case kind.IsTerminal():
		return "flush", l.windows.Flush
	case kind.FireAndForget():
		return "refresh", l.windows.Refresh
	}
	return "change", l.windows.Change
}

func (l *Loop) hold(window time.Duration) time.Duration {
	if window <= 0 {
		return 0
	}
	l.clock.Sleep(window)
	return window
}

func (l *Loop) record(ctx context.Context, action PendingAction, outcome string, err error) {
	if l.journal == nil {
		return
	}
	entry := audit.Entry{
		ActionID:    action.ID.String(),
		Kind:        action.Kind.String(),
		Outcome:     outcome,
		RequestedAt: action.RequestedAt,
		FinishedAt:  l.clock.Now(),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	l.journal.RecordAction(ctx, entry)
}

func (l *Loop) publish(ctx context.Context) {
	if l.notifier == nil {
		return
	}
	st, err := l.CurrentStatus(ctx)
	if err != nil {
		logrus.WithError(err).Debug("Skipping status push")
		return
	}
	l.notifier.Publish(st, l.clock.Now())
}

// CurrentStatus returns the normalized blocking status for display. A pause
// that ends within the expiry leeway triggers one forced reload, so the view
// follows the helper once it reverts the pause. If the config cannot be read
// the status is reported as Enabled along with the error.
func (l *Loop) CurrentStatus(ctx context.Context) (status.BlockingStatus, error) {
	snap, err := l.store.Get(ctx)
	if err != nil {
		return status.Enabled(), err
	}

	now := l.clock.Now()
	st := snap.Status()
	if expiry, paused := st.Expiry(); paused && expiry.Before(now.Add(l.leeway)) {
		logrus.WithField("paused_until", expiry.Unix()).Debug("Pause near expiry, reloading config")
		l.store.Invalidate(ctx)
		if snap, err = l.store.Get(ctx); err != nil {
			return status.Enabled(), err
		}
		st = snap.Status()
	}
	return st.Normalize(now), nil
}

// Snapshot returns the current configuration snapshot.
func (l *Loop) Snapshot(ctx context.Context) (*configstore.Snapshot, error) {
	return l.store.Get(ctx)
}

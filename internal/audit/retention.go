package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// Retention trims the action history on a schedule.
type Retention struct {
	scheduler gocron.Scheduler
	history   *History
	keep      time.Duration
	clock     clockwork.Clock
}

// NewRetention creates a daily trim job keeping days of history.
func NewRetention(history *History, days int, clock clockwork.Clock) (*Retention, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s, err := gocron.NewScheduler(gocron.WithClock(clock))
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	r := &Retention{
		scheduler: s,
		history:   history,
		keep:      time.Duration(days) * 24 * time.Hour,
		clock:     clock,
	}

	_, err = s.NewJob(
		gocron.DurationJob(24*time.Hour),
		gocron.NewTask(r.run),
		gocron.WithName("history-trim"),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("failed to create history trim job: %w", err)
	}
	return r, nil
}

// Start begins the scheduler.
func (r *Retention) Start() {
	logrus.WithField("keep", r.keep).Debug("Starting history retention")
	r.scheduler.Start()
}

// Stop shuts the scheduler down.
func (r *Retention) Stop() error {
	return r.scheduler.Shutdown()
}

// TrimNow deletes entries older than the retention window.
func (r *Retention) TrimNow(ctx context.Context) (int64, error) {
	return r.history.Trim(ctx, r.clock.Now().Add(-r.keep))
}

func (r *Retention) run() {
	n, err := r.TrimNow(context.Background())
	if err != nil {
		logrus.WithError(err).Warn("Failed to trim action history")
		return
	}
	if n > 0 {
		logrus.WithField("rows", n).Info("Trimmed action history")
	}
}

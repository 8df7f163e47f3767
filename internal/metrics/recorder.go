// Package metrics exposes control-loop counters. Components take a Recorder
// and default to NoopRecorder, so nothing needs a nil check.
package metrics

import "time"

// Outcome labels for control requests.
const (
	OutcomeDone        = "done"
	OutcomeRejected    = "rejected"
	OutcomeFailed      = "failed"
	OutcomeTerminated  = "terminated"
	OutcomeNotHandled  = "not_handled"
	ReloadResultOK     = "ok"
	ReloadResultFailed = "failed"
)

// Recorder receives observations from the config store and control loop.
type Recorder interface {
	IncRequest(kind, outcome string)
	ObserveDispatch(kind string, d time.Duration, success bool)
	ObserveSettle(window string, d time.Duration)
	IncInvalidation()
	IncReload(result string)
	IncMalformedStatus()
}

// NoopRecorder is a Recorder that does nothing.
type NoopRecorder struct{}

func (NoopRecorder) IncRequest(string, string)                   {}
func (NoopRecorder) ObserveDispatch(string, time.Duration, bool) {}
func (NoopRecorder) ObserveSettle(string, time.Duration)         {}
func (NoopRecorder) IncInvalidation()                            {}
func (NoopRecorder) IncReload(string)                            {}
func (NoopRecorder) IncMalformedStatus()                         {}

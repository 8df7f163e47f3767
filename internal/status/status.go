// Package status holds the blocking engine state and its string encoding.
//
// The helper persists the state as a single Status value: "Stop" for an
// operator stop, "Paused<unix seconds>" for a timed pause, and anything
// else (canonically "Enabled") for active blocking. The raw string is decoded
// at the config store boundary and never travels further.
package status

import (
	"strconv"
	"strings"
	"time"
)

const (
	pausedMarker  = "Paused"
	stoppedMarker = "Stop"
	enabledMarker = "Enabled"
)

// State is the variant tag of a BlockingStatus.
type State int

const (
	StateEnabled State = iota
	StateStopped
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePaused:
		return "paused"
	default:
		return "enabled"
	}
}

// BlockingStatus is one of Enabled, Stopped or PausedUntil(expiry).
// The zero value is Enabled. Values are comparable with ==.
type BlockingStatus struct {
	state State
	until int64 // Unix seconds, only meaningful for StatePaused
}

// Enabled returns the active-blocking status.
func Enabled() BlockingStatus { return BlockingStatus{state: StateEnabled} }

// Stopped returns the indefinitely-disabled status.
func Stopped() BlockingStatus { return BlockingStatus{state: StateStopped} }

// PausedUntil returns a pause expiring at t, truncated to whole seconds.
// Expiries before the Unix epoch are clamped to it.
func PausedUntil(t time.Time) BlockingStatus {
	until := t.Unix()
	if until < 0 {
		until = 0
	}
	return BlockingStatus{state: StatePaused, until: until}
}

// State reports which variant holds.
func (s BlockingStatus) State() State { return s.state }

// Expiry returns the pause expiry and true for a paused status.
func (s BlockingStatus) Expiry() (time.Time, bool) {
	if s.state != StatePaused {
		return time.Time{}, false
	}
	return time.Unix(s.until, 0), true
}

// Expired reports whether a pause has run out at now. Non-paused values
// never expire.
func (s BlockingStatus) Expired(now time.Time) bool {
	return s.state == StatePaused && now.Unix() >= s.until
}

// Normalize folds an expired pause back into Enabled. Every reader must
// look at the normalized value; the stored string is left untouched.
func (s BlockingStatus) Normalize(now time.Time) BlockingStatus {
	if s.Expired(now) {
		return Enabled()
	}
	return s
}

// Remaining returns the time left on a pause, or zero.
func (s BlockingStatus) Remaining(now time.Time) time.Duration {
	if s.state != StatePaused || s.Expired(now) {
		return 0
	}
	return time.Unix(s.until, 0).Sub(now)
}

// String returns the encoded form.
func (s BlockingStatus) String() string { return Encode(s) }

// Encode produces the raw Status value understood by the helper.
func Encode(s BlockingStatus) string {
	switch s.state {
	case StateStopped:
		return stoppedMarker
	case StatePaused:
		return pausedMarker + strconv.FormatInt(s.until, 10)
	default:
		return enabledMarker
	}
}

// Decode parses a raw Status value. It never fails: unknown values and
// paused values with a missing or non-numeric suffix decode to Enabled.
// Use Parse when the caller needs to know a value was malformed.
func Decode(raw string) BlockingStatus {
	s, _ := Parse(raw)
	return s
}

// Parse is Decode that also reports whether raw was a well-formed
// encoding. A false result still carries the fail-safe Enabled status.
func Parse(raw string) (BlockingStatus, bool) {
	switch {
	case raw == stoppedMarker:
		return Stopped(), true
	case strings.HasPrefix(raw, pausedMarker):
		suffix := raw[len(pausedMarker):]
		if !allDigits(suffix) {
			return Enabled(), false
		}
		until, err := strconv.ParseInt(suffix, 10, 64)
		if err != nil {
			return Enabled(), false
		}
		return BlockingStatus{state: StatePaused, until: until}, true
	case raw == enabledMarker || raw == "":
		return Enabled(), true
	default:
		return Enabled(), false
	}
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

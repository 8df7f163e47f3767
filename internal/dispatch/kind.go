package dispatch

import "time"

// ActionKind is the closed set of host actions the console can request.
type ActionKind int

const (
	KindUnknown ActionKind = iota
	KindPause5
	KindPause15
	KindPause30
	KindPause60
	KindStart
	KindStop
	KindRestart
	KindShutdown
	KindForceRefresh
)

var kindNames = map[ActionKind]string{
	KindPause5:       "pause5",
	KindPause15:      "pause15",
	KindPause30:      "pause30",
	KindPause60:      "pause60",
	KindStart:        "start",
	KindStop:         "stop",
	KindRestart:      "restart",
	KindShutdown:     "shutdown",
	KindForceRefresh: "force-refresh",
}

// Kinds returns every dispatchable kind in declaration order.
func Kinds() []ActionKind {
	return []ActionKind{
		KindPause5, KindPause15, KindPause30, KindPause60,
		KindStart, KindStop, KindRestart, KindShutdown, KindForceRefresh,
	}
}

func (k ActionKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKind maps a kind name back to its ActionKind.
func ParseKind(name string) (ActionKind, bool) {
	for k, n := range kindNames {
		if n == name {
			return k, true
		}
	}
	return KindUnknown, false
}

// PauseDuration returns the pause length for pause kinds.
func (k ActionKind) PauseDuration() (time.Duration, bool) {
	switch k {
	case KindPause5:
		return 5 * time.Minute, true
	case KindPause15:
		return 15 * time.Minute, true
	case KindPause30:
		return 30 * time.Minute, true
	case KindPause60:
		return 60 * time.Minute, true
	}
	return 0, false
}

// IsTerminal reports whether the host is expected to go away after dispatch.
func (k ActionKind) IsTerminal() bool {
	return k == KindRestart || k == KindShutdown
}

// IsStatusChange reports whether the kind only rewrites the blocking status.
func (k ActionKind) IsStatusChange() bool {
	switch k {
	case KindPause5, KindPause15, KindPause30, KindPause60, KindStart, KindStop:
		return true
	}
	return false
}

// FireAndForget reports whether Execute returns once the helper is launched.
func (k ActionKind) FireAndForget() bool {
	return k == KindForceRefresh
}

package control

import (
	"time"

	"blockctl/internal/dispatch"

	"github.com/google/uuid"
)

// Form field names posted by the console menu.
const (
	FieldOperation = "operation"
	FieldPauseTime = "pause-time"
)

var operations = map[string]dispatch.ActionKind{
	"force-notrack": dispatch.KindForceRefresh,
	"restart":       dispatch.KindRestart,
	"shutdown":      dispatch.KindShutdown,
}

var pauseTimes = map[string]dispatch.ActionKind{
	"pause5":  dispatch.KindPause5,
	"pause15": dispatch.KindPause15,
	"pause30": dispatch.KindPause30,
	"pause60": dispatch.KindPause60,
	"start":   dispatch.KindStart,
	"stop":    dispatch.KindStop,
}

// ParseRequest maps the posted form values to an action. The operation
// field wins when both are set. Unrecognized values give KindUnknown.
func ParseRequest(operation, pauseTime string) dispatch.ActionKind {
	if kind, ok := operations[operation]; ok {
		return kind
	}
	if kind, ok := pauseTimes[pauseTime]; ok {
		return kind
	}
	return dispatch.KindUnknown
}

// PendingAction is one accepted or rejected request, alive for a single
// request cycle.
type PendingAction struct {
	ID          uuid.UUID
	Kind        dispatch.ActionKind
	RequestedAt time.Time
}

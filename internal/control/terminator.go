package control

import (
	"os"
	"time"

	"blockctl/internal/dispatch"

	"github.com/sirupsen/logrus"
)

// Terminator ends the console process after a restart or shutdown has been
// handed to the helper.
type Terminator interface {
	Terminate(kind dispatch.ActionKind)
}

// TerminatorFunc adapts a function to Terminator.
type TerminatorFunc func(kind dispatch.ActionKind)

func (f TerminatorFunc) Terminate(kind dispatch.ActionKind) { f(kind) }

// ProcessTerminator exits the process after Delay, giving the HTTP server
// time to flush the empty response. No cleanup runs.
type ProcessTerminator struct {
	Delay time.Duration
	Exit  func(code int)
}

func (p ProcessTerminator) Terminate(kind dispatch.ActionKind) {
	exit := p.Exit
	if exit == nil {
		exit = os.Exit
	}
	logrus.WithFields(logrus.Fields{
		"action": kind.String(),
		"delay":  p.Delay,
	}).Warn("Host is going down, console exiting")
	time.AfterFunc(p.Delay, func() { exit(0) })
}

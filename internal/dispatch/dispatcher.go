// Package dispatch runs host actions through the privileged helper.
//
// Every ActionKind maps to one fixed argument list. Nothing supplied by the
// operator is ever placed on the helper's command line.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

var (
	// ErrHelperNotFound means the helper binary (or sudo) is missing or not
	// executable. Retrying will not help; the operator has to fix the install.
	ErrHelperNotFound = errors.New("privileged helper not found")

	// ErrHelperFailed means the helper was found but failed to start or
	// exited non-zero. The operator may resubmit.
	ErrHelperFailed = errors.New("privileged helper failed")

	// ErrUnknownAction is returned for kinds outside the argument table.
	ErrUnknownAction = errors.New("unknown action")
)

// helperArgs is the complete set of helper invocations.
var helperArgs = map[ActionKind][]string{
	KindPause5:       {"--pause", "5"},
	KindPause15:      {"--pause", "15"},
	KindPause30:      {"--pause", "30"},
	KindPause60:      {"--pause", "60"},
	KindStart:        {"--start"},
	KindStop:         {"--stop"},
	KindRestart:      {"--restart"},
	KindShutdown:     {"--shutdown"},
	KindForceRefresh: {"--force"},
}

// Args returns a copy of the helper arguments for kind.
func Args(kind ActionKind) ([]string, bool) {
	args, ok := helperArgs[kind]
	if !ok {
		return nil, false
	}
	out := make([]string, len(args))
	copy(out, args)
	return out, true
}

// DispatchError reports a failed helper invocation.
type DispatchError struct {
	Kind  ActionKind
	Cause error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s: %v", e.Kind, e.Cause)
}

func (e *DispatchError) Unwrap() error { return e.Cause }

// Fatal reports whether the failure needs operator intervention on the host.
func (e *DispatchError) Fatal() bool { return errors.Is(e.Cause, ErrHelperNotFound) }

// Dispatcher executes one action against the host.
type Dispatcher interface {
	Execute(ctx context.Context, kind ActionKind) error
}

// HelperDispatcher invokes the privileged helper executable.
type HelperDispatcher struct {
	path string
	sudo bool
}

var _ Dispatcher = (*HelperDispatcher)(nil)

// NewHelperDispatcher creates a dispatcher for the helper at path. With
// sudo set the helper runs as "sudo -n <path> <args>".
func NewHelperDispatcher(path string, sudo bool) *HelperDispatcher {
	return &HelperDispatcher{path: path, sudo: sudo}
}

// Execute runs the helper for kind. It blocks until the helper exits,
// except for fire-and-forget kinds which return once the process starts.
// The helper is never killed on ctx cancellation; a started host action
// always runs to completion.
func (d *HelperDispatcher) Execute(ctx context.Context, kind ActionKind) error {
	args, ok := Args(kind)
	if !ok {
		return &DispatchError{Kind: kind, Cause: ErrUnknownAction}
	}

	name, argv := d.command(args)
	if err := d.checkInstalled(name); err != nil {
		return &DispatchError{Kind: kind, Cause: err}
	}

	logger := logrus.WithFields(logrus.Fields{
		"action": kind.String(),
		"helper": d.path,
		"args":   strings.Join(args, " "),
	})

	cmd := exec.Command(name, argv...)

	if kind.FireAndForget() {
		if err := cmd.Start(); err != nil {
			return &DispatchError{Kind: kind, Cause: classify(err, nil)}
		}
		logger.WithField("pid", cmd.Process.Pid).Info("Helper launched")
		go func() {
			start := time.Now()
			if err := cmd.Wait(); err != nil {
				logger.WithError(err).Warn("Background helper exited with error")
				return
			}
			logger.WithField("duration", time.Since(start)).Debug("Background helper finished")
		}()
		return nil
	}

	output, err := cmd.CombinedOutput()
	if err != nil {
		return &DispatchError{Kind: kind, Cause: classify(err, output)}
	}

	logger.Info("Helper completed")
	return nil
}

func (d *HelperDispatcher) command(args []string) (string, []string) {
	if d.sudo {
		return "sudo", append([]string{"-n", d.path}, args...)
	}
	return d.path, args
}

func (d *HelperDispatcher) checkInstalled(name string) error {
	if d.sudo {
		if _, err := exec.LookPath(name); err != nil {
			return fmt.Errorf("%w: sudo: %v", ErrHelperNotFound, err)
		}
		if _, err := os.Stat(d.path); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrHelperNotFound, d.path, err)
		}
		return nil
	}
	if _, err := exec.LookPath(d.path); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrHelperNotFound, d.path, err)
	}
	return nil
}

func classify(err error, output []byte) error {
	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		msg := truncate(strings.TrimSpace(string(output)), maxOutputLen)
		if msg == "" {
			return fmt.Errorf("%w: exit status %d", ErrHelperFailed, exitErr.ExitCode())
		}
		return fmt.Errorf("%w: exit status %d: %s", ErrHelperFailed, exitErr.ExitCode(), msg)
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %v", ErrHelperNotFound, err)
	default:
		return fmt.Errorf("%w: %v", ErrHelperFailed, err)
	}
}

// maxOutputLen caps the helper output carried in errors.
const maxOutputLen = 256

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

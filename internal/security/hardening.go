// Package security applies process hardening to the console before it
// starts serving.
package security

import (
	"fmt"
	"os"
	"os/user"
	"syscall"

	"github.com/sirupsen/logrus"
)

// SensitiveEnv lists variables cleared once configuration is loaded.
var SensitiveEnv = []string{
	"BLOCKCTL_CACHE_SERVERS",
	"MEMCACHE_USERNAME",
	"MEMCACHE_PASSWORD",
}

// Hardening holds the hardening steps for the console process.
type Hardening struct {
	umask            int
	maxOpenFiles     uint64
	disableCoreDumps bool
}

// NewHardening creates the default hardening configuration
func NewHardening() *Hardening {
	return &Hardening{
		umask:            0077,
		maxOpenFiles:     1024,
		disableCoreDumps: true,
	}
}

// Apply runs every hardening step. Failures are logged, not returned, so
// an unprivileged console still starts.
func (h *Hardening) Apply() {
	if err := h.setResourceLimits(); err != nil {
		logrus.WithError(err).Warn("Failed to set resource limits")
	}
	if h.disableCoreDumps {
		if err := disableCoreDumps(); err != nil {
			logrus.WithError(err).Warn("Failed to disable core dumps")
		}
	}
	clearSensitiveEnv()

	// History and audit files are created owner-only.
	old := syscall.Umask(h.umask)
	logrus.Debugf("Changed umask from %04o to %04o", old, h.umask)
}

// CheckPrivileges reports a console running as root while the helper is
// reached through sudo. Only the helper needs root.
func CheckPrivileges(sudo bool) error {
	u, err := user.Current()
	if err != nil {
		return fmt.Errorf("failed to get current user: %w", err)
	}
	if u.Uid == "0" && sudo {
		return fmt.Errorf("console is running as root; run it as an unprivileged user allowed to sudo the helper")
	}
	return nil
}

func (h *Hardening) setResourceLimits() error {
	var cur syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &cur); err != nil {
		return fmt.Errorf("failed to read file descriptor limit: %w", err)
	}
	// Never raise the hard limit.
	if cur.Max < h.maxOpenFiles {
		return nil
	}
	limit := syscall.Rlimit{Cur: h.maxOpenFiles, Max: cur.Max}
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &limit); err != nil {
		return fmt.Errorf("failed to set file descriptor limit: %w", err)
	}
	logrus.Debugf("File descriptor limit set to %d", h.maxOpenFiles)
	return nil
}

func disableCoreDumps() error {
	return syscall.Setrlimit(syscall.RLIMIT_CORE, &syscall.Rlimit{Cur: 0, Max: 0})
}

func clearSensitiveEnv() {
	for _, v := range SensitiveEnv {
		os.Unsetenv(v)
	}
}

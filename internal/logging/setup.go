// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Options control logger setup.
type Options struct {
	Level     string // trace, debug, info, warn, error
	Format    string // text or json
	EnablePII bool
	Output    io.Writer
}

// Setup configures the standard logger and installs the sanitizing hook.
func Setup(opts Options) error {
	level := logrus.InfoLevel
	if opts.Level != "" {
		parsed, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}
	logrus.SetLevel(level)

	switch strings.ToLower(opts.Format) {
	case "", "text":
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("invalid log format %q", opts.Format)
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	logrus.SetOutput(out)

	logrus.StandardLogger().ReplaceHooks(make(logrus.LevelHooks))
	logrus.AddHook(NewSanitizingHook(opts.EnablePII))
	return nil
}

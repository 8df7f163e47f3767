// Package cmd implements the command-line interface for blockctl.
// It provides subcommands for serving the console, checking and changing
// the blocking status, and reading the action history.
package cmd

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"blockctl/internal/api"
	"blockctl/internal/audit"
	"blockctl/internal/cache"
	"blockctl/internal/config"
	"blockctl/internal/configstore"
	"blockctl/internal/control"
	"blockctl/internal/dispatch"
	"blockctl/internal/logging"
	"blockctl/internal/metrics"
	"blockctl/internal/settle"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// setup loads and validates configuration and configures logging.
func setup(configFile string) (*config.Config, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := logging.Setup(logging.Options{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		EnablePII: cfg.PIILoggingEnabled(),
	}); err != nil {
		return nil, err
	}

	if err := config.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	config.LogSecurityWarnings(cfg)
	logrus.WithField("config", config.SanitizeConfigForLogging(cfg)).Debug("Configuration loaded")
	return cfg, nil
}

func newCache(cfg *config.Config) (cache.Cache, error) {
	switch cfg.Cache.Backend {
	case "memcached":
		mc, err := cache.NewMemcached(cfg.Cache.Timeout, cfg.Cache.Servers...)
		if err != nil {
			return nil, err
		}
		if err := mc.Ping(); err != nil {
			logrus.WithError(err).Warn("Memcached not reachable, reads will reload from file")
		}
		return mc, nil
	default:
		return cache.NewMemory(cfg.Cache.TTL, cfg.Cache.TTL), nil
	}
}

func newSettler(cfg *config.Config, clock clockwork.Clock) (settle.Settler, error) {
	if cfg.Settle.Mode == "watch" {
		return settle.NewFileWatch(cfg.Blocking.ConfigPath, cfg.Settle.Grace, clock)
	}
	return settle.NewFixedDelay(clock), nil
}

// console is the wired set of components behind the control loop.
type console struct {
	cfg      *config.Config
	loop     *control.Loop
	registry *prometheus.Registry
	history  *audit.History
	audit    *audit.Logger
	hub      *api.Hub
}

// newConsole builds the control loop and its collaborators. terminator
// decides what happens after restart and shutdown.
func newConsole(cfg *config.Config, terminator control.Terminator) (*console, error) {
	clock := clockwork.NewRealClock()
	c := &console{cfg: cfg}

	var recorder metrics.Recorder = metrics.NoopRecorder{}
	if cfg.Metrics.Enabled {
		c.registry = prometheus.NewRegistry()
		recorder = metrics.NewPrometheusRecorder(c.registry)
	}

	if cfg.History.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.History.Path), 0700); err != nil {
			logrus.WithError(err).Warn("Failed to create history directory")
		}
		history, err := audit.OpenHistory(cfg.History.Path)
		if err != nil {
			logrus.WithError(err).Warn("Action history disabled")
		} else {
			c.history = history
		}
	}

	if cfg.History.AuditDir != "" {
		auditLog, err := audit.Open(cfg.History.AuditDir, c.history)
		if err != nil {
			logrus.WithError(err).Warn("Failed to initialize audit logging")
		} else {
			c.audit = auditLog
		}
	}
	if c.audit == nil && c.history != nil {
		logrus.Info("No audit directory, recording action history only")
		c.audit = audit.HistoryOnly(c.history)
	}

	shared, err := newCache(cfg)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	store := configstore.New(shared,
		&configstore.FileLoader{Path: cfg.Blocking.ConfigPath},
		configstore.WithTTL(cfg.Cache.TTL),
		configstore.WithClock(clock),
		configstore.WithRecorder(recorder),
	)

	settler, err := newSettler(cfg, clock)
	if err != nil {
		c.Close()
		return nil, err
	}

	opts := []control.Option{
		control.WithClock(clock),
		control.WithSettler(settler),
		control.WithRecorder(recorder),
		control.WithTerminator(terminator),
		control.WithExpiryLeeway(cfg.Blocking.ExpiryLeeway),
		control.WithWindows(control.Windows{
			Change:  cfg.Settle.Change,
			Refresh: cfg.Settle.Refresh,
			Flush:   cfg.Settle.Flush,
		}),
	}
	if c.audit != nil {
		opts = append(opts, control.WithJournal(c.audit))
	}
	if cfg.Server.WebSocket {
		c.hub = api.NewHub()
		opts = append(opts, control.WithNotifier(c.hub))
	}

	c.loop = control.New(store, dispatch.NewHelperDispatcher(cfg.Helper.Path, cfg.Helper.Sudo), opts...)
	return c, nil
}

func (c *console) metricsHandler() http.Handler {
	if c.registry == nil {
		return nil
	}
	return metrics.HTTPHandler(c.registry)
}

func (c *console) Close() {
	if c.audit != nil {
		c.audit.Close()
	}
	if c.history != nil {
		c.history.Close()
	}
}

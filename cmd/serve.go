package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"blockctl/internal/api"
	"blockctl/internal/audit"
	"blockctl/internal/control"
	"blockctl/internal/security"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// ServeOptions contains options for the serve command
type ServeOptions struct {
	ConfigFile string
	Listen     string
}

// NewServeCmd creates the serve command
func NewServeCmd() *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the blocking console",
		Long: `Serve the status page and control form for the blocking service.
Pause, start and stop requests are handed to the privileged helper and the
page is redirected once the new status has been written.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigFile, "config", "c", "", "config file path")
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides config)")

	return cmd
}

func runServe(opts *ServeOptions) error {
	cfg, err := setup(opts.ConfigFile)
	if err != nil {
		return err
	}
	if opts.Listen != "" {
		cfg.Server.Listen = opts.Listen
	}

	logrus.Info("Starting blockctl")

	security.NewHardening().Apply()
	if err := security.CheckPrivileges(cfg.Helper.Sudo); err != nil {
		logrus.WithError(err).Warn("SECURITY: privilege check failed")
	}

	// Restart and shutdown end the process once the helper has taken over.
	terminator := control.ProcessTerminator{Delay: cfg.Settle.ExitDelay, Exit: os.Exit}
	c, err := newConsole(cfg, terminator)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	if c.hub != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.hub.Run(ctx)
		}()
	}

	var retention *audit.Retention
	if c.history != nil && cfg.History.RetentionDays > 0 {
		retention, err = audit.NewRetention(c.history, cfg.History.RetentionDays, nil)
		if err != nil {
			logrus.WithError(err).Warn("History retention disabled")
		} else {
			retention.Start()
		}
	}

	var limiter *api.RateLimiter
	if cfg.Server.RateLimitPerMinute > 0 {
		limiter = api.NewRateLimiter(cfg.Server.RateLimitPerMinute, cfg.Server.RateLimitBurst)
	}

	server := api.NewServer(c.loop, api.Options{
		Hub:            c.hub,
		RateLimiter:    limiter,
		MetricsHandler: c.metricsHandler(),
	})

	errCh := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(cfg.Server.Listen); err != nil {
			errCh <- err
		}
	}()

	if st, err := c.loop.CurrentStatus(ctx); err != nil {
		logrus.WithError(err).Warn("Blocking status not readable yet")
	} else {
		logrus.WithField("status", st.State().String()).Info("Blocking status loaded")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logrus.Info("Shutting down...")
	case err := <-errCh:
		cancel()
		return fmt.Errorf("console server failed: %w", err)
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("Error stopping console server")
	}
	if retention != nil {
		if err := retention.Stop(); err != nil {
			logrus.WithError(err).Warn("Error stopping history retention")
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logrus.Info("All goroutines stopped cleanly")
	case <-time.After(5 * time.Second):
		logrus.Warn("Timeout waiting for goroutines to stop")
	}

	logrus.Info("blockctl stopped")
	return nil
}

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"blockctl/internal/control"
	"blockctl/internal/dispatch"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewActionCmd creates the action command
func NewActionCmd() *cobra.Command {
	var configFile string

	names := make([]string, 0, len(dispatch.Kinds()))
	for _, k := range dispatch.Kinds() {
		names = append(names, k.String())
	}

	cmd := &cobra.Command{
		Use:       "action <kind>",
		Short:     "Run a control action through the helper",
		Long:      fmt.Sprintf("Run one control action the way the console form does.\nKinds: %s", strings.Join(names, ", ")),
		Args:      cobra.ExactArgs(1),
		ValidArgs: names,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(configFile, args[0])
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path")

	return cmd
}

func runAction(configFile, name string) error {
	kind, ok := dispatch.ParseKind(name)
	if !ok {
		return fmt.Errorf("unknown action %q", name)
	}

	cfg, err := setup(configFile)
	if err != nil {
		return err
	}

	// There is no console process to end here.
	terminator := control.TerminatorFunc(func(k dispatch.ActionKind) {
		logrus.WithField("action", k.String()).Info("Host action handed to helper")
	})
	c, err := newConsole(cfg, terminator)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx := context.Background()
	res := c.loop.Handle(ctx, kind)

	switch res.Outcome {
	case control.OutcomeRejected:
		fmt.Printf("⚠️  %s rejected: blocking is already enabled\n", kind)
		return nil
	case control.OutcomeTerminated:
		fmt.Printf("✅ %s handed to the helper\n", kind)
		return nil
	}

	if res.Err != nil {
		return fmt.Errorf("%s failed: %w", kind, res.Err)
	}

	st, err := c.loop.CurrentStatus(ctx)
	if err != nil {
		fmt.Printf("⚠️  %s done, status not readable: %v\n", kind, err)
		return nil
	}
	fmt.Printf("✅ %s done, settled after %s\n", kind, res.Settled.Round(time.Millisecond))
	fmt.Printf("📊 Blocking is %s\n", st.State())
	return nil
}

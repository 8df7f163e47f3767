package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"blockctl/internal/audit"

	"github.com/spf13/cobra"
)

// NewHistoryCmd creates the history command
func NewHistoryCmd() *cobra.Command {
	var (
		configFile string
		limit      int
		trim       bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent control actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(configFile)
			if err != nil {
				return err
			}
			if cfg.History.Path == "" {
				return fmt.Errorf("action history is disabled")
			}

			history, err := audit.OpenHistory(cfg.History.Path)
			if err != nil {
				return err
			}
			defer history.Close()

			ctx := context.Background()
			if trim {
				r, err := audit.NewRetention(history, cfg.History.RetentionDays, nil)
				if err != nil {
					return err
				}
				n, err := r.TrimNow(ctx)
				_ = r.Stop()
				if err != nil {
					return err
				}
				fmt.Printf("🧹 Removed %d entries older than %d days\n", n, cfg.History.RetentionDays)
			}

			entries, err := history.Recent(ctx, limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No actions recorded")
				return nil
			}
			return printHistory(entries)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show")
	cmd.Flags().BoolVar(&trim, "trim", false, "remove entries past the retention window first")

	return cmd
}

func printHistory(entries []audit.Entry) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "REQUESTED\tACTION\tOUTCOME\tTOOK\tERROR")
	for _, e := range entries {
		took := e.FinishedAt.Sub(e.RequestedAt).Round(time.Millisecond)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.RequestedAt.Local().Format("2006-01-02 15:04:05"), e.Kind, e.Outcome, took, e.Error)
	}
	return w.Flush()
}

package main

import (
	"fmt"
	"os"

	"blockctl/cmd"

	"github.com/spf13/cobra"
)

var version = "1.0.0"

func main() {
	var rootCmd = &cobra.Command{
		Use:   "blockctl",
		Short: "Web console for a DNS blocking service",
		Long: `blockctl serves the status page and control form for a NoTrack-style
DNS blocking service. Pause, start, stop, restart and shutdown requests are
carried out by a privileged helper; blockctl waits for the new status to land
before answering.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		cmd.NewServeCmd(),
		cmd.NewStatusCmd(),
		cmd.NewActionCmd(),
		cmd.NewHistoryCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("blockctl v%s\n", version)
		},
	}
}

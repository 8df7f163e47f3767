package cmd

import (
	"context"
	"fmt"
	"time"

	"blockctl/internal/api"
	"blockctl/internal/configstore"
	"blockctl/internal/status"

	"github.com/miekg/dns"
	"github.com/spf13/cobra"
)

// StatusOptions contains options for the status command
type StatusOptions struct {
	ConfigFile string
	Resolver   string
	Domain     string
}

// NewStatusCmd creates the status command
func NewStatusCmd() *cobra.Command {
	opts := &StatusOptions{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the blocking status",
		Long: `Read the blocking status straight from the helper-owned config file
and check that the local resolver answers queries.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigFile, "config", "c", "", "config file path")
	cmd.Flags().StringVar(&opts.Resolver, "resolver", "127.0.0.1:53", "resolver to probe")
	cmd.Flags().StringVar(&opts.Domain, "domain", "example.com", "domain to query")

	return cmd
}

func runStatus(opts *StatusOptions) error {
	cfg, err := setup(opts.ConfigFile)
	if err != nil {
		return err
	}

	fmt.Println("🔍 Blocking Status Check")
	fmt.Println("========================")

	fmt.Println("\n📄 Config File:")
	loader := &configstore.FileLoader{Path: cfg.Blocking.ConfigPath}
	values, err := loader.Load(context.Background())
	if err != nil {
		fmt.Printf("❌ Cannot read %s: %v\n", cfg.Blocking.ConfigPath, err)
	} else {
		fmt.Printf("✅ Loaded %s (%d keys)\n", cfg.Blocking.ConfigPath, len(values))
		printBlockingStatus(values[configstore.StatusKey], time.Now())
	}

	fmt.Println("\n🌐 Resolver:")
	if rtt, err := probeResolver(opts.Resolver, opts.Domain); err != nil {
		fmt.Printf("❌ %s did not answer: %v\n", opts.Resolver, err)
	} else {
		fmt.Printf("✅ %s answered in %s\n", opts.Resolver, rtt.Round(time.Millisecond))
	}

	return nil
}

func printBlockingStatus(raw string, now time.Time) {
	st, ok := status.Parse(raw)
	if !ok {
		fmt.Printf("⚠️  Status value %q not recognized, treating as enabled\n", raw)
	}
	current := st.Normalize(now)
	view := api.NewStatusView(current, now)

	switch current.State() {
	case status.StateEnabled:
		fmt.Println("✅ Blocking is enabled")
	case status.StateStopped:
		fmt.Println("⛔ Blocking is stopped")
	case status.StatePaused:
		fmt.Printf("⏸️  Blocking is paused until %s (%ds left)\n",
			time.Unix(view.PausedUntil, 0).Format("15:04:05"), view.RemainingSeconds)
	}
	if st.Expired(now) {
		fmt.Println("💡 The pause has expired; the helper will re-enable blocking")
	}
}

func probeResolver(addr, domain string) (time.Duration, error) {
	c := new(dns.Client)
	c.Timeout = 2 * time.Second

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domain), dns.TypeA)

	_, rtt, err := c.Exchange(m, addr)
	return rtt, err
}

// Package cli implements the nexusctl operator commands.
package cli

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"MNEE-Nexus/sdk/go/nexus"
)

const defaultServer = "http://127.0.0.1:8080"

type app struct {
	server  string
	token   string
	timeout time.Duration
	client  *nexus.Client
}

// NewRootCommand builds the nexusctl command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "nexusctl",
		Short: "Drive the MNEE Nexus hiring daemon",
		Long: `nexusctl talks to a running nexusd: pick an agent, dispatch a paid
work request through the escrow and follow the notification feed.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			client, err := nexus.NewClient(a.server, nil)
			if err != nil {
				return err
			}
			client.SetToken(a.token)
			a.client = client
			return nil
		},
	}

	server := os.Getenv("NEXUS_SERVER")
	if server == "" {
		server = defaultServer
	}
	root.PersistentFlags().StringVar(&a.server, "server", server, "nexusd API base URL (env NEXUS_SERVER)")
	root.PersistentFlags().StringVar(&a.token, "token", os.Getenv("NEXUS_TOKEN"), "operator bearer token (env NEXUS_TOKEN)")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", 15*time.Second, "per-request timeout")

	// Subcommands (alphabetical)
	root.AddCommand(newAgentsCmd(a))
	root.AddCommand(newHireCmd(a))
	root.AddCommand(newLogsCmd(a))
	root.AddCommand(newSelectCmd(a))
	root.AddCommand(newStatusCmd(a))
	root.AddCommand(newWatchCmd(a))
	return root
}

// Execute runs the CLI.
func Execute() error {
	return NewRootCommand().Execute()
}

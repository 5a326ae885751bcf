package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newAgentsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "agents",
		Aliases: []string{"ls"},
		Short:   "List hireable agents with their wage",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), a.timeout)
			defer cancel()

			agents, err := a.client.Agents(ctx)
			if err != nil {
				return err
			}
			if len(agents) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No agents registered.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tROLE\tWAGE\tWORKER\tSPECIALTY")
			for _, agent := range agents {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", agent.ID, agent.Role, agent.Wage, agent.Worker, agent.Specialty)
			}
			return w.Flush()
		},
	}
}

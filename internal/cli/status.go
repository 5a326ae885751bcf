package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd(a *app) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the orchestrator phase, last attempt and escrow allowance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), a.timeout)
			defer cancel()

			out := cmd.OutOrStdout()
			state, err := a.client.State(ctx)
			if err != nil {
				return err
			}
			selection := state.Selection
			if selection == "" {
				selection = "(none)"
			}
			fmt.Fprintf(out, "Phase:      %s\n", state.Phase)
			fmt.Fprintf(out, "Selection:  %s\n", selection)
			if state.Active != nil {
				fmt.Fprintf(out, "Active:     %s (%s, %s)\n", state.Active.ID, state.Active.Agent, state.Active.Phase)
			}
			if last := state.Last; last != nil {
				outcome := last.Phase
				if last.Code != "" {
					outcome = fmt.Sprintf("%s [%s] %s", last.Phase, last.Code, last.Error)
				}
				fmt.Fprintf(out, "Last hire:  %s -> %s\n", last.Agent, outcome)
			}

			allowance, err := a.client.Allowance(ctx, owner)
			if err != nil {
				fmt.Fprintf(out, "Allowance:  unavailable (%v)\n", err)
				return nil
			}
			fmt.Fprintf(out, "Allowance:  %s %s (owner %s)\n", allowance.Amount, allowance.Symbol, allowance.Owner)
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "account to read the allowance for, defaults to the daemon wallet")
	return cmd
}

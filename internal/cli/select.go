package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newSelectCmd(a *app) *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "select [agent-id]",
		Short: "Choose the agent for the next hire",
		Args: func(cmd *cobra.Command, args []string) error {
			if reset {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), a.timeout)
			defer cancel()

			if reset {
				if err := a.client.ClearSelection(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Selection cleared.")
				return nil
			}
			agent, err := a.client.Select(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Selected %s.\n", agent)
			return nil
		},
	}
	cmd.Flags().BoolVar(&reset, "clear", false, "clear the current selection")
	return cmd
}

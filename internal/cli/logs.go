package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"MNEE-Nexus/sdk/go/nexus"
)

func newLogsCmd(a *app) *cobra.Command {
	var (
		limit       int
		completions bool
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the notification feed, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), a.timeout)
			defer cancel()

			out := cmd.OutOrStdout()
			if completions {
				events, err := a.client.Completions(ctx, limit)
				if err != nil {
					return err
				}
				for _, evt := range events {
					fmt.Fprintf(out, "task #%s  block %d  %s\n", evt.TaskID, evt.BlockNumber, evt.Output)
				}
				return nil
			}

			entries, err := a.client.Logs(ctx, limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No log entries.")
				return nil
			}
			for _, e := range entries {
				printEntry(out, e)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show, 0 for all")
	cmd.Flags().BoolVar(&completions, "completions", false, "show completion events only")
	return cmd
}

func printEntry(out io.Writer, e nexus.Entry) {
	fmt.Fprintf(out, "%s  %-10s %s\n", e.Timestamp.Local().Format("15:04:05"), e.Kind, e.Text)
	if e.Link != "" {
		fmt.Fprintf(out, "          %-10s %s\n", "link", e.Link)
	}
}

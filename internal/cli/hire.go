package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/spf13/cobra"

	"MNEE-Nexus/sdk/go/nexus"
)

func newHireCmd(a *app) *cobra.Command {
	var (
		wait     bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "hire [agent-id]",
		Short: "Dispatch a paid work request to the selected agent",
		Long: `Trigger the approve then createTask sequence. When an agent id is
given it is selected first. With --wait the command follows the attempt until
it completes or fails.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			ctx, cancel := context.WithTimeout(cmd.Context(), a.timeout)
			defer cancel()

			if len(args) == 1 {
				if _, err := a.client.Select(ctx, args[0]); err != nil {
					return err
				}
			}
			attempt, err := a.client.Hire(ctx)
			if err != nil {
				if nexus.IsBusy(err) {
					return errors.New("a hire is already in progress")
				}
				return err
			}
			fmt.Fprintf(out, "Hire %s dispatched for %s.\n", attempt.ID, attempt.Agent)
			if !wait {
				return nil
			}
			return followAttempt(cmd.Context(), a.client, out, attempt.ID, interval)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the attempt to finish")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "polling interval used with --wait")
	return cmd
}

// followAttempt polls the daemon until attemptID is terminal and prints the
// outcome.
func followAttempt(ctx context.Context, client *nexus.Client, out io.Writer, attemptID string, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	phase := ""
	for {
		state, err := client.State(ctx)
		if err != nil {
			return err
		}
		if state.Active != nil && state.Active.ID == attemptID && state.Active.Phase != phase {
			phase = state.Active.Phase
			fmt.Fprintf(out, "  phase: %s\n", phase)
		}
		if state.Last != nil && state.Last.ID == attemptID {
			return reportAttempt(out, *state.Last)
		}
		if state.Active == nil || state.Active.ID != attemptID {
			// 已被更新的雇佣覆盖，从记录中查找结果。
			return reportFromJournal(ctx, client, out, attemptID)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func reportAttempt(out io.Writer, attempt nexus.Attempt) error {
	if attempt.Phase == "completed" {
		if attempt.TaskID != nil {
			fmt.Fprintf(out, "Completed: task #%s created for %s.\n", attempt.TaskID, attempt.Agent)
		} else {
			fmt.Fprintf(out, "Completed: work request sent to %s.\n", attempt.Agent)
		}
		return nil
	}
	return fmt.Errorf("hire failed [%s]: %s", attempt.Code, attempt.Error)
}

func reportFromJournal(ctx context.Context, client *nexus.Client, out io.Writer, attemptID string) error {
	records, err := client.Attempts(ctx, 50)
	if err != nil {
		return fmt.Errorf("hire %s is no longer tracked and the journal is unavailable: %w", attemptID, err)
	}
	for _, r := range records {
		if r.ID != attemptID {
			continue
		}
		attempt := nexus.Attempt{ID: r.ID, Agent: r.Agent, Phase: r.Phase, Code: r.Code, Error: r.Error}
		if r.TaskID != "" {
			if id, ok := new(big.Int).SetString(r.TaskID, 10); ok {
				attempt.TaskID = id
			}
		}
		return reportAttempt(out, attempt)
	}
	return fmt.Errorf("hire %s finished but its outcome is no longer available", attemptID)
}

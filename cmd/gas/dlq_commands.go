package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"gas/internal/broker"
)

func newDLQCommand(ctx *commandContext) *cobra.Command {
	dlqCmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and redrive dead-lettered messages",
	}
	dlqCmd.AddCommand(newDLQListCommand(ctx))
	dlqCmd.AddCommand(newDLQReplayCommand(ctx))
	dlqCmd.AddCommand(newDLQPurgeCommand(ctx))
	return dlqCmd
}

func newDLQListCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list <queue>",
		Short: "List dead letters recorded for a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx := context.Background()
			rt, err := ctx.openRuntime(runCtx)
			if err != nil {
				return err
			}
			defer rt.close() //nolint:errcheck

			letters, err := rt.broker.DeadLetters(runCtx, args[0], limit)
			if err != nil {
				return err
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, letters)
			}
			if len(letters) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No dead letters on %s\n", args[0])
				return nil
			}
			rows := make([][]string, 0, len(letters))
			for _, dl := range letters {
				rows = append(rows, []string{
					dl.ID,
					strconv.Itoa(dl.ReceiveCount),
					dl.FailedAt.Local().Format("2006-01-02 15:04:05"),
					truncate(dl.Reason, 72),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Message", "Receives", "Failed", "Reason"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of dead letters")
	return cmd
}

func newDLQReplayCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <message-id>...",
		Short: "Move dead letters back onto their queues",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx := context.Background()
			rt, err := ctx.openRuntime(runCtx)
			if err != nil {
				return err
			}
			defer rt.close() //nolint:errcheck

			out := cmd.OutOrStdout()
			var errs []error
			for _, id := range args {
				dl, err := rt.broker.Replay(runCtx, id)
				if errors.Is(err, broker.ErrDeadLetterNotFound) {
					errs = append(errs, fmt.Errorf("dead letter %s not found", id))
					continue
				}
				if err != nil {
					errs = append(errs, fmt.Errorf("replay %s: %w", id, err))
					continue
				}
				fmt.Fprintf(out, "Replayed %s onto %s\n", dl.ID, dl.Queue)
			}
			return errors.Join(errs...)
		},
	}
}

func newDLQPurgeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "purge <queue>",
		Short: "Drop every dead letter recorded for a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx := context.Background()
			rt, err := ctx.openRuntime(runCtx)
			if err != nil {
				return err
			}
			defer rt.close() //nolint:errcheck

			n, err := rt.broker.Purge(runCtx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Purged %d dead letter(s) from %s\n", n, args[0])
			return nil
		},
	}
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}

package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"gas/internal/jobs"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect annotation jobs",
	}
	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsStatsCommand(ctx))
	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var userID string
	var statusFlags []string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses := make([]jobs.Status, 0, len(statusFlags))
			for _, value := range statusFlags {
				status, ok := jobs.ParseStatus(value)
				if !ok {
					return fmt.Errorf("unknown status %q", value)
				}
				statuses = append(statuses, status)
			}

			runCtx := context.Background()
			rt, err := ctx.openRuntime(runCtx)
			if err != nil {
				return err
			}
			defer rt.close() //nolint:errcheck

			var list []*jobs.Job
			if strings.TrimSpace(userID) != "" {
				list, err = rt.jobs.ListByUser(runCtx, userID)
			} else {
				list, err = rt.jobs.List(runCtx, limit, statuses...)
			}
			if err != nil {
				return err
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, list)
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
				return nil
			}
			rows := make([][]string, 0, len(list))
			for _, job := range list {
				rows = append(rows, []string{
					job.JobID,
					job.UserID,
					job.InputFileName,
					titleCase(string(job.Status)),
					titleCase(string(job.StorageStatus)),
					formatUnix(job.SubmitTime),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Job", "User", "Input", "Status", "Storage", "Submitted"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
			))
			return nil
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "Only jobs owned by this user")
	cmd.Flags().StringSliceVarP(&statusFlags, "status", "s", nil, "Filter by status (PENDING, RUNNING, COMPLETED)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of jobs")
	return cmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx := context.Background()
			rt, err := ctx.openRuntime(runCtx)
			if err != nil {
				return err
			}
			defer rt.close() //nolint:errcheck

			job, err := rt.jobs.Get(runCtx, args[0])
			if err != nil {
				return err
			}
			if job == nil {
				return fmt.Errorf("job %s not found", args[0])
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, job)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderKeyValues([][2]string{
				{"Job", job.JobID},
				{"User", job.UserID},
				{"Input", job.InputsBucket + "/" + job.InputKey},
				{"Status", titleCase(string(job.Status))},
				{"Submitted", formatUnix(job.SubmitTime)},
				{"Completed", formatUnix(job.CompleteTime)},
				{"Result", joinLocation(job.ResultsBucket, job.ResultKey)},
				{"Log", joinLocation(job.ResultsBucket, job.LogKey)},
				{"Storage", titleCase(string(job.StorageStatus))},
				{"Archive", job.ArchiveID},
				{"Retrieval", strings.TrimSpace(job.RetrievalHandle + " " + job.RetrievalTier)},
				{"Claims", strconv.Itoa(job.ClaimCount)},
			}))
			return nil
		},
	}
}

func newJobsStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize job counts and queue depths",
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx := context.Background()
			rt, err := ctx.openRuntime(runCtx)
			if err != nil {
				return err
			}
			defer rt.close() //nolint:errcheck

			summary, err := rt.jobs.Health(runCtx)
			if err != nil {
				return err
			}
			q := rt.cfg.Queues
			queueRows := make([][]string, 0, 6)
			type queueStat struct {
				Queue       string `json:"queue"`
				Visible     int    `json:"visible"`
				Hidden      int    `json:"hidden"`
				DeadLetters int    `json:"dead_letters"`
			}
			var queues []queueStat
			for _, name := range []string{q.Uploads, q.Requests, q.Results, q.Archive, q.Restore, q.Thaw} {
				stats, err := rt.broker.Stats(runCtx, name)
				if err != nil {
					return fmt.Errorf("queue %s: %w", name, err)
				}
				queues = append(queues, queueStat{name, stats.Visible, stats.Hidden, stats.DeadLetters})
				queueRows = append(queueRows, []string{name, strconv.Itoa(stats.Visible), strconv.Itoa(stats.Hidden), strconv.Itoa(stats.DeadLetters)})
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, map[string]any{"jobs": summary, "queues": queues})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderKeyValues([][2]string{
				{"Total", strconv.Itoa(summary.Total)},
				{"Pending", strconv.Itoa(summary.Pending)},
				{"Running", strconv.Itoa(summary.Running)},
				{"Completed", strconv.Itoa(summary.Completed)},
				{"Archived", strconv.Itoa(summary.Archived)},
				{"Restored", strconv.Itoa(summary.Restored)},
			}))
			fmt.Fprintln(out, renderTable(
				[]string{"Queue", "Visible", "In flight", "Dead letters"},
				queueRows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}
}

var titleCaser = cases.Title(language.English)

// titleCase renders stored enum values like "ARCHIVED" as "Archived".
func titleCase(value string) string {
	if value == "" {
		return "-"
	}
	return titleCaser.String(strings.ToLower(value))
}

func formatUnix(seconds int64) string {
	if seconds <= 0 {
		return "-"
	}
	return time.Unix(seconds, 0).Local().Format("2006-01-02 15:04:05")
}

func joinLocation(bucket, key string) string {
	if key == "" {
		return "-"
	}
	return bucket + "/" + key
}

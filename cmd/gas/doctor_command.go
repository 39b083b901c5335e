package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"gas/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check local readiness and store connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			runCtx := context.Background()
			results := preflight.RunAll(runCtx, cfg)

			rt, openErr := ctx.openRuntime(runCtx)
			if openErr == nil {
				defer rt.close() //nolint:errcheck
				pingErr := rt.jobs.Ping(runCtx)
				results = append(results, preflight.Result{Name: "Job store", Passed: pingErr == nil, Detail: errDetail(pingErr, cfg.Store.Path)})
				_, statsErr := rt.broker.Stats(runCtx, cfg.Queues.Requests)
				results = append(results, preflight.Result{Name: "Broker", Passed: statsErr == nil, Detail: errDetail(statsErr, cfg.Broker.Backend)})
			} else {
				results = append(results, preflight.Result{Name: "Stores", Passed: false, Detail: openErr.Error()})
			}

			if ctx.JSONMode() {
				return writeJSON(cmd, results)
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range renderSectionHeader("gas doctor", colorize) {
				fmt.Fprintln(out, line)
			}
			if ctx.configPath != "" {
				fmt.Fprintln(out, renderStatusLine("Config", statusInfo, ctx.configPath, colorize))
			}
			for _, r := range results {
				kind := statusOK
				if !r.Passed {
					kind = statusError
				}
				fmt.Fprintln(out, renderStatusLine(r.Name, kind, r.Detail, colorize))
			}
			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d check(s) failed", len(failed))
			}
			return nil
		},
	}
}

func errDetail(err error, ok string) string {
	if err != nil {
		return err.Error()
	}
	return ok
}

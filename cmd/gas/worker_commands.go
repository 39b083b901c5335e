package main

import (
	"context"
	"fmt"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"gas/internal/api"
	"gas/internal/logging"
	"gas/internal/pipeline"
)

// workerVault runs the local cold store's retrieval completer.
const workerVault = "vault"

func workerNames() []string {
	return append(pipeline.WorkerNames(), workerVault)
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var withAPI bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every pipeline worker in one process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkers(ctx, workerNames(), withAPI)
		},
	}
	cmd.Flags().BoolVar(&withAPI, "api", true, "Serve the HTTP API alongside the workers")
	return cmd
}

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:       "worker <name>...",
		Short:     "Run one or more pipeline workers",
		Long:      "Run the named workers until interrupted. Known workers: " + strings.Join(workerNames(), ", "),
		Args:      cobra.MinimumNArgs(1),
		ValidArgs: workerNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range args {
				if !slices.Contains(workerNames(), name) {
					return fmt.Errorf("unknown worker %q (want one of %s)", name, strings.Join(workerNames(), ", "))
				}
			}
			return runWorkers(ctx, args, false)
		},
	}
}

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkers(ctx, nil, true)
		},
	}
}

func runWorkers(cmdCtx *commandContext, names []string, withAPI bool) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := cmdCtx.openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close() //nolint:errcheck

	deps := rt.deps()
	var workers []pipeline.Worker
	for _, name := range names {
		if name == workerVault {
			workers = append(workers, rt.completer())
			continue
		}
		w, err := deps.Worker(name)
		if err != nil {
			return err
		}
		workers = append(workers, w)
	}
	if withAPI {
		server := api.New(deps, rt.accounts)
		workers = append(workers, pipeline.Worker{Name: "api", Run: server.Serve})
	}

	started := make([]string, 0, len(workers))
	for _, w := range workers {
		started = append(started, w.Name)
	}
	rt.logger.Info("gas starting",
		logging.String("workers", strings.Join(started, ",")),
		logging.String("broker", rt.cfg.Broker.Backend),
		logging.String("object_store", rt.cfg.ObjectStore.Backend),
		logging.String(logging.FieldEventType, "startup"),
	)
	err = pipeline.Run(ctx, workers...)
	rt.logger.Info("gas shutting down", logging.String(logging.FieldEventType, "shutdown"))
	return err
}

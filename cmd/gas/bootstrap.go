package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gas/internal/accounts"
	"gas/internal/annotation"
	"gas/internal/broker"
	"gas/internal/config"
	"gas/internal/jobs"
	"gas/internal/logging"
	"gas/internal/notifications"
	"gas/internal/objectstore"
	"gas/internal/pipeline"
	"gas/internal/scratch"
	"gas/internal/vault"
)

// runtime holds every collaborator a worker or operator command may need.
type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	jobs     *jobs.Store
	broker   broker.Broker
	objects  objectstore.Store
	vault    *vault.Local
	accounts accounts.Store
	closers  []func() error
}

// openRuntime opens the stores and transport described by the config. The
// caller must call close.
func (c *commandContext) openRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	rt := &runtime{cfg: cfg, logger: logger}

	if rt.jobs, err = jobs.OpenFromConfig(ctx, cfg); err != nil {
		return nil, rt.fail(fmt.Errorf("open job store: %w", err))
	}
	rt.closers = append(rt.closers, rt.jobs.Close)

	if rt.broker, err = broker.Open(ctx, cfg, logging.NewComponentLogger(logger, "broker")); err != nil {
		return nil, rt.fail(fmt.Errorf("open broker: %w", err))
	}
	rt.closers = append(rt.closers, rt.broker.Close)

	if rt.objects, err = objectstore.Open(ctx, cfg); err != nil {
		return nil, rt.fail(fmt.Errorf("open object store: %w", err))
	}

	if rt.vault, err = vault.OpenLocal(ctx, rt.objects, vault.OptionsFromConfig(cfg)); err != nil {
		return nil, rt.fail(fmt.Errorf("open vault: %w", err))
	}
	rt.closers = append(rt.closers, rt.vault.Close)

	if rt.accounts, err = accounts.Open(ctx, cfg); err != nil {
		return nil, rt.fail(fmt.Errorf("open accounts: %w", err))
	}
	rt.closers = append(rt.closers, rt.accounts.Close)

	return rt, nil
}

func (rt *runtime) fail(err error) error {
	return errors.Join(err, rt.close())
}

func (rt *runtime) close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i]())
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// deps assembles the pipeline collaborators.
func (rt *runtime) deps() pipeline.Deps {
	return pipeline.Deps{
		Config:   rt.cfg,
		Jobs:     rt.jobs,
		Broker:   rt.broker,
		Objects:  rt.objects,
		Vault:    rt.vault,
		Accounts: rt.accounts,
		Notifier: notifications.NewService(rt.cfg),
		Runner:   annotation.ExecRunner{Binary: rt.cfg.Processing.AnnotatorBinary},
		Scratch:  scratch.NewManager(rt.cfg.Paths.ScratchDir, rt.cfg.Processing.MinFreeSpaceMB),
		Logger:   rt.logger,
	}
}

// completer builds the loop that finishes due vault retrievals and announces
// them on the thaw queue.
func (rt *runtime) completer() pipeline.Worker {
	c := vault.NewCompleter(rt.vault, rt.broker, rt.cfg.Queues.Thaw, rt.cfg.Vault.PollInterval(),
		logging.NewComponentLogger(rt.logger, "vault"))
	return pipeline.Worker{Name: workerVault, Run: c.Run}
}

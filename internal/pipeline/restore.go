package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"gas/internal/broker"
	"gas/internal/jobs"
	"gas/internal/logging"
	"gas/internal/messages"
	"gas/internal/services"
	"gas/internal/vault"
)

// Restorer issues vault retrievals for every archived result of a user who
// upgraded. Each job tries the Expedited tier first and falls back to
// Standard once when the vault rejects it.
type Restorer struct {
	deps    Deps
	logger  *slog.Logger
	limiter *rate.Limiter
}

// NewRestorer builds the restore stage.
func NewRestorer(deps Deps) *Restorer {
	cfg := deps.Config.Restore
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := max(cfg.Concurrency, 1)
	return &Restorer{
		deps:    deps,
		logger:  deps.logger(StageRestore),
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Name implements Handler.
func (r *Restorer) Name() string { return StageRestore }

// Handle implements Handler.
func (r *Restorer) Handle(ctx context.Context, d *broker.Delivery) error {
	var upgrade messages.TierUpgrade
	if err := messages.Decode(d.Body, &upgrade); err != nil {
		return err
	}
	if err := upgrade.Validate(); err != nil {
		return err
	}
	_, err := r.Restore(ctx, upgrade.UserID)
	return err
}

// RestoreResult summarises one restore batch.
type RestoreResult struct {
	Requested int
	Skipped   int
	Failed    []string
}

// Restore requests retrieval of the user's archived results. Jobs whose
// retrieval is still live in the vault are skipped, so a redelivered upgrade
// retries only the jobs that failed or whose retrieval went stale. Per-job
// failures do not stop the batch; they are joined into the returned error so
// the message is redelivered.
func (r *Restorer) Restore(ctx context.Context, userID string) (RestoreResult, error) {
	logger := logging.WithContext(ctx, r.logger).With(logging.UserID(userID))

	archived, err := r.deps.Jobs.ListArchived(ctx, userID)
	if err != nil {
		return RestoreResult{}, fmt.Errorf("%w: %w", services.ErrTransient, err)
	}

	var (
		mu     sync.Mutex
		result RestoreResult
		errs   []error
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(max(r.deps.Config.Restore.Concurrency, 1))
	for _, job := range archived {
		group.Go(func() error {
			pending, err := r.retrievalPending(groupCtx, job, logger)
			if err == nil && !pending {
				err = r.restoreJob(groupCtx, job)
			}
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				result.Failed = append(result.Failed, job.JobID)
				// %v keeps per-job markers from deciding the batch disposition.
				errs = append(errs, fmt.Errorf("job %s: %v", job.JobID, err))
				logging.WarnWithContext(logger, "restore request failed", "restore_failed",
					logging.JobID(job.JobID),
					logging.Error(err),
					logging.Impact("job stays archived until the upgrade is redelivered"),
				)
			case pending:
				result.Skipped++
			default:
				result.Requested++
			}
			return nil
		})
	}
	_ = group.Wait()

	logger.Info("restore batch finished",
		logging.Int("requested", result.Requested),
		logging.Int("skipped", result.Skipped),
		logging.Int("failed", len(result.Failed)),
		logging.String(logging.FieldEventType, "restore_batch"),
	)
	if len(errs) > 0 {
		return result, fmt.Errorf("%w: %d of %d restores failed: %w",
			services.ErrTransient, len(errs), len(archived)-result.Skipped, errors.Join(errs...))
	}
	return result, nil
}

// retrievalPending reports whether the job's recorded retrieval can still
// deliver its callback. A handle the vault no longer knows, or one requested
// longer ago than restore.retrieval_timeout, is stale and gets replaced.
func (r *Restorer) retrievalPending(ctx context.Context, job *jobs.Job, logger *slog.Logger) (bool, error) {
	if !job.RestoreInFlight() {
		return false, nil
	}
	stale := func(reason string) (bool, error) {
		logger.Info("replacing stale retrieval",
			logging.JobID(job.JobID),
			logging.String("retrieval", job.RetrievalHandle),
			logging.String("reason", reason),
		)
		return false, nil
	}
	if timeout := r.deps.Config.Restore.RetrievalTimeout(); timeout > 0 {
		if r.deps.now().Sub(time.Unix(job.RestoreRequestedAt, 0)) > timeout {
			return stale("timed out")
		}
	}
	if _, err := r.deps.Vault.Retrieval(ctx, job.RetrievalHandle); err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return stale("unknown to the vault")
		}
		return false, err
	}
	return true, nil
}

func (r *Restorer) restoreJob(ctx context.Context, job *jobs.Job) error {
	req := vault.RetrievalRequest{
		ArchiveID:   job.ArchiveID,
		Description: job.ResultKey,
		JobID:       job.JobID,
	}
	var attempts []error
	for _, tier := range []vault.Tier{vault.TierExpedited, vault.TierStandard} {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
		req.Tier = tier
		handle, err := r.deps.Vault.InitiateRetrieval(ctx, req)
		if err != nil {
			attempts = append(attempts, fmt.Errorf("%s: %w", tier, err))
			continue
		}
		if _, err := r.deps.Jobs.RecordRetrieval(ctx, job.JobID, handle, string(tier)); err != nil {
			return err
		}
		r.logger.Info("retrieval requested",
			logging.JobID(job.JobID),
			logging.String("retrieval", handle),
			logging.String("tier", string(tier)),
		)
		return nil
	}
	return errors.Join(attempts...)
}

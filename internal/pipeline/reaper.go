package pipeline

import (
	"context"
	"log/slog"
	"time"

	"gas/internal/logging"
	"gas/internal/messages"
)

// Reaper re-queues RUNNING jobs whose claimant stopped heartbeating, so a job
// whose processing message was consumed by a crashed worker still completes.
type Reaper struct {
	deps   Deps
	logger *slog.Logger
}

// NewReaper builds the stale-claim reaper.
func NewReaper(deps Deps) *Reaper {
	return &Reaper{deps: deps, logger: deps.logger(StageReaper)}
}

// Run ticks every processing.reaper_interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	interval := r.deps.Config.Processing.ReaperInterval()
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Tick(ctx); err != nil && ctx.Err() == nil {
				logging.WarnWithContext(r.logger, "stale claim sweep failed", "reaper_failed",
					logging.Error(err),
					logging.Impact("abandoned jobs wait for the next sweep"),
				)
			}
		}
	}
}

// Tick re-publishes a processing request for every stale RUNNING job and
// clears abandoned scratch workspaces. Jobs already claimed as often as the
// broker's receive limit are left alone. It returns the number of jobs re-queued.
func (r *Reaper) Tick(ctx context.Context) (int, error) {
	now := r.deps.now()
	stale, err := r.deps.Jobs.StaleRunning(ctx, now.Add(-r.deps.Config.Processing.HeartbeatTimeout()))
	if err != nil {
		return 0, err
	}
	maxClaims := r.deps.Config.Broker.ClaimLimit()
	requeued := 0
	for _, job := range stale {
		if job.ClaimCount >= maxClaims {
			logging.WarnWithContext(r.logger, "stale job exhausted its claims", "job_abandoned",
				logging.JobID(job.JobID),
				logging.Int("claim_count", job.ClaimCount),
				logging.Alert("job_abandoned"),
				logging.Impact("job stays RUNNING until an operator resubmits it"),
			)
			continue
		}
		if err := r.deps.publish(ctx, r.deps.Config.Queues.Requests, messages.ProcessingRequest{
			JobID:         job.JobID,
			UserID:        job.UserID,
			InputFileName: job.InputFileName,
			InputsBucket:  job.InputsBucket,
			InputKey:      job.InputKey,
			SubmitTime:    job.SubmitTime,
			JobStatus:     messages.JobStatusPending,
		}); err != nil {
			return requeued, err
		}
		requeued++
		r.logger.Info("re-queued stale job",
			logging.JobID(job.JobID),
			logging.Int("claim_count", job.ClaimCount),
			logging.String(logging.FieldEventType, "job_requeued"),
		)
	}
	if r.deps.Scratch != nil {
		if removed, err := r.deps.Scratch.CleanupStale(now); err != nil {
			r.logger.Warn("scratch cleanup failed", logging.Error(err))
		} else if removed > 0 {
			r.logger.Info("removed stale scratch workspaces", logging.Int("count", removed))
		}
	}
	return requeued, nil
}

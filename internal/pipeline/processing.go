package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gas/internal/broker"
	"gas/internal/jobs"
	"gas/internal/logging"
	"gas/internal/messages"
	"gas/internal/objectkey"
	"gas/internal/scratch"
	"gas/internal/services"
)

// Processor runs the annotation workload for processing requests.
type Processor struct {
	deps   Deps
	logger *slog.Logger
}

// NewProcessor builds the processing stage.
func NewProcessor(deps Deps) *Processor {
	return &Processor{deps: deps, logger: deps.logger(StageProcessing)}
}

// Name implements Handler.
func (p *Processor) Name() string { return StageProcessing }

// Handle implements Handler.
func (p *Processor) Handle(ctx context.Context, d *broker.Delivery) error {
	var req messages.ProcessingRequest
	if err := messages.Decode(d.Body, &req); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}
	return p.Process(ctx, req)
}

// Process claims and runs one job. Losing the claim to a live worker is not
// an error. A duplicate request for a completed job is rejected, unless the
// original run crashed before its fan-out committed; then the fan-out is
// published again.
func (p *Processor) Process(ctx context.Context, req messages.ProcessingRequest) error {
	ctx = services.WithJobID(ctx, req.JobID)
	logger := logging.WithContext(ctx, p.logger)

	userID := req.UserID
	if userID == "" {
		key, err := objectkey.Parse(req.InputKey)
		if err != nil {
			return err
		}
		userID = key.UserID
	}

	if err := p.deps.Scratch.Preflight(); err != nil {
		return err
	}
	ws, err := p.deps.Scratch.Acquire(userID, req.JobID)
	if errors.Is(err, scratch.ErrBusy) {
		logger.Info("job is running in another local worker", logging.String("outcome", string(jobs.ClaimAlreadyClaimed)))
		return nil
	}
	if err != nil {
		return err
	}

	staleBefore := p.deps.now().Add(-p.deps.Config.Processing.HeartbeatTimeout())
	outcome, err := p.deps.Jobs.Claim(ctx, req.JobID, staleBefore)
	if err != nil {
		_ = ws.Release()
		return fmt.Errorf("%w: %w", services.ErrTransient, err)
	}
	switch outcome {
	case jobs.ClaimNotFound:
		_ = ws.Remove()
		return services.Wrap(services.ErrNotFound, StageProcessing, "claim", "job "+req.JobID+" has no record", nil)
	case jobs.ClaimAlreadyClaimed:
		_ = ws.Release()
		logger.Info("job already claimed", logging.String("outcome", string(outcome)))
		return nil
	case jobs.ClaimAlreadyCompleted:
		_ = ws.Remove()
		job, err := p.deps.Jobs.Get(ctx, req.JobID)
		if err != nil || job == nil {
			return fmt.Errorf("%w: reload completed job: %v", services.ErrTransient, err)
		}
		if job.FannedOut {
			logger.Info("job already completed", logging.String("outcome", string(outcome)))
			return nil
		}
		logger.Info("job completed without fan-out; re-publishing", logging.String("outcome", string(outcome)))
		return p.fanOut(ctx, job)
	}
	logger.Info("job claimed", logging.String("outcome", string(outcome)))

	job, err := p.deps.Jobs.Get(ctx, req.JobID)
	if err == nil && job == nil {
		err = fmt.Errorf("job %s disappeared after claim", req.JobID)
	}
	if err == nil {
		err = p.run(ctx, job, ws, logger)
	}
	if removeErr := ws.Remove(); removeErr != nil {
		logger.Warn("scratch cleanup failed", logging.Error(removeErr), logging.String("dir", ws.Dir))
	}
	if err != nil {
		if releaseErr := p.deps.Jobs.Release(context.WithoutCancel(ctx), req.JobID); releaseErr != nil {
			logger.Warn("release claim failed", logging.Error(releaseErr))
		}
		return err
	}
	return nil
}

func (p *Processor) run(ctx context.Context, job *jobs.Job, ws *scratch.Workspace, logger *slog.Logger) error {
	cfg := p.deps.Config

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	var hb sync.WaitGroup
	hb.Add(1)
	go p.heartbeat(hbCtx, &hb, job.JobID, logger)
	defer func() {
		stopHeartbeat()
		hb.Wait()
	}()

	input := objectkey.New(cfg.ObjectStore.ResultsPrefix, job.UserID, job.JobID, job.InputFileName)
	localPath := ws.Path(input.BaseName())
	if err := p.deps.Objects.Download(ctx, job.InputsBucket, job.InputKey, localPath); err != nil {
		return fmt.Errorf("download input %s/%s: %w", job.InputsBucket, job.InputKey, err)
	}

	started := time.Now()
	outputs, err := p.deps.Runner.Run(localPath)
	if err != nil {
		return err
	}
	logger.Info("annotation finished", logging.Duration("elapsed", time.Since(started)))

	resultKey := input.Result(cfg.ObjectStore.ResultsPrefix).String()
	logKey := input.Log(cfg.ObjectStore.ResultsPrefix).String()
	bucket := cfg.ObjectStore.ResultsBucket
	if err := p.deps.Objects.Upload(ctx, bucket, resultKey, outputs.ResultPath); err != nil {
		return fmt.Errorf("upload result: %w", err)
	}
	if err := p.deps.Objects.Upload(ctx, bucket, logKey, outputs.LogPath); err != nil {
		return fmt.Errorf("upload log: %w", err)
	}

	completed, err := p.deps.Jobs.Complete(ctx, job.JobID, jobs.Completion{
		ResultsBucket: bucket,
		ResultKey:     resultKey,
		LogKey:        logKey,
		CompleteTime:  p.deps.now(),
	})
	if err != nil {
		return err
	}
	if !completed {
		logger.Info("job was completed by another worker")
	}
	if err := p.fanOut(ctx, job); err != nil {
		return err
	}
	logger.Info("job completed",
		logging.UserID(job.UserID),
		logging.String("result_key", resultKey),
		logging.String(logging.FieldEventType, "job_completed"),
	)
	return nil
}

// fanOut publishes the result-ready and archive-candidate messages, then
// records that it did. A crash between the two leaves the flag unset, so the
// next duplicate request publishes again.
func (p *Processor) fanOut(ctx context.Context, job *jobs.Job) error {
	event := messages.JobEvent{JobID: job.JobID, InputFileName: job.InputFileName, UserID: job.UserID}
	if err := p.deps.publish(ctx, p.deps.Config.Queues.Results, event); err != nil {
		return err
	}
	if err := p.deps.publish(ctx, p.deps.Config.Queues.Archive, event); err != nil {
		return err
	}
	if _, err := p.deps.Jobs.MarkFannedOut(ctx, job.JobID); err != nil {
		return fmt.Errorf("%w: %w", services.ErrTransient, err)
	}
	return nil
}

func (p *Processor) heartbeat(ctx context.Context, wg *sync.WaitGroup, jobID string, logger *slog.Logger) {
	defer wg.Done()
	interval := p.deps.Config.Processing.HeartbeatInterval()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := p.deps.Jobs.Heartbeat(ctx, jobID)
			switch {
			case err != nil && errors.Is(err, context.Canceled):
				return
			case err != nil:
				logger.Warn("heartbeat update failed", logging.Error(err))
			case !ok:
				logger.Warn("heartbeat found job no longer running")
			}
		}
	}
}

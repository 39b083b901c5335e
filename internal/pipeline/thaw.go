package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"gas/internal/broker"
	"gas/internal/jobs"
	"gas/internal/logging"
	"gas/internal/messages"
	"gas/internal/notifications"
	"gas/internal/objectkey"
	"gas/internal/services"
)

// Thawer copies finished retrievals back into hot storage and marks the job
// RESTORED.
type Thawer struct {
	deps   Deps
	logger *slog.Logger
}

// NewThawer builds the retrieval-completion stage.
func NewThawer(deps Deps) *Thawer {
	return &Thawer{deps: deps, logger: deps.logger(StageThaw)}
}

// Name implements Handler.
func (t *Thawer) Name() string { return StageThaw }

// Handle implements Handler.
func (t *Thawer) Handle(ctx context.Context, d *broker.Delivery) error {
	var done messages.RetrievalFinished
	if err := messages.Decode(d.Body, &done); err != nil {
		return err
	}
	if err := done.Validate(); err != nil {
		return err
	}
	return t.Thaw(ctx, done)
}

// Thaw restores one retrieval. The job id comes from the callback when it
// carries one and from the description key otherwise. Output that is not ready
// yet is a transient error. An unknown handle or job dead-letters, and so does
// a callback whose description or handle disagrees with the job record.
func (t *Thawer) Thaw(ctx context.Context, done messages.RetrievalFinished) error {
	jobID := done.GasJobID
	if jobID == "" {
		key, err := objectkey.Parse(done.JobDescription)
		if err != nil {
			return err
		}
		jobID = key.JobID
	}
	ctx = services.WithJobID(ctx, jobID)
	logger := logging.WithContext(ctx, t.logger)

	job, err := t.deps.Jobs.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("%w: %w", services.ErrTransient, err)
	}
	if job == nil {
		return services.Wrap(services.ErrNotFound, StageThaw, "load job", "job "+jobID+" has no record", nil)
	}
	if err := matchesJob(done, job); err != nil {
		return err
	}
	if job.StorageStatus == jobs.StorageRestored {
		logger.Info("result already restored")
		return nil
	}

	output, err := t.deps.Vault.RetrievalOutput(ctx, done.RetrievalID)
	if err != nil {
		return fmt.Errorf("open retrieval %s: %w", done.RetrievalID, err)
	}
	bucket := job.ResultsBucket
	if bucket == "" {
		bucket = t.deps.Config.ObjectStore.ResultsBucket
	}
	err = t.deps.Objects.Put(ctx, bucket, job.ResultKey, output, -1)
	_ = output.Close()
	if err != nil {
		return fmt.Errorf("%w: write restored result: %w", services.ErrTransient, err)
	}

	restored, err := t.deps.Jobs.MarkRestored(ctx, jobID)
	if err != nil {
		return fmt.Errorf("%w: %w", services.ErrTransient, err)
	}
	if !restored {
		logger.Info("job was not archived; restore recorded no change", logging.String("storage_status", string(job.StorageStatus)))
		return nil
	}
	logger.Info("result restored",
		logging.String("retrieval", done.RetrievalID),
		logging.String("result_key", job.ResultKey),
		logging.String(logging.FieldEventType, "result_restored"),
	)
	t.notify(ctx, job, logger)
	return nil
}

// matchesJob rejects a callback that does not describe the job it names, so a
// forged or misrouted callback can never overwrite another result.
func matchesJob(done messages.RetrievalFinished, job *jobs.Job) error {
	if done.JobDescription != job.ResultKey {
		return services.Wrap(services.ErrValidation, StageThaw, "match callback",
			fmt.Sprintf("description %q is not the result of job %s", done.JobDescription, job.JobID), nil)
	}
	if job.RetrievalHandle != "" && done.RetrievalID != job.RetrievalHandle {
		return services.Wrap(services.ErrValidation, StageThaw, "match callback",
			fmt.Sprintf("retrieval %s is not the one recorded for job %s", done.RetrievalID, job.JobID), nil)
	}
	return nil
}

func (t *Thawer) notify(ctx context.Context, job *jobs.Job, logger *slog.Logger) {
	if t.deps.Notifier == nil || t.deps.Accounts == nil {
		return
	}
	profile, err := t.deps.profile(ctx, job.UserID)
	if err == nil {
		err = t.deps.Notifier.NotifyRestored(ctx, notifications.Restored{
			JobID:     job.JobID,
			Recipient: notifications.Recipient{UserID: profile.UserID, Name: profile.Name, Email: profile.Email},
		})
	}
	if err != nil {
		logger.Warn("restore notification failed", logging.Error(err))
	}
}

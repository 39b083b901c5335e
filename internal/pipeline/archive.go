package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"gas/internal/broker"
	"gas/internal/jobs"
	"gas/internal/logging"
	"gas/internal/messages"
	"gas/internal/services"
)

// Archiver moves free-tier results from hot storage into the vault once the
// archive queue's grace delay has passed. Premium results stay hot.
type Archiver struct {
	deps   Deps
	logger *slog.Logger
}

// NewArchiver builds the archive stage.
func NewArchiver(deps Deps) *Archiver {
	return &Archiver{deps: deps, logger: deps.logger(StageArchive)}
}

// Name implements Handler.
func (a *Archiver) Name() string { return StageArchive }

// Handle implements Handler.
func (a *Archiver) Handle(ctx context.Context, d *broker.Delivery) error {
	var event messages.JobEvent
	if err := messages.Decode(d.Body, &event); err != nil {
		return err
	}
	if err := event.Validate(); err != nil {
		return err
	}
	return a.Archive(ctx, event)
}

// Archive applies the archival policy to one completed job. The user's tier is
// read now, not when the job completed. The hot copy is deleted only after
// the vault write and the record update both succeeded.
func (a *Archiver) Archive(ctx context.Context, event messages.JobEvent) error {
	ctx = services.WithJobID(ctx, event.JobID)
	logger := logging.WithContext(ctx, a.logger)

	profile, err := a.deps.profile(ctx, event.UserID)
	if err != nil {
		return err
	}
	if profile.Premium() {
		logger.Info("premium result stays in hot storage", logging.UserID(event.UserID))
		return nil
	}

	job, err := a.deps.Jobs.Get(ctx, event.JobID)
	if err != nil {
		return fmt.Errorf("%w: %w", services.ErrTransient, err)
	}
	if job == nil {
		return services.Wrap(services.ErrNotFound, StageArchive, "load job", "job "+event.JobID+" has no record", nil)
	}
	if !job.Completed() {
		return services.Wrap(services.ErrValidation, StageArchive, "load job", "job "+event.JobID+" is "+string(job.Status), nil)
	}

	switch job.StorageStatus {
	case jobs.StorageArchived:
		if err := a.deps.Objects.Delete(ctx, job.ResultsBucket, job.ResultKey); err != nil {
			return fmt.Errorf("delete hot copy of archived result: %w", err)
		}
		logger.Info("result already archived")
		return nil
	case jobs.StorageRestored:
		logger.Info("result already restored; leaving hot copy")
		return nil
	}

	body, err := a.deps.Objects.Get(ctx, job.ResultsBucket, job.ResultKey)
	if err != nil {
		return fmt.Errorf("read hot result %s: %w", job.ResultKey, err)
	}
	archiveID, err := a.deps.Vault.Archive(ctx, body, -1, job.ResultKey)
	_ = body.Close()
	if err != nil {
		return fmt.Errorf("%w: write archive: %w", services.ErrTransient, err)
	}

	marked, err := a.deps.Jobs.MarkArchived(ctx, job.JobID, archiveID)
	if err != nil {
		logging.WarnWithContext(logger, "archive written but record update failed", "archive_orphaned",
			logging.String("archive_id", archiveID),
			logging.Error(err),
			logging.Impact("a duplicate archive will be written on redelivery"),
		)
		return fmt.Errorf("%w: %w", services.ErrTransient, err)
	}
	if !marked {
		// Another worker archived it first; its archive id is the one on record.
		logging.WarnWithContext(logger, "job archived concurrently", "archive_orphaned",
			logging.String("archive_id", archiveID),
			logging.Impact("orphan archive left in the vault"),
		)
	}

	if err := a.deps.Objects.Delete(ctx, job.ResultsBucket, job.ResultKey); err != nil {
		return fmt.Errorf("delete hot copy: %w", err)
	}
	logger.Info("result archived",
		logging.String("archive_id", archiveID),
		logging.UserID(job.UserID),
		logging.String(logging.FieldEventType, "result_archived"),
	)
	return nil
}

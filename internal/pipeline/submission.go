package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gas/internal/broker"
	"gas/internal/jobs"
	"gas/internal/logging"
	"gas/internal/messages"
	"gas/internal/objectkey"
	"gas/internal/services"
)

// Submitter turns an upload-completed signal into a job record and a
// processing request.
type Submitter struct {
	deps   Deps
	logger *slog.Logger
}

// NewSubmitter builds the submission stage.
func NewSubmitter(deps Deps) *Submitter {
	return &Submitter{deps: deps, logger: deps.logger(StageSubmission)}
}

// Name implements Handler.
func (s *Submitter) Name() string { return StageSubmission }

// Handle implements Handler for the uploads queue.
func (s *Submitter) Handle(ctx context.Context, d *broker.Delivery) error {
	var upload messages.UploadCompleted
	if err := messages.Decode(d.Body, &upload); err != nil {
		return err
	}
	_, err := s.Submit(ctx, upload)
	return err
}

// Submit records a PENDING job for the uploaded object and publishes its
// processing request. Nothing is published when the record write fails. A
// repeated signal for a job that is still PENDING re-publishes the request;
// for any later status it is a no-op.
func (s *Submitter) Submit(ctx context.Context, upload messages.UploadCompleted) (*jobs.Job, error) {
	if err := upload.Validate(); err != nil {
		return nil, err
	}
	key, err := objectkey.Parse(upload.Key)
	if err != nil {
		return nil, err
	}
	ctx = services.WithJobID(ctx, key.JobID)
	logger := logging.WithContext(ctx, s.logger)

	job := &jobs.Job{
		JobID:         key.JobID,
		UserID:        key.UserID,
		InputFileName: key.FileName,
		InputsBucket:  upload.Bucket,
		InputKey:      upload.Key,
		Status:        jobs.StatusPending,
		SubmitTime:    s.deps.now().Unix(),
	}
	err = s.deps.Jobs.Create(ctx, job)
	switch {
	case err == nil:
	case errors.Is(err, jobs.ErrJobExists):
		existing, getErr := s.deps.Jobs.Get(ctx, key.JobID)
		if getErr != nil {
			return nil, fmt.Errorf("%w: load existing job: %w", services.ErrTransient, getErr)
		}
		if existing == nil {
			return nil, fmt.Errorf("%w: job %s vanished after duplicate insert", services.ErrTransient, key.JobID)
		}
		if existing.Status != jobs.StatusPending {
			logger.Info("duplicate upload signal ignored", logging.String("status", string(existing.Status)))
			return existing, nil
		}
		logger.Info("re-publishing processing request for pending job")
		job = existing
	default:
		return nil, err
	}

	if err := s.deps.publish(ctx, s.deps.Config.Queues.Requests, messages.ProcessingRequest{
		JobID:         job.JobID,
		UserID:        job.UserID,
		InputFileName: job.InputFileName,
		InputsBucket:  job.InputsBucket,
		InputKey:      job.InputKey,
		SubmitTime:    job.SubmitTime,
		JobStatus:     messages.JobStatusPending,
	}); err != nil {
		return nil, err
	}
	logger.Info("job submitted",
		logging.UserID(job.UserID),
		logging.String("input_file", job.InputFileName),
		logging.String(logging.FieldEventType, "job_submitted"),
	)
	return job, nil
}

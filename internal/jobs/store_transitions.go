package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gas/internal/services"
	"gas/internal/sqlitedb"
)

// Claim moves a PENDING job to RUNNING. A RUNNING job whose last heartbeat is
// older than staleBefore is taken over instead; the status does not change.
// Losing the race is reported through the outcome, never as an error.
func (s *Store) Claim(ctx context.Context, jobID string, staleBefore time.Time) (ClaimOutcome, error) {
	ctx = sqlitedb.EnsureContext(ctx)
	now := time.Now().UTC()
	var claims int
	err := sqlitedb.RetryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			`UPDATE annotations
             SET job_status = ?, last_heartbeat = ?, claim_count = claim_count + 1, updated_at = ?
             WHERE job_id = ?
               AND (job_status = ?
                    OR (job_status = ? AND (last_heartbeat IS NULL OR last_heartbeat < ?)))
             RETURNING claim_count`,
			StatusRunning, now.UnixMilli(), timestamp(now),
			jobID,
			StatusPending,
			StatusRunning, staleBefore.UnixMilli(),
		).Scan(&claims)
	})
	switch {
	case err == nil:
		if claims > 1 {
			return ClaimReclaimed, nil
		}
		return ClaimAcquired, nil
	case !errors.Is(err, sql.ErrNoRows):
		return "", fmt.Errorf("claim job %s: %w", jobID, err)
	}

	job, err := s.Get(ctx, jobID)
	if err != nil {
		return "", err
	}
	switch {
	case job == nil:
		return ClaimNotFound, nil
	case job.Status == StatusCompleted:
		return ClaimAlreadyCompleted, nil
	default:
		return ClaimAlreadyClaimed, nil
	}
}

// Heartbeat refreshes the claim on a RUNNING job. It reports false when the job
// is no longer running.
func (s *Store) Heartbeat(ctx context.Context, jobID string) (bool, error) {
	now := time.Now().UTC()
	affected, err := s.db.ExecAffected(ctx,
		`UPDATE annotations SET last_heartbeat = ?, updated_at = ? WHERE job_id = ? AND job_status = ?`,
		now.UnixMilli(), timestamp(now), jobID, StatusRunning,
	)
	if err != nil {
		return false, fmt.Errorf("update heartbeat: %w", err)
	}
	return affected == 1, nil
}

// StaleRunning lists RUNNING jobs whose claimant has not heartbeated since staleBefore.
func (s *Store) StaleRunning(ctx context.Context, staleBefore time.Time) ([]*Job, error) {
	rows, err := s.db.QueryContext(sqlitedb.EnsureContext(ctx),
		`SELECT `+jobColumns+` FROM annotations
         WHERE job_status = ? AND (last_heartbeat IS NULL OR last_heartbeat < ?)
         ORDER BY submit_time, job_id`,
		StatusRunning, staleBefore.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	return scanJobs(rows)
}

// Complete moves a RUNNING job to COMPLETED, writing complete_time and the
// output locations in the same statement. It returns false when the job was
// already COMPLETED so a duplicate run leaves the first completion intact.
func (s *Store) Complete(ctx context.Context, jobID string, completion Completion) (bool, error) {
	if err := completion.validate(); err != nil {
		return false, services.Wrap(services.ErrValidation, "jobs", "complete", err.Error(), nil)
	}
	now := time.Now().UTC()
	affected, err := s.db.ExecAffected(ctx,
		`UPDATE annotations
         SET job_status = ?, complete_time = ?, results_bucket = ?, result_key = ?, log_key = ?,
             last_heartbeat = NULL, updated_at = ?
         WHERE job_id = ? AND job_status = ?`,
		StatusCompleted, completion.CompleteTime.Unix(),
		strings.TrimSpace(completion.ResultsBucket), strings.TrimSpace(completion.ResultKey), strings.TrimSpace(completion.LogKey),
		timestamp(now),
		jobID, StatusRunning,
	)
	if err != nil {
		return false, fmt.Errorf("complete job %s: %w", jobID, err)
	}
	if affected == 1 {
		return true, nil
	}
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return false, err
	}
	switch {
	case job == nil:
		return false, services.Wrap(services.ErrNotFound, "jobs", "complete", "job "+jobID+" does not exist", nil)
	case job.Status == StatusCompleted:
		return false, nil
	default:
		return false, fmt.Errorf("%w: %s is %s", ErrNotClaimed, jobID, job.Status)
	}
}

// MarkFannedOut records that the completion messages of a COMPLETED job were
// published. It returns false when the flag was already set.
func (s *Store) MarkFannedOut(ctx context.Context, jobID string) (bool, error) {
	affected, err := s.db.ExecAffected(ctx,
		`UPDATE annotations SET fanned_out = 1, updated_at = ? WHERE job_id = ? AND job_status = ? AND fanned_out = 0`,
		timestamp(time.Now()), jobID, StatusCompleted,
	)
	if err != nil {
		return false, fmt.Errorf("mark job %s fanned out: %w", jobID, err)
	}
	return affected == 1, nil
}

// MarkArchived records the cold archive id of a COMPLETED job whose result
// has not been archived yet. It returns false when the job is not eligible.
func (s *Store) MarkArchived(ctx context.Context, jobID, archiveID string) (bool, error) {
	if strings.TrimSpace(archiveID) == "" {
		return false, services.Wrap(services.ErrValidation, "jobs", "mark archived", "archive id is required", nil)
	}
	affected, err := s.db.ExecAffected(ctx,
		`UPDATE annotations SET storage_status = ?, archive_id = ?, updated_at = ?
         WHERE job_id = ? AND job_status = ? AND storage_status IS NULL`,
		StorageArchived, archiveID, timestamp(time.Now()),
		jobID, StatusCompleted,
	)
	if err != nil {
		return false, fmt.Errorf("mark job %s archived: %w", jobID, err)
	}
	return affected == 1, nil
}

// RecordRetrieval notes the cold-storage retrieval issued for an ARCHIVED job.
func (s *Store) RecordRetrieval(ctx context.Context, jobID, handle, tier string) (bool, error) {
	now := time.Now().UTC()
	affected, err := s.db.ExecAffected(ctx,
		`UPDATE annotations SET retrieval_handle = ?, retrieval_tier = ?, restore_requested_at = ?, updated_at = ?
         WHERE job_id = ? AND storage_status = ?`,
		handle, tier, now.Unix(), timestamp(now),
		jobID, StorageArchived,
	)
	if err != nil {
		return false, fmt.Errorf("record retrieval for %s: %w", jobID, err)
	}
	return affected == 1, nil
}

// MarkRestored moves an ARCHIVED job to RESTORED. It returns false when the
// job is not ARCHIVED, which includes the already-restored case.
func (s *Store) MarkRestored(ctx context.Context, jobID string) (bool, error) {
	affected, err := s.db.ExecAffected(ctx,
		`UPDATE annotations SET storage_status = ?, updated_at = ? WHERE job_id = ? AND storage_status = ?`,
		StorageRestored, timestamp(time.Now()), jobID, StorageArchived,
	)
	if err != nil {
		return false, fmt.Errorf("mark job %s restored: %w", jobID, err)
	}
	return affected == 1, nil
}

// Release clears the heartbeat of a RUNNING job so the next delivery can take
// it over immediately. The status stays RUNNING.
func (s *Store) Release(ctx context.Context, jobID string) error {
	_, err := s.db.ExecAffected(ctx,
		`UPDATE annotations SET last_heartbeat = NULL, updated_at = ? WHERE job_id = ? AND job_status = ?`,
		timestamp(time.Now()), jobID, StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("release job %s: %w", jobID, err)
	}
	return nil
}

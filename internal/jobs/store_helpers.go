package jobs

import (
	"database/sql"
	"errors"
	"strings"
	"time"
)

const jobColumns = "job_id, user_id, input_file_name, inputs_bucket, input_key, job_status, submit_time, complete_time, results_bucket, result_key, log_key, storage_status, archive_id, retrieval_handle, retrieval_tier, restore_requested_at, last_heartbeat, claim_count, fanned_out, updated_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		job                Job
		statusStr          string
		completeTime       sql.NullInt64
		resultsBucket      sql.NullString
		resultKey          sql.NullString
		logKey             sql.NullString
		storageStatus      sql.NullString
		archiveID          sql.NullString
		retrievalHandle    sql.NullString
		retrievalTier      sql.NullString
		restoreRequestedAt sql.NullInt64
		lastHeartbeat      sql.NullInt64
		fannedOut          int
		updatedRaw         string
	)

	if err := scanner.Scan(
		&job.JobID,
		&job.UserID,
		&job.InputFileName,
		&job.InputsBucket,
		&job.InputKey,
		&statusStr,
		&job.SubmitTime,
		&completeTime,
		&resultsBucket,
		&resultKey,
		&logKey,
		&storageStatus,
		&archiveID,
		&retrievalHandle,
		&retrievalTier,
		&restoreRequestedAt,
		&lastHeartbeat,
		&job.ClaimCount,
		&fannedOut,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	job.Status = Status(statusStr)
	job.CompleteTime = completeTime.Int64
	job.ResultsBucket = resultsBucket.String
	job.ResultKey = resultKey.String
	job.LogKey = logKey.String
	job.StorageStatus = StorageStatus(storageStatus.String)
	job.ArchiveID = archiveID.String
	job.RetrievalHandle = retrievalHandle.String
	job.RetrievalTier = retrievalTier.String
	job.RestoreRequestedAt = restoreRequestedAt.Int64
	job.FannedOut = fannedOut != 0
	if lastHeartbeat.Valid {
		job.LastHeartbeat = time.UnixMilli(lastHeartbeat.Int64).UTC()
	}
	if ts, err := time.Parse(time.RFC3339Nano, updatedRaw); err == nil {
		job.UpdatedAt = ts
	}
	return &job, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	defer rows.Close()
	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == 19 {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

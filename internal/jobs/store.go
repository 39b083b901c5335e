package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gas/internal/config"
	"gas/internal/services"
	"gas/internal/sqlitedb"
)

// Store manages job persistence backed by SQLite.
type Store struct {
	db *sqlitedb.DB
}

// Open initializes or connects to the job database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sqlitedb.Open(ctx, path, schema)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenFromConfig opens the job database configured in [store].
func OpenFromConfig(ctx context.Context, cfg *config.Config) (*Store, error) {
	return Open(ctx, cfg.Store.Path)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create inserts a new PENDING job. It fails with ErrJobExists when the id is
// already recorded so redelivered submissions can detect the duplicate.
func (s *Store) Create(ctx context.Context, job *Job) error {
	if job == nil {
		return services.Wrap(services.ErrValidation, "jobs", "create", "job is nil", nil)
	}
	for field, value := range map[string]string{
		"job_id":          job.JobID,
		"user_id":         job.UserID,
		"input_file_name": job.InputFileName,
		"inputs_bucket":   job.InputsBucket,
		"input_key":       job.InputKey,
	} {
		if strings.TrimSpace(value) == "" {
			return services.Wrap(services.ErrValidation, "jobs", "create", field+" is required", nil)
		}
	}
	if job.Status == "" {
		job.Status = StatusPending
	}
	if job.Status != StatusPending {
		return services.Wrap(services.ErrValidation, "jobs", "create", "new jobs must be PENDING", nil)
	}
	if job.SubmitTime == 0 {
		job.SubmitTime = time.Now().Unix()
	}
	now := time.Now().UTC()
	_, err := s.db.ExecRetry(ctx,
		`INSERT INTO annotations (job_id, user_id, input_file_name, inputs_bucket, input_key, job_status, submit_time, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.JobID, job.UserID, job.InputFileName, job.InputsBucket, job.InputKey, job.Status, job.SubmitTime, timestamp(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrJobExists, job.JobID)
		}
		return fmt.Errorf("insert job: %w", err)
	}
	job.UpdatedAt = now
	return nil
}

// Get fetches a job by id. It returns nil, nil when the job does not exist.
func (s *Store) Get(ctx context.Context, jobID string) (*Job, error) {
	row := s.db.QueryRowContext(sqlitedb.EnsureContext(ctx), `SELECT `+jobColumns+` FROM annotations WHERE job_id = ?`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return job, nil
}

// ListByUser returns a user's jobs, newest submission first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]*Job, error) {
	rows, err := s.db.QueryContext(sqlitedb.EnsureContext(ctx),
		`SELECT `+jobColumns+` FROM annotations WHERE user_id = ? ORDER BY submit_time DESC, job_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list jobs for %s: %w", userID, err)
	}
	return scanJobs(rows)
}

// ListArchived returns a user's jobs whose results currently live only in cold storage.
func (s *Store) ListArchived(ctx context.Context, userID string) ([]*Job, error) {
	rows, err := s.db.QueryContext(sqlitedb.EnsureContext(ctx),
		`SELECT `+jobColumns+` FROM annotations WHERE user_id = ? AND storage_status = ? ORDER BY submit_time, job_id`,
		userID, StorageArchived)
	if err != nil {
		return nil, fmt.Errorf("list archived jobs for %s: %w", userID, err)
	}
	return scanJobs(rows)
}

// List returns jobs filtered by status (all jobs when none given), newest first.
func (s *Store) List(ctx context.Context, limit int, statuses ...Status) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM annotations`
	args := make([]any, 0, len(statuses)+1)
	if len(statuses) > 0 {
		query += ` WHERE job_status IN (` + sqlitedb.Placeholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	query += ` ORDER BY submit_time DESC, job_id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(sqlitedb.EnsureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return scanJobs(rows)
}

// Health aggregates job counts for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	rows, err := s.db.QueryContext(sqlitedb.EnsureContext(ctx),
		`SELECT job_status, COALESCE(storage_status, ''), COUNT(1) FROM annotations GROUP BY job_status, storage_status`)
	if err != nil {
		return HealthSummary{}, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	var health HealthSummary
	for rows.Next() {
		var (
			status  Status
			storage StorageStatus
			count   int
		)
		if err := rows.Scan(&status, &storage, &count); err != nil {
			return HealthSummary{}, err
		}
		health.Total += count
		switch status {
		case StatusPending:
			health.Pending += count
		case StatusRunning:
			health.Running += count
		case StatusCompleted:
			health.Completed += count
		}
		switch storage {
		case StorageArchived:
			health.Archived += count
		case StorageRestored:
			health.Restored += count
		}
	}
	return health, rows.Err()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(sqlitedb.EnsureContext(ctx))
}

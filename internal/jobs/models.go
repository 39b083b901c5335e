package jobs

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status represents the processing lifecycle of a job.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
)

var allStatuses = []Status{StatusPending, StatusRunning, StatusCompleted}

// ParseStatus converts a string into a Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToUpper(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == normalized {
			return status, true
		}
	}
	return "", false
}

// StorageStatus tracks where a job's result lives. The zero value means the
// result has never left hot storage.
type StorageStatus string

const (
	StorageHot      StorageStatus = ""
	StorageArchived StorageStatus = "ARCHIVED"
	StorageRestored StorageStatus = "RESTORED"
)

var (
	// ErrJobExists is returned by Create when the job id is already recorded.
	ErrJobExists = errors.New("job already exists")
	// ErrNotClaimed is returned by Complete when the job was never claimed.
	ErrNotClaimed = errors.New("job is not running")
)

// Job is one annotation job record.
type Job struct {
	JobID         string
	UserID        string
	InputFileName string
	InputsBucket  string
	InputKey      string
	Status        Status
	SubmitTime    int64
	CompleteTime  int64

	ResultsBucket string
	ResultKey     string
	LogKey        string

	StorageStatus      StorageStatus
	ArchiveID          string
	RetrievalHandle    string
	RetrievalTier      string
	RestoreRequestedAt int64

	LastHeartbeat time.Time
	ClaimCount    int
	// FannedOut is set once the completion messages were published.
	FannedOut bool
	UpdatedAt time.Time
}

// Completed reports whether the job reached its terminal processing status.
func (j *Job) Completed() bool {
	return j != nil && j.Status == StatusCompleted
}

// RestoreInFlight reports whether a cold-storage retrieval has been requested
// but not yet finished.
func (j *Job) RestoreInFlight() bool {
	return j != nil && j.StorageStatus == StorageArchived && j.RetrievalHandle != ""
}

// Completion carries the output locations written when a job completes.
type Completion struct {
	ResultsBucket string
	ResultKey     string
	LogKey        string
	CompleteTime  time.Time
}

func (c Completion) validate() error {
	if strings.TrimSpace(c.ResultsBucket) == "" || strings.TrimSpace(c.ResultKey) == "" || strings.TrimSpace(c.LogKey) == "" {
		return fmt.Errorf("completion requires results bucket, result key and log key")
	}
	if c.CompleteTime.IsZero() {
		return fmt.Errorf("completion requires a complete time")
	}
	return nil
}

// ClaimOutcome is the typed result of a conditional claim.
type ClaimOutcome string

const (
	// ClaimAcquired moved the job from PENDING to RUNNING.
	ClaimAcquired ClaimOutcome = "acquired"
	// ClaimReclaimed took over a RUNNING job whose claimant stopped heartbeating.
	ClaimReclaimed ClaimOutcome = "reclaimed"
	// ClaimAlreadyClaimed means another worker holds a live claim.
	ClaimAlreadyClaimed ClaimOutcome = "already_claimed"
	// ClaimAlreadyCompleted means the job finished before this attempt.
	ClaimAlreadyCompleted ClaimOutcome = "already_completed"
	// ClaimNotFound means no record exists for the job id.
	ClaimNotFound ClaimOutcome = "not_found"
)

// Won reports whether the caller now owns the job and must process it.
func (o ClaimOutcome) Won() bool {
	return o == ClaimAcquired || o == ClaimReclaimed
}

// HealthSummary aggregates job counts for diagnostics.
type HealthSummary struct {
	Total     int
	Pending   int
	Running   int
	Completed int
	Archived  int
	Restored  int
}

package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"gas/internal/jobs"
	"gas/internal/logging"
)

type jobView struct {
	JobID         string            `json:"job_id"`
	UserID        string            `json:"user_id"`
	InputFileName string            `json:"input_file_name"`
	Status        jobs.Status       `json:"job_status"`
	SubmitTime    int64             `json:"submit_time"`
	CompleteTime  int64             `json:"complete_time,omitempty"`
	StorageStatus string            `json:"storage_status,omitempty"`
	Availability  jobs.Availability `json:"availability"`
	ResultURL     string            `json:"result_url,omitempty"`
	LogURL        string            `json:"log_url,omitempty"`
}

// view renders a job for its owner. Download links are only issued while the
// result is in hot storage and the owner's tier allows it.
func (s *Server) view(c *gin.Context, job *jobs.Job) jobView {
	now := time.Now()
	if s.deps.Now != nil {
		now = s.deps.Now()
	}
	availability := job.Availability(s.premium(c, job.UserID), now, s.deps.Config.Archive.Grace())
	v := jobView{
		JobID:         job.JobID,
		UserID:        job.UserID,
		InputFileName: job.InputFileName,
		Status:        job.Status,
		SubmitTime:    job.SubmitTime,
		CompleteTime:  job.CompleteTime,
		StorageStatus: string(job.StorageStatus),
		Availability:  availability,
	}
	if !availability.Downloadable() || job.ResultKey == "" {
		return v
	}
	ctx := c.Request.Context()
	expiry := s.deps.Config.ObjectStore.PresignExpiry()
	url, err := s.deps.Objects.PresignGet(ctx, job.ResultsBucket, job.ResultKey, expiry)
	if err != nil {
		s.logger.Warn("presign result failed", logging.JobID(job.JobID), logging.Error(err))
		return v
	}
	v.ResultURL = url
	if job.LogKey != "" {
		if logURL, err := s.deps.Objects.PresignGet(ctx, job.ResultsBucket, job.LogKey, expiry); err == nil {
			v.LogURL = logURL
		}
	}
	return v
}

// premium reports whether userID is premium; unknown users count as free.
func (s *Server) premium(c *gin.Context, userID string) bool {
	profile, err := s.deps.Accounts.Profile(c.Request.Context(), userID)
	return err == nil && profile.Premium()
}

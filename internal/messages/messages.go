// Package messages defines the JSON payloads exchanged between pipeline stages
// and the envelope they travel in.
package messages

import (
	"slices"
	"strings"

	"gas/internal/services"
)

// JobStatusPending is the only status a processing request may carry.
const JobStatusPending = "PENDING"

// ThawStatusPending is the only status a tier-upgrade event may carry.
const ThawStatusPending = "PENDING"

// UploadCompleted signals that an input object finished uploading. Bucket
// notifications and the HTTP API both produce it.
type UploadCompleted struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// Validate reports missing fields as validation errors.
func (u UploadCompleted) Validate() error {
	return require("upload completed", map[string]string{"bucket": u.Bucket, "key": u.Key})
}

// ProcessingRequest asks the annotator to run a job.
type ProcessingRequest struct {
	JobID         string `json:"job_id"`
	UserID        string `json:"user_id,omitempty"`
	InputFileName string `json:"input_file_name"`
	InputsBucket  string `json:"s3_inputs_bucket"`
	InputKey      string `json:"s3_key_input_file"`
	SubmitTime    int64  `json:"submit_time"`
	JobStatus     string `json:"job_status"`
}

// Validate reports missing fields as validation errors.
func (r ProcessingRequest) Validate() error {
	if err := require("processing request", map[string]string{
		"job_id":            r.JobID,
		"input_file_name":   r.InputFileName,
		"s3_inputs_bucket":  r.InputsBucket,
		"s3_key_input_file": r.InputKey,
	}); err != nil {
		return err
	}
	if r.JobStatus != "" && r.JobStatus != JobStatusPending {
		return services.Wrap(services.ErrValidation, "messages", "processing request", "job_status must be PENDING, got "+r.JobStatus, nil)
	}
	return nil
}

// JobEvent is the payload of both the result-ready and the archive-candidate
// messages published when a job completes.
type JobEvent struct {
	JobID         string `json:"job_id"`
	InputFileName string `json:"input_file_name"`
	UserID        string `json:"user_id"`
}

// Validate reports missing fields as validation errors.
func (e JobEvent) Validate() error {
	return require("job event", map[string]string{
		"job_id":          e.JobID,
		"input_file_name": e.InputFileName,
		"user_id":         e.UserID,
	})
}

// TierUpgrade announces that a user became premium and their archived results
// should be restored.
type TierUpgrade struct {
	UserID     string `json:"user_id"`
	ThawStatus string `json:"thaw_status"`
}

// Validate reports missing fields as validation errors.
func (u TierUpgrade) Validate() error {
	return require("tier upgrade", map[string]string{"user_id": u.UserID})
}

// RetrievalFinished is the cold store's callback when a retrieval completes.
// JobDescription holds the hot-storage key of the archived result. GasJobID is
// set by retrievals issued from this system; older callbacks carry only the
// description.
type RetrievalFinished struct {
	RetrievalID    string `json:"JobId"`
	JobDescription string `json:"JobDescription"`
	GasJobID       string `json:"GasJobId,omitempty"`
	StatusCode     string `json:"StatusCode,omitempty"`
}

// Validate reports missing fields as validation errors.
func (r RetrievalFinished) Validate() error {
	return require("retrieval finished", map[string]string{
		"JobId":          r.RetrievalID,
		"JobDescription": r.JobDescription,
	})
}

func require(kind string, fields map[string]string) error {
	var missing []string
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	slices.Sort(missing)
	return services.Wrap(services.ErrValidation, "messages", kind, "missing "+strings.Join(missing, ", "), nil)
}

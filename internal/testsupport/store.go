package testsupport

import (
	"context"
	"testing"

	"gas/internal/config"
	"gas/internal/jobs"
)

// MustOpenStore opens a jobs.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *jobs.Store {
	t.Helper()

	store, err := jobs.OpenFromConfig(context.Background(), cfg)
	if err != nil {
		t.Fatalf("jobs.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// MustCreateJob inserts a PENDING job for userID with the given input filename.
func MustCreateJob(t testing.TB, store *jobs.Store, jobID, userID, fileName string) *jobs.Job {
	t.Helper()

	job := &jobs.Job{
		JobID:         jobID,
		UserID:        userID,
		InputFileName: fileName,
		InputsBucket:  "gas-inputs",
		InputKey:      "uploads/" + userID + "/" + jobID + "~" + fileName,
	}
	if err := store.Create(context.Background(), job); err != nil {
		t.Fatalf("create job %s: %v", jobID, err)
	}
	return job
}

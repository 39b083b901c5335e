package jobs_test

import (
	"testing"
	"time"

	"gas/internal/jobs"
)

func TestAvailability(t *testing.T) {
	completedAt := time.Unix(1_700_000_000, 0)
	window := 5 * time.Minute
	tests := []struct {
		name    string
		job     jobs.Job
		premium bool
		now     time.Time
		want    jobs.Availability
	}{
		{"pending", jobs.Job{Status: jobs.StatusPending}, false, completedAt, jobs.AvailabilityPending},
		{"running", jobs.Job{Status: jobs.StatusRunning}, true, completedAt, jobs.AvailabilityRunning},
		{"free within window", jobs.Job{Status: jobs.StatusCompleted, CompleteTime: completedAt.Unix()}, false, completedAt.Add(time.Minute), jobs.AvailabilityAvailable},
		{"free past window", jobs.Job{Status: jobs.StatusCompleted, CompleteTime: completedAt.Unix()}, false, completedAt.Add(10 * time.Minute), jobs.AvailabilityUpgradeRequired},
		{"premium past window", jobs.Job{Status: jobs.StatusCompleted, CompleteTime: completedAt.Unix()}, true, completedAt.Add(10 * time.Minute), jobs.AvailabilityAvailable},
		{"free archived", jobs.Job{Status: jobs.StatusCompleted, StorageStatus: jobs.StorageArchived}, false, completedAt, jobs.AvailabilityArchived},
		{"premium archived awaiting restore", jobs.Job{Status: jobs.StatusCompleted, StorageStatus: jobs.StorageArchived}, true, completedAt, jobs.AvailabilityRestoring},
		{"retrieval in flight", jobs.Job{Status: jobs.StatusCompleted, StorageStatus: jobs.StorageArchived, RetrievalHandle: "R-1"}, true, completedAt, jobs.AvailabilityRestoring},
		{"restored", jobs.Job{Status: jobs.StatusCompleted, StorageStatus: jobs.StorageRestored}, true, completedAt, jobs.AvailabilityRestored},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.job.Availability(tt.premium, tt.now, window); got != tt.want {
				t.Fatalf("Availability = %s, want %s", got, tt.want)
			}
		})
	}
	if !jobs.AvailabilityRestored.Downloadable() || jobs.AvailabilityRestoring.Downloadable() {
		t.Fatal("unexpected Downloadable results")
	}
}

func TestParseStatus(t *testing.T) {
	if status, ok := jobs.ParseStatus(" running "); !ok || status != jobs.StatusRunning {
		t.Fatalf("unexpected parse result %s %v", status, ok)
	}
	if _, ok := jobs.ParseStatus("archived"); ok {
		t.Fatal("storage status must not parse as job status")
	}
}

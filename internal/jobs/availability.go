package jobs

import "time"

// Availability is what a status surface tells the owner about a job's result.
type Availability string

const (
	AvailabilityPending   Availability = "pending"
	AvailabilityRunning   Availability = "running"
	AvailabilityAvailable Availability = "available"
	// AvailabilityUpgradeRequired: a free user's download window has closed.
	AvailabilityUpgradeRequired Availability = "upgrade_required"
	AvailabilityArchived        Availability = "archived"
	// AvailabilityRestoring: a retrieval is in flight; the result is not yet available.
	AvailabilityRestoring Availability = "restoring"
	AvailabilityRestored  Availability = "restored"
)

// Downloadable reports whether the result can be fetched from hot storage.
func (a Availability) Downloadable() bool {
	return a == AvailabilityAvailable || a == AvailabilityRestored
}

// Availability derives the owner-facing view of a job. Free users may download
// a hot result for window after completion; after that the result is on its
// way to cold storage and an upgrade is required.
func (j *Job) Availability(premium bool, now time.Time, window time.Duration) Availability {
	switch j.Status {
	case StatusPending:
		return AvailabilityPending
	case StatusRunning:
		return AvailabilityRunning
	}
	switch j.StorageStatus {
	case StorageRestored:
		return AvailabilityRestored
	case StorageArchived:
		if j.RetrievalHandle != "" || premium {
			return AvailabilityRestoring
		}
		return AvailabilityArchived
	}
	if premium {
		return AvailabilityAvailable
	}
	if now.Sub(time.Unix(j.CompleteTime, 0)) > window {
		return AvailabilityUpgradeRequired
	}
	return AvailabilityAvailable
}

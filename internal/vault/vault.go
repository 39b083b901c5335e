// Package vault is the cold archival tier. Archives are written once and
// read back only through asynchronous retrievals that complete after a
// tier-dependent delay.
package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"gas/internal/services"
)

// Tier selects retrieval speed.
type Tier string

const (
	TierExpedited Tier = "Expedited"
	TierStandard  Tier = "Standard"
	TierBulk      Tier = "Bulk"
)

// ParseTier accepts a tier name in any case.
func ParseTier(value string) (Tier, bool) {
	for _, tier := range []Tier{TierExpedited, TierStandard, TierBulk} {
		if strings.EqualFold(strings.TrimSpace(value), string(tier)) {
			return tier, true
		}
	}
	return "", false
}

var (
	// ErrInsufficientCapacity rejects a retrieval when the tier has no free slots.
	ErrInsufficientCapacity = errors.New("insufficient retrieval capacity")
	// ErrRetrievalNotReady is returned for output of an unfinished retrieval.
	ErrRetrievalNotReady = fmt.Errorf("retrieval %w", services.ErrTransient)
	// ErrRetrievalNotFound matches services.ErrNotFound.
	ErrRetrievalNotFound = fmt.Errorf("retrieval %w", services.ErrNotFound)
	// ErrArchiveNotFound matches services.ErrNotFound.
	ErrArchiveNotFound = fmt.Errorf("archive %w", services.ErrNotFound)
)

// Status is the state of a retrieval.
type Status string

const (
	StatusInProgress Status = "InProgress"
	StatusSucceeded  Status = "Succeeded"
)

// RetrievalRequest asks for an archive to be made readable. Description is
// echoed back on completion; JobID travels with it as a first-class field.
type RetrievalRequest struct {
	ArchiveID   string
	Description string
	JobID       string
	Tier        Tier
}

// Retrieval describes an issued retrieval.
type Retrieval struct {
	Handle      string
	ArchiveID   string
	Description string
	JobID       string
	Tier        Tier
	Status      Status
	RequestedAt time.Time
	ReadyAt     time.Time
	CompletedAt time.Time
	Notified    bool
}

// Vault is the cold store used by the archive, restore and thaw stages.
type Vault interface {
	// Archive stores r durably and returns its archive id. It returns only
	// after the write is confirmed.
	Archive(ctx context.Context, r io.Reader, size int64, description string) (string, error)
	// InitiateRetrieval starts an asynchronous retrieval and returns its handle.
	InitiateRetrieval(ctx context.Context, req RetrievalRequest) (string, error)
	// RetrievalOutput opens the bytes of a finished retrieval.
	RetrievalOutput(ctx context.Context, handle string) (io.ReadCloser, error)
	Retrieval(ctx context.Context, handle string) (Retrieval, error)
}

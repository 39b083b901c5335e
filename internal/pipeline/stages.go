package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gas/internal/accounts"
	"gas/internal/annotation"
	"gas/internal/backoff"
	"gas/internal/broker"
	"gas/internal/config"
	"gas/internal/jobs"
	"gas/internal/logging"
	"gas/internal/messages"
	"gas/internal/notifications"
	"gas/internal/objectstore"
	"gas/internal/scratch"
	"gas/internal/services"
	"gas/internal/vault"
)

// Stage names, used as handler names and log component names.
const (
	StageSubmission   = "submission"
	StageProcessing   = "processing"
	StageNotification = "notification"
	StageArchive      = "archive"
	StageRestore      = "restore"
	StageThaw         = "thaw"
	StageReaper       = "reaper"
)

// Deps bundles the collaborators the stages share. Each stage uses a subset.
type Deps struct {
	Config   *config.Config
	Jobs     *jobs.Store
	Broker   broker.Broker
	Objects  objectstore.Store
	Vault    vault.Vault
	Accounts accounts.Directory
	Notifier notifications.Service
	Runner   annotation.Runner
	Scratch  *scratch.Manager
	Logger   *slog.Logger
	// Now overrides the clock.
	Now func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Deps) logger(stage string) *slog.Logger {
	logger := d.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return logging.ForStage(logger, d.Config, stage)
}

// NewConsumer builds a consumer for handler on queue using the broker and
// processing settings from the config.
func (d Deps) NewConsumer(handler Handler, queue string, concurrency int) *Consumer {
	cfg := d.Config
	return NewConsumer(d.Broker, handler, ConsumerOptions{
		Queue:         queue,
		Concurrency:   concurrency,
		Wait:          cfg.Broker.WaitTime(),
		Visibility:    cfg.Broker.VisibilityTimeout(),
		LeaseInterval: cfg.Processing.HeartbeatInterval(),
		Backoff:       backoff.Default(),
		Logger:        d.logger(handler.Name()),
	})
}

// publish encodes payload in the message envelope and sends it to queue.
func (d Deps) publish(ctx context.Context, queue string, payload any) error {
	body, err := messages.Encode(payload)
	if err != nil {
		return err
	}
	if _, err := d.Broker.Publish(ctx, queue, body); err != nil {
		return fmt.Errorf("%w: publish to %s: %w", services.ErrTransient, queue, err)
	}
	return nil
}

// profile loads a user's profile; an unknown user is a not-found error.
func (d Deps) profile(ctx context.Context, userID string) (accounts.Profile, error) {
	profile, err := d.Accounts.Profile(ctx, userID)
	if err != nil {
		return accounts.Profile{}, fmt.Errorf("lookup user %s: %w", userID, err)
	}
	return profile, nil
}

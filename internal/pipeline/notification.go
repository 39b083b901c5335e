package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"gas/internal/broker"
	"gas/internal/logging"
	"gas/internal/messages"
	"gas/internal/notifications"
	"gas/internal/services"
)

// Notifier tells the job owner their result is ready. Delivery is
// at-least-once; a redelivered message sends the notification again.
type Notifier struct {
	deps   Deps
	logger *slog.Logger
}

// NewNotifier builds the notification stage.
func NewNotifier(deps Deps) *Notifier {
	return &Notifier{deps: deps, logger: deps.logger(StageNotification)}
}

// Name implements Handler.
func (n *Notifier) Name() string { return StageNotification }

// Handle implements Handler.
func (n *Notifier) Handle(ctx context.Context, d *broker.Delivery) error {
	var event messages.JobEvent
	if err := messages.Decode(d.Body, &event); err != nil {
		return err
	}
	if err := event.Validate(); err != nil {
		return err
	}
	ctx = services.WithJobID(ctx, event.JobID)

	profile, err := n.deps.profile(ctx, event.UserID)
	if err != nil {
		return err
	}
	if err := n.deps.Notifier.NotifyResultReady(ctx, notifications.ResultReady{
		JobID:         event.JobID,
		InputFileName: event.InputFileName,
		Recipient:     notifications.Recipient{UserID: profile.UserID, Name: profile.Name, Email: profile.Email},
	}); err != nil {
		return fmt.Errorf("%w: notify %s: %w", services.ErrTransient, event.UserID, err)
	}
	logging.WithContext(ctx, n.logger).Info("result notification sent",
		logging.UserID(event.UserID),
		logging.String(logging.FieldEventType, "result_notified"),
	)
	return nil
}

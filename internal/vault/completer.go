package vault

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gas/internal/broker"
	"gas/internal/logging"
	"gas/internal/messages"
)

// Completer finishes due retrievals and publishes the retrieval-finished
// callback to the thaw queue. A callback is re-published on the next tick
// until the publish succeeds, so delivery is at-least-once.
type Completer struct {
	vault    *Local
	broker   broker.Broker
	queue    string
	interval time.Duration
	logger   *slog.Logger
}

// NewCompleter wires a completer publishing to queue every interval.
func NewCompleter(v *Local, b broker.Broker, queue string, interval time.Duration, logger *slog.Logger) *Completer {
	if logger == nil {
		logger = logging.NewNop()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Completer{vault: v, broker: b, queue: queue, interval: interval, logger: logger}
}

// Run ticks until ctx is cancelled.
func (c *Completer) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		if _, err := c.Tick(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn("retrieval completion pass failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "vault_complete_failed"),
				logging.Hint("will retry on the next pass"),
			)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick performs one completion pass and returns how many callbacks it published.
func (c *Completer) Tick(ctx context.Context) (int, error) {
	ready, err := c.vault.CompleteDue(ctx)
	if err != nil {
		return 0, err
	}
	published := 0
	for _, r := range ready {
		body, err := messages.Encode(messages.RetrievalFinished{
			RetrievalID:    r.Handle,
			JobDescription: r.Description,
			GasJobID:       r.JobID,
			StatusCode:     string(r.Status),
		})
		if err != nil {
			return published, err
		}
		if _, err := c.broker.Publish(ctx, c.queue, body); err != nil {
			return published, fmt.Errorf("publish retrieval %s: %w", r.Handle, err)
		}
		if err := c.vault.MarkNotified(ctx, r.Handle); err != nil {
			return published, err
		}
		published++
		c.logger.Info("retrieval finished",
			logging.String("retrieval", r.Handle),
			logging.JobID(r.JobID),
			logging.String("tier", string(r.Tier)),
			logging.String(logging.FieldEventType, "retrieval_finished"),
		)
	}
	return published, nil
}

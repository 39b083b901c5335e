// Package broker moves messages between pipeline stages with at-least-once
// delivery. A received message stays invisible for its queue's visibility
// timeout and reappears unless it is acknowledged; messages received more
// than the queue's max receive count are moved to the dead-letter store.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gas/internal/config"
)

var (
	// ErrStaleReceipt is returned by Extend when the message was received
	// again by another consumer or already settled.
	ErrStaleReceipt = errors.New("delivery receipt is no longer current")
	// ErrDeadLetterNotFound is returned by Replay for unknown dead-letter ids.
	ErrDeadLetterNotFound = errors.New("dead letter not found")
)

// Delivery is one received message.
type Delivery struct {
	ID           string
	Queue        string
	Body         []byte
	Receipt      string
	ReceiveCount int
	SentAt       time.Time
}

// DeadLetter is a message that was moved off its queue.
type DeadLetter struct {
	ID           string
	Queue        string
	Body         []byte
	Reason       string
	ReceiveCount int
	SentAt       time.Time
	FailedAt     time.Time
}

// QueueStats is a point-in-time count of a queue's messages.
type QueueStats struct {
	Queue       string
	Visible     int
	Hidden      int
	DeadLetters int
}

// Broker is the message transport shared by every stage.
type Broker interface {
	// Publish enqueues body on queue after the queue's delivery delay and
	// returns the message id.
	Publish(ctx context.Context, queue string, body []byte) (string, error)
	// Receive waits up to wait for a visible message. It returns nil, nil
	// when none arrived.
	Receive(ctx context.Context, queue string, wait time.Duration) (*Delivery, error)
	// Extend pushes the delivery's visibility deadline visibility into the future.
	Extend(ctx context.Context, d *Delivery, visibility time.Duration) error
	// Ack deletes the message. Acknowledging a settled message is not an error.
	Ack(ctx context.Context, d *Delivery) error
	// DeadLetter moves the message to the dead-letter store with reason.
	DeadLetter(ctx context.Context, d *Delivery, reason string) error
	DeadLetters(ctx context.Context, queue string, limit int) ([]DeadLetter, error)
	// Replay moves a dead letter back onto its queue, visible immediately.
	Replay(ctx context.Context, id string) (DeadLetter, error)
	// Purge drops every dead letter recorded for queue.
	Purge(ctx context.Context, queue string) (int, error)
	Stats(ctx context.Context, queue string) (QueueStats, error)
	Close() error
}

// QueueOptions controls delivery on one queue. Zero values fall back to the
// broker defaults.
type QueueOptions struct {
	Delay       time.Duration
	Visibility  time.Duration
	MaxReceives int
}

// Options configures a broker backend.
type Options struct {
	Defaults     QueueOptions
	Queues       map[string]QueueOptions
	PollInterval time.Duration
	Logger       *slog.Logger
}

const defaultPollInterval = 200 * time.Millisecond

// For resolves the effective options for queue.
func (o Options) For(queue string) QueueOptions {
	opts := o.Defaults
	if override, ok := o.Queues[queue]; ok {
		if override.Delay > 0 {
			opts.Delay = override.Delay
		}
		if override.Visibility > 0 {
			opts.Visibility = override.Visibility
		}
		if override.MaxReceives > 0 {
			opts.MaxReceives = override.MaxReceives
		}
	}
	if opts.Visibility <= 0 {
		opts.Visibility = 30 * time.Second
	}
	return opts
}

func (o Options) pollInterval() time.Duration {
	if o.PollInterval > 0 {
		return o.PollInterval
	}
	return defaultPollInterval
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// OptionsFromConfig derives queue options from [broker], [queues] and
// [archive]. The archive queue carries the free-tier grace window as its
// delivery delay.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Defaults: QueueOptions{
			Visibility:  cfg.Broker.VisibilityTimeout(),
			MaxReceives: cfg.Broker.MaxReceiveCount,
		},
		Queues: map[string]QueueOptions{
			cfg.Queues.Archive: {Delay: cfg.Archive.Grace()},
		},
	}
}

// Open connects to the backend selected by broker.backend.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Broker, error) {
	opts := OptionsFromConfig(cfg)
	opts.Logger = logger
	switch strings.ToLower(strings.TrimSpace(cfg.Broker.Backend)) {
	case config.BrokerSQLite, "":
		return OpenSQLite(ctx, cfg.Broker.SQLitePath, opts)
	case config.BrokerRedis:
		return DialRedis(ctx, cfg.Broker.RedisAddr, cfg.Broker.RedisPassword, cfg.Broker.RedisDB, opts)
	default:
		return nil, fmt.Errorf("unsupported broker backend %q", cfg.Broker.Backend)
	}
}

// longPoll calls try until it yields a delivery, wait elapses, or ctx ends.
// A zero wait performs a single attempt.
func longPoll(ctx context.Context, wait, interval time.Duration, try func() (*Delivery, error)) (*Delivery, error) {
	deadline := time.Now().Add(wait)
	for {
		d, err := try()
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil || d != nil {
			return d, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		timer := time.NewTimer(min(interval, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

const redriveReason = "max receive count exceeded"

// exceeded reports whether a message on its receiveCount-th receive must be
// redriven to the dead-letter store.
func exceeded(opts QueueOptions, receiveCount int) bool {
	return opts.MaxReceives > 0 && receiveCount > opts.MaxReceives
}

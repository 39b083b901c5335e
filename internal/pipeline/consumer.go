package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gas/internal/backoff"
	"gas/internal/broker"
	"gas/internal/logging"
	"gas/internal/services"
)

// Handler processes one delivery. Handle must commit its side effects before
// returning nil; the consumer acknowledges only after that.
type Handler interface {
	Name() string
	Handle(ctx context.Context, d *broker.Delivery) error
}

// Outcome is how a delivery was settled.
type Outcome string

const (
	OutcomeIdle         Outcome = "idle"
	OutcomeAcked        Outcome = "acked"
	OutcomeDeadLettered Outcome = "dead_lettered"
	OutcomeRetry        Outcome = "retry"
)

// ConsumerOptions tunes a Consumer.
type ConsumerOptions struct {
	Queue       string
	Concurrency int
	// Wait is the broker long-poll duration.
	Wait time.Duration
	// Visibility is the lease applied on each extension.
	Visibility time.Duration
	// LeaseInterval is how often a running delivery's lease is extended.
	LeaseInterval time.Duration
	Backoff       backoff.Strategy
	Logger        *slog.Logger
}

// Consumer drives a Handler from a queue.
type Consumer struct {
	broker  broker.Broker
	handler Handler
	opts    ConsumerOptions
	logger  *slog.Logger
	slots   chan struct{}
	wg      sync.WaitGroup
}

// NewConsumer builds a consumer for handler on opts.Queue.
func NewConsumer(b broker.Broker, handler Handler, opts ConsumerOptions) *Consumer {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Visibility <= 0 {
		opts.Visibility = 30 * time.Second
	}
	if opts.LeaseInterval <= 0 {
		opts.LeaseInterval = opts.Visibility / 2
	}
	if opts.Backoff == nil {
		opts.Backoff = backoff.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Consumer{
		broker:  b,
		handler: handler,
		opts:    opts,
		logger:  logger.With(logging.String(logging.FieldQueue, opts.Queue)),
		slots:   make(chan struct{}, opts.Concurrency),
	}
}

// Run polls until ctx is cancelled, then waits for in-flight handlers.
// Handlers run on a context that is not cancelled with ctx.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.wg.Wait()

	c.logger.Info("consumer started",
		logging.String(logging.FieldStage, c.handler.Name()),
		logging.Int("concurrency", c.opts.Concurrency),
	)
	failures := 0
	for {
		select {
		case c.slots <- struct{}{}:
		case <-ctx.Done():
			return nil
		}

		d, err := c.broker.Receive(ctx, c.opts.Queue, c.opts.Wait)
		if err != nil {
			<-c.slots
			if ctx.Err() != nil {
				return nil
			}
			failures++
			delay := c.opts.Backoff.Delay(failures)
			logging.WarnWithContext(c.logger, "receive failed", "receive_failed",
				logging.Error(err),
				logging.Int("attempt", failures),
				logging.Duration("retry_in", delay),
				logging.Hint("check broker connectivity"),
				logging.Impact("no new messages are processed until the broker recovers"),
			)
			if !sleep(ctx, delay) {
				return nil
			}
			continue
		}
		failures = 0
		if d == nil {
			<-c.slots
			if c.opts.Wait <= 0 && !sleep(ctx, time.Second) {
				return nil
			}
			continue
		}

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			defer func() { <-c.slots }()
			c.process(context.WithoutCancel(ctx), d)
		}()
	}
}

// Poll performs a single receive, handle and settle cycle. The returned error
// is the receive error or the handler error that decided the outcome.
func (c *Consumer) Poll(ctx context.Context) (Outcome, error) {
	d, err := c.broker.Receive(ctx, c.opts.Queue, c.opts.Wait)
	if err != nil {
		return OutcomeIdle, err
	}
	if d == nil {
		return OutcomeIdle, nil
	}
	return c.process(ctx, d)
}

func (c *Consumer) process(ctx context.Context, d *broker.Delivery) (Outcome, error) {
	ctx = services.WithStage(ctx, c.handler.Name())
	ctx = services.WithQueue(ctx, d.Queue)
	ctx = services.WithMessageID(ctx, d.ID)
	logger := logging.WithContext(ctx, c.logger)
	logger.Debug("delivery received", logging.Int("receive_count", d.ReceiveCount))

	leaseCtx, stopLease := context.WithCancel(ctx)
	leaseDone := make(chan struct{})
	go func() {
		defer close(leaseDone)
		c.extendLease(leaseCtx, d, logger)
	}()

	started := time.Now()
	err := c.handle(ctx, d)
	stopLease()
	<-leaseDone

	return c.settle(ctx, d, err, time.Since(started), logger)
}

func (c *Consumer) handle(ctx context.Context, d *broker.Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: handler panic: %v", services.ErrTransient, r)
		}
	}()
	return c.handler.Handle(ctx, d)
}

func (c *Consumer) settle(ctx context.Context, d *broker.Delivery, err error, elapsed time.Duration, logger *slog.Logger) (Outcome, error) {
	if err == nil {
		if ackErr := c.broker.Ack(ctx, d); ackErr != nil {
			logging.WarnWithContext(logger, "ack failed", "ack_failed",
				logging.Error(ackErr),
				logging.Impact("message will be redelivered and handled again"),
			)
			return OutcomeRetry, ackErr
		}
		logger.Debug("delivery acknowledged", logging.Duration("elapsed", elapsed))
		return OutcomeAcked, nil
	}

	if services.DispositionFor(err) == services.DispositionDeadLetter {
		if dlErr := c.broker.DeadLetter(ctx, d, err.Error()); dlErr != nil {
			logging.WarnWithContext(logger, "dead-letter failed", "dead_letter_failed",
				logging.Error(errors.Join(err, dlErr)),
			)
			return OutcomeRetry, err
		}
		logging.ErrorWithContext(logger, "message dead-lettered", "message_dead_lettered",
			logging.Error(err),
			logging.Hint(services.Hint(err)),
		)
		return OutcomeDeadLettered, err
	}

	logging.WarnWithContext(logger, "handler failed", "handler_failed",
		logging.Error(err),
		logging.Int("receive_count", d.ReceiveCount),
		logging.Hint(services.Hint(err)),
	)
	return OutcomeRetry, err
}

func (c *Consumer) extendLease(ctx context.Context, d *broker.Delivery, logger *slog.Logger) {
	ticker := time.NewTicker(c.opts.LeaseInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := c.broker.Extend(ctx, d, c.opts.Visibility)
			switch {
			case err == nil:
			case errors.Is(err, broker.ErrStaleReceipt):
				logging.WarnWithContext(logger, "delivery lease lost", "lease_lost",
					logging.Impact("another consumer may handle this message concurrently"),
				)
				return
			case ctx.Err() != nil:
				return
			default:
				logger.Warn("lease extension failed", logging.Error(err))
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

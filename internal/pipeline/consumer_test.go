package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gas/internal/backoff"
	"gas/internal/broker"
	"gas/internal/logging"
	"gas/internal/pipeline"
	"gas/internal/services"
	"gas/internal/testsupport"
)

type funcHandler struct {
	name string
	fn   func(ctx context.Context, d *broker.Delivery) error
}

func (f funcHandler) Name() string { return f.name }

func (f funcHandler) Handle(ctx context.Context, d *broker.Delivery) error { return f.fn(ctx, d) }

func TestPollSettlesByDisposition(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	b := testsupport.MustOpenBroker(t, cfg)
	ctx := context.Background()

	tests := []struct {
		name string
		err  error
		want pipeline.Outcome
	}{
		{"success", nil, pipeline.OutcomeAcked},
		{"validation", services.ErrValidation, pipeline.OutcomeDeadLettered},
		{"not found", services.ErrNotFound, pipeline.OutcomeDeadLettered},
		{"transient", services.ErrTransient, pipeline.OutcomeRetry},
		{"tool", services.ErrExternalTool, pipeline.OutcomeRetry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := "q-" + tt.name
			if _, err := b.Publish(ctx, queue, []byte(`{"default":"{}"}`)); err != nil {
				t.Fatalf("Publish: %v", err)
			}
			handler := funcHandler{name: "test", fn: func(context.Context, *broker.Delivery) error { return tt.err }}
			consumer := pipeline.NewConsumer(b, handler, pipeline.ConsumerOptions{Queue: queue, Visibility: time.Minute})
			got, err := consumer.Poll(ctx)
			if got != tt.want || !errors.Is(err, tt.err) {
				t.Fatalf("Poll = %s %v, want %s", got, err, tt.want)
			}
			stats, err := b.Stats(ctx, queue)
			if err != nil {
				t.Fatalf("Stats: %v", err)
			}
			switch tt.want {
			case pipeline.OutcomeAcked:
				if stats.Visible+stats.Hidden+stats.DeadLetters != 0 {
					t.Fatalf("acked message left behind: %+v", stats)
				}
			case pipeline.OutcomeDeadLettered:
				if stats.DeadLetters != 1 || stats.Hidden != 0 {
					t.Fatalf("expected dead letter: %+v", stats)
				}
			case pipeline.OutcomeRetry:
				if stats.Hidden != 1 {
					t.Fatalf("expected hidden message awaiting redelivery: %+v", stats)
				}
			}
		})
	}
}

func TestPollIdleAndPanics(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	b := testsupport.MustOpenBroker(t, cfg)
	ctx := context.Background()

	handler := funcHandler{name: "test", fn: func(context.Context, *broker.Delivery) error { panic("boom") }}
	consumer := pipeline.NewConsumer(b, handler, pipeline.ConsumerOptions{Queue: "q"})
	if got, err := consumer.Poll(ctx); got != pipeline.OutcomeIdle || err != nil {
		t.Fatalf("empty queue: %s %v", got, err)
	}
	if _, err := b.Publish(ctx, "q", []byte(`{}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got, err := consumer.Poll(ctx); got != pipeline.OutcomeRetry || !errors.Is(err, services.ErrTransient) {
		t.Fatalf("panic should be retried: %s %v", got, err)
	}
}

func TestHandlerContextCarriesDeliveryFields(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	b := testsupport.MustOpenBroker(t, cfg)
	ctx := context.Background()
	id, err := b.Publish(ctx, "q", []byte(`{}`))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	var gotStage, gotQueue, gotMessage string
	handler := funcHandler{name: "stage-x", fn: func(ctx context.Context, _ *broker.Delivery) error {
		gotStage, _ = services.StageFromContext(ctx)
		gotQueue, _ = services.QueueFromContext(ctx)
		gotMessage, _ = services.MessageIDFromContext(ctx)
		return nil
	}}
	if _, err := pipeline.NewConsumer(b, handler, pipeline.ConsumerOptions{Queue: "q"}).Poll(ctx); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if gotStage != "stage-x" || gotQueue != "q" || gotMessage != id {
		t.Fatalf("unexpected context fields %q %q %q", gotStage, gotQueue, gotMessage)
	}
}

func TestLeaseIsExtendedWhileHandlerRuns(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Broker.VisibilityTimeoutSeconds = 1
	b := testsupport.MustOpenBroker(t, cfg)
	ctx := context.Background()
	if _, err := b.Publish(ctx, "q", []byte(`{}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	handler := funcHandler{name: "slow", fn: func(context.Context, *broker.Delivery) error {
		time.Sleep(1500 * time.Millisecond)
		return errors.New("transient")
	}}
	consumer := pipeline.NewConsumer(b, handler, pipeline.ConsumerOptions{
		Queue:         "q",
		Visibility:    time.Second,
		LeaseInterval: 200 * time.Millisecond,
	})
	if got, _ := consumer.Poll(ctx); got != pipeline.OutcomeRetry {
		t.Fatalf("expected retry, got %s", got)
	}
	// The receive-time lease ran out 500ms ago; only extensions keep it hidden.
	stats, err := b.Stats(ctx, "q")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Hidden != 1 || stats.Visible != 0 {
		t.Fatalf("expected extended lease to keep the message hidden: %+v", stats)
	}
}

func TestRunProcessesConcurrentlyAndDrainsOnCancel(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	b := testsupport.MustOpenBroker(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const total = 4
	for range total {
		if _, err := b.Publish(ctx, "q", []byte(`{}`)); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	var (
		running, peak atomic.Int32
		done          sync.WaitGroup
	)
	done.Add(total)
	release := make(chan struct{})
	handler := funcHandler{name: "parallel", fn: func(ctx context.Context, _ *broker.Delivery) error {
		defer done.Done()
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return nil
	}}
	consumer := pipeline.NewConsumer(b, handler, pipeline.ConsumerOptions{
		Queue:       "q",
		Concurrency: 2,
		Wait:        20 * time.Millisecond,
		Visibility:  time.Minute,
		Backoff:     backoff.Constant{Interval: 10 * time.Millisecond},
		Logger:      logging.NewNop(),
	})

	result := make(chan error, 1)
	go func() { result <- consumer.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for peak.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := peak.Load(); got != 2 {
		t.Fatalf("expected two handlers in flight, got %d", got)
	}
	close(release)
	done.Wait()

	cancel()
	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if peak.Load() > 2 {
		t.Fatalf("concurrency limit exceeded: %d", peak.Load())
	}
	stats, err := b.Stats(context.Background(), "q")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Visible+stats.Hidden != 0 {
		t.Fatalf("expected every message acked, got %+v", stats)
	}
}

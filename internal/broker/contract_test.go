package broker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"gas/internal/broker"
)

// openFunc opens a fresh broker with the given options.
type openFunc func(t *testing.T, opts broker.Options) broker.Broker

func runContract(t *testing.T, open openFunc) {
	t.Run("publish receive ack", func(t *testing.T) {
		b := open(t, broker.Options{PollInterval: 10 * time.Millisecond})
		ctx := context.Background()

		id, err := b.Publish(ctx, "q", []byte("hello"))
		if err != nil {
			t.Fatalf("Publish: %v", err)
		}
		d, err := b.Receive(ctx, "q", 0)
		if err != nil || d == nil {
			t.Fatalf("Receive: %v %v", d, err)
		}
		if d.ID != id || string(d.Body) != "hello" || d.ReceiveCount != 1 || d.Queue != "q" {
			t.Fatalf("unexpected delivery %+v", d)
		}
		if other, err := b.Receive(ctx, "q", 0); err != nil || other != nil {
			t.Fatalf("message must be invisible while received, got %v %v", other, err)
		}
		if err := b.Ack(ctx, d); err != nil {
			t.Fatalf("Ack: %v", err)
		}
		if err := b.Ack(ctx, d); err != nil {
			t.Fatalf("second Ack should be a no-op: %v", err)
		}
		stats, err := b.Stats(ctx, "q")
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if stats.Visible != 0 || stats.Hidden != 0 {
			t.Fatalf("expected empty queue, got %+v", stats)
		}
	})

	t.Run("unacked message reappears after visibility", func(t *testing.T) {
		b := open(t, broker.Options{
			Defaults:     broker.QueueOptions{Visibility: 50 * time.Millisecond},
			PollInterval: 10 * time.Millisecond,
		})
		ctx := context.Background()
		if _, err := b.Publish(ctx, "q", []byte("x")); err != nil {
			t.Fatalf("Publish: %v", err)
		}
		first, _ := b.Receive(ctx, "q", 0)
		if first == nil {
			t.Fatal("expected first delivery")
		}
		second, err := b.Receive(ctx, "q", time.Second)
		if err != nil || second == nil {
			t.Fatalf("expected redelivery, got %v %v", second, err)
		}
		if second.ID != first.ID || second.ReceiveCount != 2 || second.Receipt == first.Receipt {
			t.Fatalf("unexpected redelivery %+v after %+v", second, first)
		}
		if err := b.Extend(ctx, first, time.Minute); !errors.Is(err, broker.ErrStaleReceipt) {
			t.Fatalf("expected stale receipt, got %v", err)
		}
		if err := b.Extend(ctx, second, time.Minute); err != nil {
			t.Fatalf("Extend: %v", err)
		}
		time.Sleep(80 * time.Millisecond)
		if d, _ := b.Receive(ctx, "q", 0); d != nil {
			t.Fatalf("extended message must stay hidden, got %+v", d)
		}
		if err := b.Ack(ctx, first); err != nil {
			t.Fatalf("ack by id from an old receipt: %v", err)
		}
		stats, _ := b.Stats(ctx, "q")
		if stats.Hidden != 0 {
			t.Fatalf("expected ack to delete the message, got %+v", stats)
		}
	})

	t.Run("delay hides new messages", func(t *testing.T) {
		b := open(t, broker.Options{
			Queues:       map[string]broker.QueueOptions{"delayed": {Delay: time.Hour}},
			PollInterval: 10 * time.Millisecond,
		})
		ctx := context.Background()
		if _, err := b.Publish(ctx, "delayed", []byte("later")); err != nil {
			t.Fatalf("Publish: %v", err)
		}
		if _, err := b.Publish(ctx, "plain", []byte("now")); err != nil {
			t.Fatalf("Publish: %v", err)
		}
		if d, _ := b.Receive(ctx, "delayed", 30*time.Millisecond); d != nil {
			t.Fatalf("delayed message delivered early: %+v", d)
		}
		if d, _ := b.Receive(ctx, "plain", 0); d == nil {
			t.Fatal("undelayed queue must deliver immediately")
		}
		stats, _ := b.Stats(ctx, "delayed")
		if stats.Hidden != 1 {
			t.Fatalf("expected one hidden message, got %+v", stats)
		}
	})

	t.Run("redrive after max receives", func(t *testing.T) {
		b := open(t, broker.Options{
			Defaults:     broker.QueueOptions{Visibility: 10 * time.Millisecond, MaxReceives: 2},
			PollInterval: 5 * time.Millisecond,
		})
		ctx := context.Background()
		if _, err := b.Publish(ctx, "q", []byte("poison")); err != nil {
			t.Fatalf("Publish: %v", err)
		}
		for i := 0; i < 2; i++ {
			d, err := b.Receive(ctx, "q", time.Second)
			if err != nil || d == nil {
				t.Fatalf("receive %d: %v %v", i, d, err)
			}
		}
		time.Sleep(20 * time.Millisecond)
		if d, err := b.Receive(ctx, "q", 50*time.Millisecond); err != nil || d != nil {
			t.Fatalf("third receive should redrive, got %v %v", d, err)
		}
		dead, err := b.DeadLetters(ctx, "q", 10)
		if err != nil {
			t.Fatalf("DeadLetters: %v", err)
		}
		if len(dead) != 1 || string(dead[0].Body) != "poison" || dead[0].ReceiveCount != 3 {
			t.Fatalf("unexpected dead letters %+v", dead)
		}
	})

	t.Run("dead letter replay and purge", func(t *testing.T) {
		b := open(t, broker.Options{PollInterval: 10 * time.Millisecond})
		ctx := context.Background()
		for _, body := range []string{"a", "b"} {
			if _, err := b.Publish(ctx, "q", []byte(body)); err != nil {
				t.Fatalf("Publish: %v", err)
			}
			d, _ := b.Receive(ctx, "q", 0)
			if d == nil {
				t.Fatal("expected delivery")
			}
			if err := b.DeadLetter(ctx, d, "bad input"); err != nil {
				t.Fatalf("DeadLetter: %v", err)
			}
		}
		dead, err := b.DeadLetters(ctx, "q", 0)
		if err != nil || len(dead) != 2 {
			t.Fatalf("expected two dead letters, got %d %v", len(dead), err)
		}
		if dead[0].Reason != "bad input" {
			t.Fatalf("unexpected reason %q", dead[0].Reason)
		}

		replayed, err := b.Replay(ctx, dead[0].ID)
		if err != nil {
			t.Fatalf("Replay: %v", err)
		}
		d, _ := b.Receive(ctx, "q", 0)
		if d == nil || d.ID != replayed.ID || d.ReceiveCount != 1 {
			t.Fatalf("expected replayed message, got %+v", d)
		}
		if _, err := b.Replay(ctx, dead[0].ID); !errors.Is(err, broker.ErrDeadLetterNotFound) {
			t.Fatalf("expected not found on second replay, got %v", err)
		}

		purged, err := b.Purge(ctx, "q")
		if err != nil || purged != 1 {
			t.Fatalf("Purge: %d %v", purged, err)
		}
		if dead, _ := b.DeadLetters(ctx, "q", 0); len(dead) != 0 {
			t.Fatalf("expected no dead letters after purge, got %d", len(dead))
		}
	})

	t.Run("receive honours context", func(t *testing.T) {
		b := open(t, broker.Options{PollInterval: 10 * time.Millisecond})
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		d, err := b.Receive(ctx, "empty", time.Minute)
		if d != nil || !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v %v", d, err)
		}
	})
}

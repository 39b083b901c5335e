package testsupport

import (
	"context"
	"testing"
	"time"

	"gas/internal/broker"
	"gas/internal/config"
	"gas/internal/logging"
)

// MustOpenBroker opens the SQLite broker configured by cfg with a short poll
// interval and registers cleanup.
func MustOpenBroker(t testing.TB, cfg *config.Config) *broker.SQLite {
	t.Helper()

	opts := broker.OptionsFromConfig(cfg)
	opts.PollInterval = 10 * time.Millisecond
	opts.Logger = logging.NewNop()
	b, err := broker.OpenSQLite(context.Background(), cfg.Broker.SQLitePath, opts)
	if err != nil {
		t.Fatalf("broker.OpenSQLite: %v", err)
	}
	t.Cleanup(func() {
		_ = b.Close()
	})
	return b
}

// MustReceive receives one message from queue or fails the test.
func MustReceive(t testing.TB, b broker.Broker, queue string) *broker.Delivery {
	t.Helper()

	d, err := b.Receive(context.Background(), queue, 0)
	if err != nil {
		t.Fatalf("receive from %s: %v", queue, err)
	}
	if d == nil {
		t.Fatalf("expected a message on %s", queue)
	}
	return d
}

// AssertQueueEmpty fails the test when queue has a visible message.
func AssertQueueEmpty(t testing.TB, b broker.Broker, queue string) {
	t.Helper()

	d, err := b.Receive(context.Background(), queue, 0)
	if err != nil {
		t.Fatalf("receive from %s: %v", queue, err)
	}
	if d != nil {
		t.Fatalf("expected %s to be empty, got message %s: %s", queue, d.ID, d.Body)
	}
}

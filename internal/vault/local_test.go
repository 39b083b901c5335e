package vault_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"gas/internal/logging"
	"gas/internal/messages"
	"gas/internal/services"
	"gas/internal/testsupport"
	"gas/internal/vault"
)

func TestArchiveAndRetrieve(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	objects := testsupport.MustOpenObjects(t, cfg)
	v := testsupport.MustOpenVault(t, cfg, objects)
	ctx := context.Background()

	archiveID, err := v.Archive(ctx, strings.NewReader("cold bytes"), 10, "gas/U1/J1~a.vcf.annot")
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	handle, err := v.InitiateRetrieval(ctx, vault.RetrievalRequest{
		ArchiveID:   archiveID,
		Description: "gas/U1/J1~a.vcf.annot",
		JobID:       "J1",
		Tier:        vault.TierExpedited,
	})
	if err != nil {
		t.Fatalf("InitiateRetrieval: %v", err)
	}

	if _, err := v.RetrievalOutput(ctx, handle); !errors.Is(err, vault.ErrRetrievalNotReady) {
		t.Fatalf("expected not ready before completion, got %v", err)
	}
	if services.DispositionFor(vault.ErrRetrievalNotReady) != services.DispositionRetry {
		t.Fatal("not-ready must be retried")
	}

	ready, err := v.CompleteDue(ctx)
	if err != nil {
		t.Fatalf("CompleteDue: %v", err)
	}
	if len(ready) != 1 || ready[0].Handle != handle || ready[0].JobID != "J1" {
		t.Fatalf("unexpected ready retrievals %+v", ready)
	}

	out, err := v.RetrievalOutput(ctx, handle)
	if err != nil {
		t.Fatalf("RetrievalOutput: %v", err)
	}
	defer out.Close()
	data, _ := io.ReadAll(out)
	if string(data) != "cold bytes" {
		t.Fatalf("unexpected retrieval output %q", data)
	}
}

func TestRetrievalRespectsTierLatency(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Vault.StandardSeconds = 3600
	objects := testsupport.MustOpenObjects(t, cfg)
	v := testsupport.MustOpenVault(t, cfg, objects)
	ctx := context.Background()

	archiveID, _ := v.Archive(ctx, strings.NewReader("x"), 1, "d")
	handle, err := v.InitiateRetrieval(ctx, vault.RetrievalRequest{ArchiveID: archiveID, Description: "d", Tier: vault.TierStandard})
	if err != nil {
		t.Fatalf("InitiateRetrieval: %v", err)
	}
	ready, err := v.CompleteDue(ctx)
	if err != nil || len(ready) != 0 {
		t.Fatalf("standard retrieval finished early: %v %v", ready, err)
	}
	r, err := v.Retrieval(ctx, handle)
	if err != nil || r.Status != vault.StatusInProgress || !r.ReadyAt.After(time.Now().Add(59*time.Minute)) {
		t.Fatalf("unexpected retrieval %+v %v", r, err)
	}
}

func TestExpeditedCapacityIsEnforced(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithExpeditedCapacity(1))
	cfg.Vault.ExpeditedSeconds = 3600
	objects := testsupport.MustOpenObjects(t, cfg)
	v := testsupport.MustOpenVault(t, cfg, objects)
	ctx := context.Background()

	archiveID, _ := v.Archive(ctx, strings.NewReader("x"), 1, "d")
	req := vault.RetrievalRequest{ArchiveID: archiveID, Description: "d", Tier: vault.TierExpedited}
	if _, err := v.InitiateRetrieval(ctx, req); err != nil {
		t.Fatalf("first expedited retrieval: %v", err)
	}
	if _, err := v.InitiateRetrieval(ctx, req); !errors.Is(err, vault.ErrInsufficientCapacity) {
		t.Fatalf("expected insufficient capacity, got %v", err)
	}
	req.Tier = vault.TierStandard
	if _, err := v.InitiateRetrieval(ctx, req); err != nil {
		t.Fatalf("standard tier should accept: %v", err)
	}
}

func TestUnknownArchiveAndHandle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	objects := testsupport.MustOpenObjects(t, cfg)
	v := testsupport.MustOpenVault(t, cfg, objects)
	ctx := context.Background()

	_, err := v.InitiateRetrieval(ctx, vault.RetrievalRequest{ArchiveID: "nope", Description: "d"})
	if !errors.Is(err, vault.ErrArchiveNotFound) {
		t.Fatalf("expected archive not found, got %v", err)
	}
	_, err = v.RetrievalOutput(ctx, "nope")
	if !errors.Is(err, vault.ErrRetrievalNotFound) || services.DispositionFor(err) != services.DispositionDeadLetter {
		t.Fatalf("expected dead-letterable not found, got %v", err)
	}
}

func TestCompleterPublishesCallbackOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	objects := testsupport.MustOpenObjects(t, cfg)
	v := testsupport.MustOpenVault(t, cfg, objects)
	b := testsupport.MustOpenBroker(t, cfg)
	ctx := context.Background()

	archiveID, _ := v.Archive(ctx, strings.NewReader("cold"), 4, "gas/U1/J1~a.vcf.annot")
	handle, err := v.InitiateRetrieval(ctx, vault.RetrievalRequest{
		ArchiveID: archiveID, Description: "gas/U1/J1~a.vcf.annot", JobID: "J1", Tier: vault.TierExpedited,
	})
	if err != nil {
		t.Fatalf("InitiateRetrieval: %v", err)
	}

	completer := vault.NewCompleter(v, b, cfg.Queues.Thaw, time.Millisecond, logging.NewNop())
	published, err := completer.Tick(ctx)
	if err != nil || published != 1 {
		t.Fatalf("Tick: %d %v", published, err)
	}
	if again, err := completer.Tick(ctx); err != nil || again != 0 {
		t.Fatalf("second tick should publish nothing, got %d %v", again, err)
	}

	d := testsupport.MustReceive(t, b, cfg.Queues.Thaw)
	var callback messages.RetrievalFinished
	if err := messages.Decode(d.Body, &callback); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if callback.RetrievalID != handle || callback.GasJobID != "J1" || callback.JobDescription != "gas/U1/J1~a.vcf.annot" {
		t.Fatalf("unexpected callback %+v", callback)
	}
}

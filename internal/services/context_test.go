package services_test

import (
	"context"
	"testing"

	"gas/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithJobID(ctx, "job-42")
	ctx = services.WithStage(ctx, "processing")
	ctx = services.WithQueue(ctx, "gas-job-requests")
	ctx = services.WithMessageID(ctx, "msg-123")

	if id, ok := services.JobIDFromContext(ctx); !ok || id != "job-42" {
		t.Fatalf("unexpected job id: %v %v", id, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "processing" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if queue, ok := services.QueueFromContext(ctx); !ok || queue != "gas-job-requests" {
		t.Fatalf("unexpected queue: %v %v", queue, ok)
	}
	if mid, ok := services.MessageIDFromContext(ctx); !ok || mid != "msg-123" {
		t.Fatalf("unexpected message id: %v %v", mid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStage(ctx, "")
	ctx = services.WithJobID(ctx, "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
	if _, ok := services.JobIDFromContext(ctx); ok {
		t.Fatal("expected no job id value")
	}
}

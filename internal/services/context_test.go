package services_test

import (
	"context"
	"testing"

	"evalplane/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithRunID(ctx, "run-42")
	ctx = services.WithWorker(ctx, 3)
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.RunIDFromContext(ctx); !ok || id != "run-42" {
		t.Fatalf("unexpected run id: %v %v", id, ok)
	}
	if worker, ok := services.WorkerFromContext(ctx); !ok || worker != 3 {
		t.Fatalf("unexpected worker: %v %v", worker, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithRunID(ctx, "")
	ctx = services.WithWorker(ctx, 0)
	if _, ok := services.RunIDFromContext(ctx); ok {
		t.Fatal("expected no run id value")
	}
	if _, ok := services.WorkerFromContext(ctx); ok {
		t.Fatal("expected no worker value")
	}
}

package services_test

import (
	"context"
	"testing"

	"grfpatch/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithPatchIndex(ctx, 42)
	ctx = services.WithStage(ctx, "download")
	ctx = services.WithSessionID(ctx, "session-123")

	if idx, ok := services.PatchIndexFromContext(ctx); !ok || idx != 42 {
		t.Fatalf("unexpected patch index: %v %v", idx, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "download" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if sid, ok := services.SessionIDFromContext(ctx); !ok || sid != "session-123" {
		t.Fatalf("unexpected session id: %v %v", sid, ok)
	}
}

func TestStageBlankPreservesContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStage(ctx, "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
	if _, ok := services.PatchIndexFromContext(ctx); ok {
		t.Fatal("expected no patch index")
	}
}

package services

import "context"

type contextKey string

const (
	patchIndexKey contextKey = "patch_index"
	stageKey      contextKey = "stage"
	sessionIDKey  contextKey = "session_id"
)

// WithPatchIndex annotates context with the patch list index being applied.
func WithPatchIndex(ctx context.Context, index int) context.Context {
	return context.WithValue(ctx, patchIndexKey, index)
}

// PatchIndexFromContext extracts the patch index if present.
func PatchIndexFromContext(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(patchIndexKey).(int)
	return v, ok
}

// WithStage annotates context with the pipeline stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(stageKey)
	if str, ok := v.(string); ok && str != "" {
		return str, true
	}
	return "", false
}

// WithSessionID annotates context with the update session identifier.
func WithSessionID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionIDKey, id)
}

// SessionIDFromContext extracts the session identifier if present.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(sessionIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

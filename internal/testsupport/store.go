package testsupport

import (
	"context"
	"testing"

	"grfpatch/internal/config"
	"grfpatch/internal/patchcache"
	"grfpatch/internal/patchlist"
)

// MustOpenCache opens the applied patch cache for cfg and registers cleanup.
func MustOpenCache(t testing.TB, cfg *config.Config) *patchcache.Store {
	t.Helper()

	store, err := patchcache.Open(context.Background(), cfg.Paths.CachePath)
	if err != nil {
		t.Fatalf("patchcache.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// MarkApplied records patches as applied in store.
func MarkApplied(t testing.TB, store *patchcache.Store, patches ...patchlist.Patch) {
	t.Helper()

	for _, p := range patches {
		if err := store.MarkApplied(context.Background(), p); err != nil {
			t.Fatalf("mark applied %d: %v", p.Index, err)
		}
	}
}

package preflight

import (
	"context"

	"grfpatch/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Game directory", cfg.Paths.GameDir),
		CheckDirectoryAccess("Temp directory", cfg.Paths.TempDir),
		CheckArchive("Archive", cfg.ArchivePath(), cfg.Patching.CreateArchive),
	}

	server, ok := cfg.PatchServer()
	if !ok {
		results = append(results, Result{Name: "Patch server", Detail: "no patch server configured"})
		return results
	}
	results = append(results, CheckPatchServer(ctx, server))
	return results
}

package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"grfpatch/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The game directory is created; the archive is not.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.GameDir = filepath.Join(base, "game")
	cfgVal.Paths.TempDir = filepath.Join(base, "tmp")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.CachePath = filepath.Join(base, "game", "patch-cache.db")
	cfgVal.Patching.RetryDelayMS = 1

	if err := os.MkdirAll(cfgVal.Paths.GameDir, 0o755); err != nil {
		t.Fatalf("mkdir game dir: %v", err)
	}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithPatchServer appends a patch server.
func WithPatchServer(name, plistURL, patchURL string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Web.PatchServers = append(b.cfg.Web.PatchServers, config.PatchServer{
			Name:     name,
			PlistURL: plistURL,
			PatchURL: patchURL,
		})
	}
}

// WithCreateArchive toggles creation of a missing target archive.
func WithCreateArchive(enabled bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Patching.CreateArchive = enabled
	}
}

// WithMaxRetries overrides the download attempt budget.
func WithMaxRetries(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Patching.MaxRetries = n
	}
}

// WithMessages overrides the user-facing error messages.
func WithMessages(download, extract, generic string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Messages = config.Messages{
			ErrorDownload: download,
			ErrorExtract:  extract,
			ErrorGeneric:  generic,
		}
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.GameDir)
}

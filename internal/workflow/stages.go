package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"grfpatch/internal/config"
	"grfpatch/internal/download"
	"grfpatch/internal/logging"
	"grfpatch/internal/preflight"
	"grfpatch/internal/services"
	"grfpatch/internal/stage"
	"grfpatch/internal/thor"
)

// downloadStage fetches the job's package into the temp directory.
type downloadStage struct {
	cfg        *config.Config
	downloader Downloader
	onProgress download.ProgressFunc
	logger     *slog.Logger
}

func newDownloadStage(cfg *config.Config, downloader Downloader, onProgress download.ProgressFunc, logger *slog.Logger) *downloadStage {
	return &downloadStage{
		cfg:        cfg,
		downloader: downloader,
		onProgress: onProgress,
		logger:     logger,
	}
}

func (s *downloadStage) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

func (s *downloadStage) Prepare(_ context.Context, job *stage.Job) error {
	if strings.TrimSpace(job.SourceURL) == "" {
		return services.Wrap(services.ErrConfiguration, stageDownload, "prepare", "missing source url", nil)
	}
	if err := os.MkdirAll(filepath.Dir(job.PackagePath), 0o755); err != nil {
		return services.Wrap(services.ErrIO, stageDownload, "create temp dir", filepath.Dir(job.PackagePath), err)
	}
	job.ProgressMessage = fmt.Sprintf("Downloading %s", job.Label())
	return nil
}

func (s *downloadStage) Execute(ctx context.Context, job *stage.Job) error {
	if err := s.downloader.DownloadWithRetry(ctx, job.SourceURL, job.PackagePath, s.onProgress, s.cfg.Patching.MaxRetries); err != nil {
		return err
	}
	size := "unknown size"
	if info, err := os.Stat(job.PackagePath); err == nil {
		size = humanize.IBytes(uint64(info.Size()))
	}
	job.ProgressMessage = fmt.Sprintf("Downloaded %s (%s)", job.Patch.Filename, size)
	return nil
}

func (s *downloadStage) HealthCheck(context.Context) stage.Health {
	const name = "download"
	if _, ok := s.cfg.PatchServer(); !ok {
		return stage.Unhealthy(name, "no patch server configured")
	}
	if result := preflight.CheckDirectoryAccess("temp", s.cfg.Paths.TempDir); !result.Passed {
		return stage.Unhealthy(name, "temp directory: %s", result.Detail)
	}
	return stage.Healthy(name)
}

// patchStage applies the downloaded (or manually chosen) package.
type patchStage struct {
	cfg     *config.Config
	applier Applier
	logger  *slog.Logger
}

func newPatchStage(cfg *config.Config, applier Applier, logger *slog.Logger) *patchStage {
	return &patchStage{cfg: cfg, applier: applier, logger: logger}
}

func (s *patchStage) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

func (s *patchStage) Prepare(_ context.Context, job *stage.Job) error {
	if ok, reason := thor.Validate(job.PackagePath); !ok {
		marker := services.ErrFormat
		if reason == "file not found" {
			marker = services.ErrNotFound
		}
		return services.Wrap(marker, stagePatch, "validate package", fmt.Sprintf("%s: %s", filepath.Base(job.PackagePath), reason), nil)
	}
	job.ProgressMessage = fmt.Sprintf("Applying %s", job.Label())
	return nil
}

func (s *patchStage) Execute(ctx context.Context, job *stage.Job) error {
	result, err := s.applier.Extract(ctx, job.PackagePath, job.TargetDir, job.ArchiveName)
	if err != nil {
		return err
	}
	if result.ArchiveCreated {
		s.logger.Info("archive created",
			logging.String(logging.FieldEventType, "archive_created"),
			logging.String("archive", result.Archive),
		)
	}
	job.ProgressMessage = fmt.Sprintf("%d file(s) written, %d removed, %d archive entries merged, %d archive entries removed",
		result.FilesWritten, result.FilesRemoved, result.ArchiveAdded, result.ArchiveRemoved)
	return nil
}

func (s *patchStage) HealthCheck(context.Context) stage.Health {
	const name = "patch"
	if result := preflight.CheckDirectoryAccess("game", s.cfg.Paths.GameDir); !result.Passed {
		return stage.Unhealthy(name, "game directory: %s", result.Detail)
	}
	if result := preflight.CheckArchive("archive", s.cfg.ArchivePath(), s.cfg.Patching.CreateArchive); !result.Passed {
		return stage.Unhealthy(name, "archive: %s", result.Detail)
	}
	return stage.Healthy(name)
}

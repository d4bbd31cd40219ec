package workflow

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"grfpatch/internal/fileutil"
	"grfpatch/internal/logging"
	"grfpatch/internal/patchcache"
	"grfpatch/internal/patchlist"
	"grfpatch/internal/services"
	"grfpatch/internal/stage"
	"grfpatch/internal/stageexec"
)

const (
	stageCheck    = "check"
	stageDownload = "download"
	stagePatch    = "patch"
)

// stageError remembers which stage failed so the player sees the matching
// message override.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.err.Error() }

func (e *stageError) Unwrap() error { return e.err }

func (m *Manager) runUpdate(ctx context.Context) Result {
	logger := logging.WithContext(ctx, m.logger)
	started := time.Now()
	logger.Info("update session started",
		logging.String(logging.FieldEventType, "session_start"),
		logging.String("game_dir", m.cfg.Paths.GameDir),
	)

	m.emit(StatusEvent{Status: StatusChecking})

	server, ok := m.cfg.PatchServer()
	if !ok {
		err := services.Wrap(services.ErrConfiguration, stageCheck, "select server", "no patch server configured", nil)
		return m.fail(ctx, &stageError{stage: stageCheck, err: err}, 0)
	}

	checkCtx := services.WithStage(ctx, stageCheck)
	patches, err := m.fetcher.Fetch(checkCtx, server.PlistURL)
	if err != nil {
		return m.abort(ctx, &stageError{stage: stageCheck, err: err}, 0)
	}

	store, err := patchcache.Open(checkCtx, m.cfg.Paths.CachePath)
	if err != nil {
		return m.fail(ctx, &stageError{stage: stageCheck, err: err}, 0)
	}
	defer store.Close()

	applied, err := store.Applied(checkCtx)
	if err != nil {
		return m.fail(ctx, &stageError{stage: stageCheck, err: err}, 0)
	}
	pending := patchlist.Unapplied(patches, applied)
	m.setPending(pending)
	logger.Info("patch list checked",
		logging.String(logging.FieldEventType, "patch_list_checked"),
		logging.String("server", server.Name),
		logging.Int("listed", len(patches)),
		logging.Int("pending", len(pending)),
	)

	if len(pending) == 0 {
		return m.finish(ctx, "Already up to date", 0, started)
	}

	count := 0
	for i, patch := range pending {
		if err := ctx.Err(); err != nil {
			return m.cancelled(ctx, count)
		}

		job, err := m.newJob(server.PatchURL, patch, i+1, len(pending))
		if err != nil {
			return m.fail(ctx, &stageError{stage: stageDownload, err: err}, count)
		}
		jobCtx := services.WithPatchIndex(ctx, patch.Index)

		m.emit(StatusEvent{Status: StatusDownloading, Current: job.Position, Total: job.Total, Filename: patch.Filename})
		if err := m.runStage(jobCtx, m.downloadStage, stageDownload, job); err != nil {
			return m.abort(ctx, &stageError{stage: stageDownload, err: err}, count)
		}

		m.emit(StatusEvent{Status: StatusPatching, Current: job.Position, Total: job.Total, Filename: patch.Filename})
		if err := m.runStage(jobCtx, m.patchStage, stagePatch, job); err != nil {
			return m.abort(ctx, &stageError{stage: stagePatch, err: err}, count)
		}

		// The patch is on disk; record it even if the session is being
		// cancelled so it is not reapplied.
		if err := store.MarkApplied(context.WithoutCancel(jobCtx), patch); err != nil {
			return m.fail(ctx, &stageError{stage: stagePatch, err: err}, count)
		}
		count++
		m.cleanup(jobCtx, job)
	}

	return m.finish(ctx, fmt.Sprintf("Applied %d patch(es)", count), count, started)
}

func (m *Manager) runManual(ctx context.Context, packagePath string) Result {
	job := &stage.Job{
		Patch:       patchlist.Patch{Filename: filepath.Base(packagePath)},
		PackagePath: packagePath,
		TargetDir:   m.cfg.Paths.GameDir,
		ArchiveName: m.cfg.Client.DefaultArchive,
		Manual:      true,
	}
	logging.WithContext(ctx, m.logger).Info("manual patch started",
		logging.String(logging.FieldEventType, "manual_patch_start"),
		logging.String("package", packagePath),
	)

	m.emit(StatusEvent{Status: StatusPatching, Filename: job.Patch.Filename})
	if err := m.runStage(ctx, m.patchStage, stagePatch, job); err != nil {
		return m.abort(ctx, &stageError{stage: stagePatch, err: err}, 0)
	}
	return m.finish(ctx, fmt.Sprintf("Applied %s", job.Patch.Filename), 1, time.Time{})
}

func (m *Manager) newJob(patchURL string, patch patchlist.Patch, position, total int) (*stage.Job, error) {
	source, err := url.JoinPath(patchURL, patch.Filename)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, stageDownload, "build url", patch.Filename, err)
	}
	name := path.Base(strings.ReplaceAll(patch.Filename, "\\", "/"))
	return &stage.Job{
		Patch:       patch,
		Position:    position,
		Total:       total,
		SourceURL:   source,
		PackagePath: filepath.Join(m.cfg.Paths.TempDir, name),
		TargetDir:   m.cfg.Paths.GameDir,
		ArchiveName: m.cfg.Client.DefaultArchive,
	}, nil
}

func (m *Manager) runStage(ctx context.Context, handler stageexec.Handler, name string, job *stage.Job) error {
	return stageexec.Run(ctx, stageexec.Options{
		Logger:    m.logger,
		Handler:   handler,
		StageName: name,
		Job:       job,
	})
}

// abort ends the session after a stage error, treating cancellation as a
// return to idle rather than a failure.
func (m *Manager) abort(ctx context.Context, err *stageError, applied int) Result {
	if services.IsCancelled(err) || errors.Is(ctx.Err(), context.Canceled) {
		return m.cancelled(ctx, applied)
	}
	return m.fail(ctx, err, applied)
}

func (m *Manager) fail(ctx context.Context, err *stageError, applied int) Result {
	message := m.userMessage(err)
	details := services.Details(err)
	marker := ""
	if details.Marker != nil {
		marker = details.Marker.Error()
	}
	logging.ErrorWithContext(logging.WithContext(ctx, m.logger), "update session failed", "session_failure",
		logging.String(logging.FieldStage, err.stage),
		logging.String("error_kind", marker),
		logging.String("error_message", message),
		logging.Int("applied", applied),
		logging.Error(err.err),
		logging.String(logging.FieldErrorHint, failureHint(err)),
	)
	m.emit(StatusEvent{Status: StatusError, Error: message})
	return Result{Message: message, Applied: applied, Error: err.err}
}

func (m *Manager) cancelled(ctx context.Context, applied int) Result {
	const message = "Update cancelled"
	logging.WithContext(ctx, m.logger).Info("update session cancelled",
		logging.String(logging.FieldEventType, "session_cancelled"),
		logging.Int("applied", applied),
	)
	m.emit(StatusEvent{Status: StatusIdle, Message: message})
	return Result{Cancelled: true, Message: message, Applied: applied}
}

func (m *Manager) finish(ctx context.Context, message string, applied int, started time.Time) Result {
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "session_complete"),
		logging.Int("applied", applied),
	}
	if !started.IsZero() {
		attrs = append(attrs, logging.Duration("elapsed", time.Since(started)))
	}
	logging.WithContext(ctx, m.logger).Info("update session complete", logging.Args(attrs...)...)
	m.emit(StatusEvent{Status: StatusReady, Message: message})
	return Result{Success: true, Message: message, Applied: applied}
}

// userMessage applies the configured overrides. Without one the stage prefix
// and the underlying error are shown.
func (m *Manager) userMessage(err *stageError) string {
	detail := strings.TrimSpace(services.Details(err.err).Message)
	messages := m.cfg.Messages
	switch err.stage {
	case stageDownload:
		if override := strings.TrimSpace(messages.ErrorDownload); override != "" {
			return override
		}
		return "Download failed: " + detail
	case stagePatch:
		if override := strings.TrimSpace(messages.ErrorExtract); override != "" {
			return override
		}
		return "Extraction failed: " + detail
	default:
		if override := strings.TrimSpace(messages.ErrorGeneric); override != "" {
			return override
		}
		return detail
	}
}

func failureHint(err error) string {
	switch {
	case errors.Is(err, services.ErrNetwork):
		return "check the patch server URL and network connection"
	case errors.Is(err, services.ErrFormat), errors.Is(err, services.ErrDecompression):
		return "the package or archive is corrupt; redownload it or restore the archive from a backup"
	case errors.Is(err, services.ErrConfiguration):
		return "check the [web] section of the config file"
	case errors.Is(err, services.ErrIO):
		return "check disk space and permissions on the game directory"
	default:
		return "check logs for details"
	}
}

// cleanup removes the downloaded package. Failures are logged only.
func (m *Manager) cleanup(ctx context.Context, job *stage.Job) {
	if err := fileutil.RemoveIfExists(job.PackagePath); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, m.logger), "failed to remove downloaded package", "temp_cleanup_failed",
			logging.String("path", job.PackagePath),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "delete the file from the temp directory manually"),
			logging.String(logging.FieldImpact, "disk space is not reclaimed"),
		)
	}
}

package thor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"grfpatch/internal/fileutil"
	"grfpatch/internal/grf"
	"grfpatch/internal/logging"
	"grfpatch/internal/services"
)

const stageName = "patch"

// Options configures routing.
type Options struct {
	// ArchivePrefix is the first path segment marking archive-bound entries.
	ArchivePrefix string
	// CreateArchive creates an empty target archive when a package carries
	// archive-bound entries and the archive is missing.
	CreateArchive bool
}

// Result summarizes one applied package.
type Result struct {
	Archive        string
	Legacy         bool
	FilesWritten   int
	FilesRemoved   int
	ArchiveAdded   int
	ArchiveRemoved int
	ArchiveCreated bool
}

// Extractor applies packages to a game directory.
type Extractor struct {
	opts   Options
	writer *grf.Writer
	logger *slog.Logger
}

// NewExtractor constructs an extractor.
func NewExtractor(opts Options, logger *slog.Logger) *Extractor {
	if strings.TrimSpace(opts.ArchivePrefix) == "" {
		opts.ArchivePrefix = "data"
	}
	logger = logging.NewComponentLogger(logger, "thor")
	return &Extractor{
		opts:   opts,
		writer: grf.NewWriter(logger),
		logger: logger,
	}
}

// Extract applies the package at packagePath to targetDir. Archive-bound
// entries go into targetDir/archiveName unless a legacy package names its own
// target archive.
func (e *Extractor) Extract(ctx context.Context, packagePath, targetDir, archiveName string) (Result, error) {
	contents, err := openPackage(packagePath, e.logger)
	if err != nil {
		return Result{}, err
	}
	defer contents.Close()

	if contents.archive != "" {
		if filepath.Base(contents.archive) != contents.archive || !filepath.IsLocal(contents.archive) {
			return Result{}, services.Wrap(services.ErrFormat, stageName, "extract", fmt.Sprintf("invalid target archive %q", contents.archive), nil)
		}
		archiveName = contents.archive
	}
	archivePath := filepath.Join(targetDir, archiveName)
	result := Result{Archive: archivePath, Legacy: contents.legacy}

	useArchive := fileutil.Exists(archivePath)
	if !useArchive && e.opts.CreateArchive && contents.hasPrefixed(e.opts.ArchivePrefix) {
		if _, err := e.writer.Create(archivePath, [grf.KeySize]byte{}); err != nil {
			return result, err
		}
		useArchive = true
		result.ArchiveCreated = true
	}

	batch := make(map[string][]byte)
	var remove []string
	for _, entry := range contents.entries {
		if err := ctx.Err(); err != nil {
			return result, services.Wrap(services.ErrCancelled, stageName, "extract", filepath.Base(packagePath), err)
		}
		dst, err := fileutil.SafeJoin(targetDir, entry.name)
		if err != nil {
			return result, services.Wrap(services.ErrFormat, stageName, "extract", entry.name, err)
		}
		archiveBound := useArchive && underPrefix(entry.name, e.opts.ArchivePrefix)

		switch {
		case entry.remove && archiveBound:
			remove = append(remove, entry.name)
		case entry.remove:
			if err := fileutil.RemoveIfExists(dst); err != nil {
				return result, services.Wrap(services.ErrIO, stageName, "remove file", entry.name, err)
			}
			result.FilesRemoved++
		case archiveBound:
			data, err := readAllEntry(entry)
			if err != nil {
				return result, classifyEntryError(entry.name, err)
			}
			batch[entry.name] = data
		default:
			if err := writeEntry(dst, entry); err != nil {
				return result, classifyEntryError(entry.name, err)
			}
			result.FilesWritten++
		}
	}

	if len(batch) > 0 || len(remove) > 0 {
		header, index, err := grf.Open(archivePath, e.logger)
		if err != nil {
			return result, err
		}
		_, stats, err := e.writer.QuickMerge(archivePath, header, index, batch, remove)
		if err != nil {
			return result, err
		}
		result.ArchiveAdded = stats.Added
		result.ArchiveRemoved = stats.Removed
	}

	e.logger.Info("package applied",
		logging.String("package", filepath.Base(packagePath)),
		logging.String("archive", filepath.Base(archivePath)),
		logging.Bool("legacy", result.Legacy),
		logging.Int("files_written", result.FilesWritten),
		logging.Int("archive_added", result.ArchiveAdded),
		logging.Int("archive_removed", result.ArchiveRemoved),
	)
	return result, nil
}

func writeEntry(dst string, entry packageEntry) error {
	rc, err := entry.open()
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = fileutil.WriteStream(dst, rc, 0o644)
	return err
}

func classifyEntryError(name string, err error) error {
	for _, marker := range []error{services.ErrFormat, services.ErrDecompression, services.ErrIO} {
		if errors.Is(err, marker) {
			return err
		}
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return services.Wrap(services.ErrIO, stageName, "write file", name, err)
	}
	return services.Wrap(services.ErrDecompression, stageName, "read entry", name, err)
}

// Validate reports whether path opens as a package with at least one entry.
// It never fails; the reason explains a false result.
func Validate(path string) (bool, string) {
	contents, err := openPackage(path, nil)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return false, "file not found"
		}
		return false, services.Details(err).Message
	}
	defer contents.Close()
	if len(contents.entries) == 0 {
		return false, "empty package"
	}
	return true, ""
}

// List returns the entry names of a package in container order.
func List(path string) ([]string, error) {
	contents, err := openPackage(path, nil)
	if err != nil {
		return nil, err
	}
	defer contents.Close()
	names := make([]string, 0, len(contents.entries))
	for _, entry := range contents.entries {
		names = append(names, entry.name)
	}
	return names, nil
}

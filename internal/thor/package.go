package thor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/klauspost/compress/zip"

	"grfpatch/internal/services"
)

const legacyMagic = "ASSF"

// packageEntry is one routable item from a package, independent of the
// container format.
type packageEntry struct {
	// name uses forward slashes.
	name   string
	remove bool
	open   func() (io.ReadCloser, error)
}

type packageContents struct {
	entries []packageEntry
	// archive overrides the configured archive name when non-empty.
	archive string
	legacy  bool
	closer  io.Closer
}

func (p *packageContents) Close() error {
	if p == nil || p.closer == nil {
		return nil
	}
	return p.closer.Close()
}

func (p *packageContents) hasPrefixed(prefix string) bool {
	for _, entry := range p.entries {
		if underPrefix(entry.name, prefix) {
			return true
		}
	}
	return false
}

func openPackage(path string, logger *slog.Logger) (*packageContents, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, stageName, "open package", path, err)
		}
		return nil, services.Wrap(services.ErrIO, stageName, "open package", path, err)
	}

	magic := make([]byte, len(legacyMagic))
	n, _ := io.ReadFull(file, magic)
	if n == len(magic) && string(magic) == legacyMagic {
		contents, err := openLegacy(file, logger)
		if err != nil {
			_ = file.Close()
			return nil, err
		}
		return contents, nil
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, services.Wrap(services.ErrIO, stageName, "stat package", path, err)
	}
	reader, err := zip.NewReader(file, info.Size())
	if err != nil {
		_ = file.Close()
		return nil, services.Wrap(services.ErrFormat, stageName, "open package", "not a zip or legacy THOR container", err)
	}

	contents := &packageContents{closer: file}
	for _, f := range reader.File {
		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			continue
		}
		contents.entries = append(contents.entries, packageEntry{
			name: normalizeName(f.Name),
			open: f.Open,
		})
	}
	return contents, nil
}

func normalizeName(name string) string {
	return strings.ReplaceAll(name, `\`, "/")
}

// underPrefix reports whether the first path segment of name equals prefix,
// ignoring ASCII case.
func underPrefix(name, prefix string) bool {
	first, rest, found := strings.Cut(name, "/")
	return found && rest != "" && strings.EqualFold(first, prefix)
}

func readAllEntry(entry packageEntry) ([]byte, error) {
	rc, err := entry.open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		return nil, fmt.Errorf("read %s: %w", entry.name, err)
	}
	return buf.Bytes(), nil
}

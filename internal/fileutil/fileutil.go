package fileutil

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsafePath reports a relative path that would resolve outside its root.
var ErrUnsafePath = errors.New("path escapes root")

// SafeJoin joins a slash- or backslash-separated relative path onto root,
// refusing absolute paths and any path that climbs out of root.
func SafeJoin(root, rel string) (string, error) {
	normalized := filepath.FromSlash(strings.ReplaceAll(rel, `\`, "/"))
	if normalized == "" || !filepath.IsLocal(normalized) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, rel)
	}
	return filepath.Join(root, normalized), nil
}

// WriteStream streams r to dst with the given mode, creating parent
// directories as needed and truncating any existing file.
func WriteStream(dst string, r io.Reader, mode os.FileMode) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	written, err := io.Copy(out, r)
	if err != nil {
		return written, err
	}
	return written, out.Close()
}

// RemoveIfExists deletes path, treating a missing file as success.
func RemoveIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Exists reports whether path names an existing regular file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

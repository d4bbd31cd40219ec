package grf

import (
	"bytes"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"

	"github.com/klauspost/compress/zlib"

	"grfpatch/internal/logging"
	"grfpatch/internal/services"
)

// Writer mutates containers in place.
type Writer struct {
	logger *slog.Logger
}

// NewWriter constructs a writer.
func NewWriter(logger *slog.Logger) *Writer {
	return &Writer{logger: logging.NewComponentLogger(logger, "grf-writer")}
}

// MergeStats summarizes a completed merge.
type MergeStats struct {
	Added   int
	Removed int
	Entries int
}

// QuickMerge adds or replaces files and drops the names in remove, starting
// from the header and index most recently read from path.
//
// New payloads are written at the old table offset, each padded to an 8-byte
// boundary, followed by the rebuilt table. The header is rewritten with the
// original signature and key and a zero seed, and the file is truncated to the
// end of the new table. Payloads of removed or replaced entries stay in place
// but become unreachable.
//
// Any I/O failure aborts the merge and may leave the container partially
// written.
func (w *Writer) QuickMerge(path string, header Header, index Index, files map[string][]byte, remove []string) (Header, MergeStats, error) {
	if string(header.Signature[:]) != Signature {
		return Header{}, MergeStats{}, services.Wrap(services.ErrFormat, stageName, "quick merge", "header signature does not match", nil)
	}

	merged := make(Index, len(index)+len(files))
	for key, entry := range index {
		merged[key] = entry
	}
	stats := MergeStats{}
	for _, name := range remove {
		key := Key(name)
		if _, ok := merged[key]; ok {
			delete(merged, key)
			stats.Removed++
		}
	}

	cursorPos, err := absolute(header.FileTableOffset)
	if err != nil {
		return Header{}, MergeStats{}, services.Wrap(services.ErrFormat, stageName, "quick merge", "table offset", err)
	}

	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return Header{}, MergeStats{}, services.Wrap(services.ErrIO, stageName, "open archive", path, err)
	}
	defer file.Close()

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		data := files[name]
		compressed, err := deflate(data)
		if err != nil {
			return Header{}, MergeStats{}, services.Wrap(services.ErrIO, stageName, "compress entry", name, err)
		}
		padded := align(len(compressed))
		rel, err := relative(cursorPos)
		if err != nil {
			return Header{}, MergeStats{}, services.Wrap(services.ErrFormat, stageName, "quick merge", name, err)
		}
		if rel+uint64(padded) > math.MaxInt32 || len(data) > math.MaxInt32 {
			return Header{}, MergeStats{}, services.Wrap(services.ErrFormat, stageName, "quick merge",
				fmt.Sprintf("%s does not fit below the 2 GiB offset limit", name), nil)
		}
		block := make([]byte, padded)
		copy(block, compressed)
		if _, err := file.WriteAt(block, cursorPos); err != nil {
			return Header{}, MergeStats{}, services.Wrap(services.ErrIO, stageName, "write entry", name, err)
		}
		merged[Key(name)] = Entry{
			Name:                  StoredName(name),
			CompressedSize:        int32(len(compressed)),
			CompressedSizeAligned: int32(padded),
			RealSize:              int32(len(data)),
			Flags:                 FlagFile,
			Offset:                int32(rel),
		}
		cursorPos += int64(padded)
		stats.Added++
	}

	table := &encoder{}
	for _, entry := range merged.Sorted() {
		encodeEntry(table, entry)
	}
	compressedTable, err := deflate(table.bytes())
	if err != nil {
		return Header{}, MergeStats{}, services.Wrap(services.ErrIO, stageName, "compress index", "", err)
	}
	block := &encoder{buf: make([]byte, 0, tableHeaderSize+len(compressedTable))}
	block.i32(int32(len(compressedTable)))
	block.i32(int32(len(table.bytes())))
	block.raw(compressedTable)
	if _, err := file.WriteAt(block.bytes(), cursorPos); err != nil {
		return Header{}, MergeStats{}, services.Wrap(services.ErrIO, stageName, "write index", "", err)
	}

	tableOffset, err := relative(cursorPos)
	if err != nil {
		return Header{}, MergeStats{}, services.Wrap(services.ErrFormat, stageName, "quick merge", "table offset", err)
	}
	finalSize := cursorPos + int64(len(block.bytes()))

	updated := header
	updated.FileTableOffset = tableOffset
	updated.Seed = 0
	updated.RawFileCount = int32(len(merged)) + countBias
	updated.Version = Version
	if _, err := file.WriteAt(encodeHeader(updated), 0); err != nil {
		return Header{}, MergeStats{}, services.Wrap(services.ErrIO, stageName, "write header", "", err)
	}
	if err := file.Truncate(finalSize); err != nil {
		return Header{}, MergeStats{}, services.Wrap(services.ErrIO, stageName, "truncate archive", path, err)
	}
	if err := file.Sync(); err != nil {
		return Header{}, MergeStats{}, services.Wrap(services.ErrIO, stageName, "sync archive", path, err)
	}
	if err := file.Close(); err != nil {
		return Header{}, MergeStats{}, services.Wrap(services.ErrIO, stageName, "close archive", path, err)
	}

	stats.Entries = len(merged)
	w.logger.Debug("quick merge complete",
		logging.String("archive", path),
		logging.Int("added", stats.Added),
		logging.Int("removed", stats.Removed),
		logging.Int("entries", stats.Entries),
		logging.Int64("table_offset", int64(tableOffset)),
		logging.Int64("size_bytes", finalSize),
	)
	return updated, stats, nil
}

// Create writes an empty container at path. It refuses to overwrite an
// existing file.
func (w *Writer) Create(path string, key [KeySize]byte) (Header, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return Header{}, services.Wrap(services.ErrIO, stageName, "create archive", path, err)
	}
	defer file.Close()

	var header Header
	copy(header.Signature[:], Signature)
	header.Key = key
	header.RawFileCount = countBias
	header.Version = Version

	emptyTable, err := deflate(nil)
	if err != nil {
		return Header{}, services.Wrap(services.ErrIO, stageName, "compress index", "", err)
	}
	e := &encoder{buf: encodeHeader(header)}
	e.i32(int32(len(emptyTable)))
	e.i32(0)
	e.raw(emptyTable)
	if _, err := file.Write(e.bytes()); err != nil {
		return Header{}, services.Wrap(services.ErrIO, stageName, "create archive", path, err)
	}
	if err := file.Sync(); err != nil {
		return Header{}, services.Wrap(services.ErrIO, stageName, "sync archive", path, err)
	}
	if err := file.Close(); err != nil {
		return Header{}, services.Wrap(services.ErrIO, stageName, "close archive", path, err)
	}
	w.logger.Info("created empty archive", logging.String("archive", path))
	return header, nil
}

func deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

package thor

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/klauspost/compress/zlib"

	"grfpatch/internal/logging"
	"grfpatch/internal/services"
)

// Legacy ASSF layout. Only the single-archive mode is supported.
const (
	legacyModeOffset    = 0x1D
	legacyNameLenOffset = 0x1F
	legacyNameOffset    = 0x20
	legacyModeArchive   = 0x30

	legacyFlagFile   = 1
	legacyFlagDelete = 5
)

type legacyEntry struct {
	name             string
	flags            uint8
	offset           uint32
	compressedSize   uint32
	decompressedSize uint32
}

func openLegacy(file *os.File, logger *slog.Logger) (*packageContents, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, services.Wrap(services.ErrIO, stageName, "stat legacy package", file.Name(), err)
	}
	size := info.Size()

	fixed := make([]byte, legacyNameOffset)
	if _, err := file.ReadAt(fixed, 0); err != nil {
		return nil, services.Wrap(services.ErrFormat, stageName, "read legacy header", "", err)
	}
	mode := binary.LittleEndian.Uint16(fixed[legacyModeOffset:])
	if mode != legacyModeArchive {
		return nil, services.Wrap(services.ErrUnsupported, stageName, "read legacy header", fmt.Sprintf("mode 0x%X", mode), nil)
	}

	nameLen := int(fixed[legacyNameLenOffset])
	rest := make([]byte, nameLen+8)
	if _, err := file.ReadAt(rest, legacyNameOffset); err != nil {
		return nil, services.Wrap(services.ErrFormat, stageName, "read legacy header", "target name", err)
	}
	target := string(rest[:nameLen])
	tableLen := binary.LittleEndian.Uint32(rest[nameLen:])
	tableOffset := binary.LittleEndian.Uint32(rest[nameLen+4:])

	if !withinFile(tableOffset, tableLen, size) {
		return nil, services.Wrap(services.ErrFormat, stageName, "read legacy table",
			fmt.Sprintf("table of %d bytes at %d exceeds package size %d", tableLen, tableOffset, size), nil)
	}
	compressed := make([]byte, tableLen)
	if _, err := file.ReadAt(compressed, int64(tableOffset)); err != nil {
		return nil, services.Wrap(services.ErrFormat, stageName, "read legacy table", "", err)
	}
	table, err := inflate(compressed)
	if err != nil {
		return nil, services.Wrap(services.ErrDecompression, stageName, "inflate legacy table", "", err)
	}

	logger = logging.NewComponentLogger(logger, "thor-legacy")
	contents := &packageContents{archive: target, legacy: true, closer: file}
	for _, entry := range decodeLegacyTable(table) {
		switch entry.flags {
		case legacyFlagFile:
			contents.entries = append(contents.entries, packageEntry{
				name: normalizeName(entry.name),
				open: legacyOpener(file, size, entry, logger),
			})
		case legacyFlagDelete:
			contents.entries = append(contents.entries, packageEntry{
				name:   normalizeName(entry.name),
				remove: true,
			})
		default:
			logger.Debug("skipping legacy entry", logging.String("name", entry.name), logging.Int("flags", int(entry.flags)))
		}
	}
	return contents, nil
}

// decodeLegacyTable walks the inflated table; a truncated trailing entry ends
// the walk.
func decodeLegacyTable(table []byte) []legacyEntry {
	var entries []legacyEntry
	pos := 0
	for pos < len(table) {
		nameLen := int(table[pos])
		pos++
		if pos+nameLen+13 > len(table) {
			break
		}
		entry := legacyEntry{name: string(table[pos : pos+nameLen])}
		pos += nameLen
		entry.flags = table[pos]
		entry.offset = binary.LittleEndian.Uint32(table[pos+1:])
		entry.compressedSize = binary.LittleEndian.Uint32(table[pos+5:])
		entry.decompressedSize = binary.LittleEndian.Uint32(table[pos+9:])
		pos += 13
		entries = append(entries, entry)
	}
	return entries
}

// legacyOpener inflates an entry payload. Payloads that fail to inflate are
// returned as stored bytes.
func legacyOpener(file *os.File, size int64, entry legacyEntry, logger *slog.Logger) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		if !withinFile(entry.offset, entry.compressedSize, size) {
			return nil, services.Wrap(services.ErrFormat, stageName, "read legacy entry",
				fmt.Sprintf("%s: %d bytes at %d exceed package size %d", entry.name, entry.compressedSize, entry.offset, size), nil)
		}
		raw := make([]byte, entry.compressedSize)
		if _, err := file.ReadAt(raw, int64(entry.offset)); err != nil {
			return nil, services.Wrap(services.ErrFormat, stageName, "read legacy entry", entry.name, err)
		}
		data, err := inflate(raw)
		if err != nil {
			logging.WarnWithContext(logger, "legacy entry not compressed", "legacy_entry_stored",
				logging.String("name", entry.name),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "the package stored this entry without zlib"),
				logging.String(logging.FieldImpact, "raw bytes are used as the payload"),
			)
			data = raw
		} else if uint32(len(data)) != entry.decompressedSize {
			logger.Debug("legacy entry size mismatch",
				logging.String("name", entry.name),
				logging.Int("expected_bytes", int(entry.decompressedSize)),
				logging.Int("actual_bytes", len(data)),
			)
		}
		return io.NopCloser(bytes.NewReader(data)), nil
	}
}

// withinFile reports whether length bytes at offset fit in a file of size bytes.
func withinFile(offset, length uint32, size int64) bool {
	return int64(offset)+int64(length) <= size
}

func inflate(compressed []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

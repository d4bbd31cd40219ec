package grf

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/klauspost/compress/zlib"

	"grfpatch/internal/logging"
	"grfpatch/internal/services"
)

const (
	stageName   = "grf"
	maxPrealloc = 64 << 20
)

// Reader decodes a container on disk. It holds no open handle between calls.
type Reader struct {
	path   string
	logger *slog.Logger
}

// NewReader constructs a reader for the container at path.
func NewReader(path string, logger *slog.Logger) *Reader {
	return &Reader{
		path:   path,
		logger: logging.NewComponentLogger(logger, "grf-reader"),
	}
}

// Open reads the header and file table of the container at path.
func Open(path string, logger *slog.Logger) (Header, Index, error) {
	reader := NewReader(path, logger)
	header, err := reader.ReadHeader()
	if err != nil {
		return Header{}, nil, err
	}
	index, err := reader.ReadIndex(header)
	if err != nil {
		return Header{}, nil, err
	}
	return header, index, nil
}

// ReadHeader decodes and validates the fixed header region.
func (r *Reader) ReadHeader() (Header, error) {
	file, err := os.Open(r.path)
	if err != nil {
		return Header{}, services.Wrap(services.ErrIO, stageName, "open archive", r.path, err)
	}
	defer file.Close()

	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(file, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Header{}, services.Wrap(services.ErrFormat, stageName, "read header", "file shorter than header", err)
		}
		return Header{}, services.Wrap(services.ErrIO, stageName, "read header", r.path, err)
	}
	header, err := decodeHeader(buf)
	if err != nil {
		return Header{}, services.Wrap(services.ErrFormat, stageName, "decode header", "", err)
	}
	if string(header.Signature[:]) != Signature {
		return Header{}, services.Wrap(services.ErrFormat, stageName, "decode header", fmt.Sprintf("bad signature %q", header.Signature[:]), nil)
	}
	if header.RealFileCount() < 0 {
		return Header{}, services.Wrap(services.ErrFormat, stageName, "decode header",
			fmt.Sprintf("negative file count (raw %d, seed %d)", header.RawFileCount, header.Seed), nil)
	}
	return header, nil
}

// ReadIndex decodes the compressed file table referenced by header. Decoding
// stops at the end of the table or after RealFileCount entries, whichever
// comes first; a truncated trailing entry ends the walk without failing.
func (r *Reader) ReadIndex(header Header) (Index, error) {
	file, err := os.Open(r.path)
	if err != nil {
		return nil, services.Wrap(services.ErrIO, stageName, "open archive", r.path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, services.Wrap(services.ErrIO, stageName, "stat archive", r.path, err)
	}
	pos, err := absolute(header.FileTableOffset)
	if err != nil || pos+tableHeaderSize > info.Size() {
		return nil, services.Wrap(services.ErrFormat, stageName, "read index",
			fmt.Sprintf("table offset %d beyond file size %d", header.FileTableOffset, info.Size()), err)
	}

	sub := make([]byte, tableHeaderSize)
	if _, err := file.ReadAt(sub, pos); err != nil {
		return nil, services.Wrap(services.ErrIO, stageName, "read index", "table header", err)
	}
	c := newCursor(sub)
	compressedSize, _ := c.i32()
	realSize, _ := c.i32()
	if compressedSize < 0 || realSize < 0 || pos+tableHeaderSize+int64(compressedSize) > info.Size() {
		return nil, services.Wrap(services.ErrFormat, stageName, "read index",
			fmt.Sprintf("invalid table sizes (compressed %d, real %d)", compressedSize, realSize), nil)
	}

	compressed := make([]byte, compressedSize)
	if _, err := file.ReadAt(compressed, pos+tableHeaderSize); err != nil {
		return nil, services.Wrap(services.ErrIO, stageName, "read index", "table body", err)
	}
	raw, err := inflate(compressed, int(realSize))
	if err != nil {
		return nil, services.Wrap(services.ErrDecompression, stageName, "inflate index", "", err)
	}
	if len(raw) != int(realSize) {
		logging.WarnWithContext(r.logger, "file table size mismatch", "index_size_mismatch",
			logging.Int("expected_bytes", int(realSize)),
			logging.Int("actual_bytes", len(raw)),
			logging.String(logging.FieldErrorHint, "archive was written by a tool that rounds table sizes"),
			logging.String(logging.FieldImpact, "none, entries are decoded from the inflated table"),
		)
	}

	// The header count is untrusted; each entry needs at least a NUL and its tail.
	want := int(header.RealFileCount())
	index := make(Index, min(want, len(raw)/(entryTailSize+1)))
	cur := newCursor(raw)
	decoded := 0
	for decoded < want && cur.remaining() > 0 {
		entry, err := decodeEntry(cur)
		if err != nil {
			r.logger.Debug("file table walk stopped", logging.Int("decoded", decoded), logging.Error(err))
			break
		}
		index[Key(entry.Name)] = entry
		decoded++
	}
	if decoded < want {
		r.logger.Debug("file table shorter than header count",
			logging.Int("decoded", decoded),
			logging.Int("expected", want),
		)
	}
	return index, nil
}

// ReadEntry returns the decompressed payload of entry.
func (r *Reader) ReadEntry(entry Entry) ([]byte, error) {
	if !entry.Flags.Has(FlagFile) {
		return nil, services.Wrap(services.ErrUnsupported, stageName, "read entry", fmt.Sprintf("%s is not a file", entry.Name), nil)
	}
	if entry.Encrypted() {
		return nil, services.Wrap(services.ErrUnsupported, stageName, "read entry", fmt.Sprintf("%s is encrypted", entry.Name), nil)
	}
	if entry.Offset < 0 || entry.CompressedSize < 0 || entry.RealSize < 0 || entry.CompressedSizeAligned < entry.CompressedSize {
		return nil, services.Wrap(services.ErrFormat, stageName, "read entry", fmt.Sprintf("%s has invalid sizes", entry.Name), nil)
	}
	if entry.RealSize == 0 && entry.CompressedSize == 0 {
		return []byte{}, nil
	}

	file, err := os.Open(r.path)
	if err != nil {
		return nil, services.Wrap(services.ErrIO, stageName, "open archive", r.path, err)
	}
	defer file.Close()

	pos, err := absolute(uint64(entry.Offset))
	if err != nil {
		return nil, services.Wrap(services.ErrFormat, stageName, "read entry", entry.Name, err)
	}
	block := make([]byte, entry.CompressedSizeAligned)
	if _, err := file.ReadAt(block, pos); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, services.Wrap(services.ErrFormat, stageName, "read entry", fmt.Sprintf("%s extends past end of file", entry.Name), err)
		}
		return nil, services.Wrap(services.ErrIO, stageName, "read entry", entry.Name, err)
	}
	data, err := inflate(block[:entry.CompressedSize], int(entry.RealSize))
	if err != nil {
		return nil, services.Wrap(services.ErrDecompression, stageName, "inflate entry", entry.Name, err)
	}
	if len(data) != int(entry.RealSize) {
		return nil, services.Wrap(services.ErrDecompression, stageName, "inflate entry",
			fmt.Sprintf("%s: got %d bytes, want %d", entry.Name, len(data), entry.RealSize), nil)
	}
	return data, nil
}

func inflate(compressed []byte, sizeHint int) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	if sizeHint < 0 || sizeHint > maxPrealloc {
		sizeHint = maxPrealloc
	}
	out := bytes.NewBuffer(make([]byte, 0, sizeHint))
	if _, err := io.Copy(out, zr); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

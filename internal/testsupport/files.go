package testsupport

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zlib"

	"grfpatch/internal/grf"
)

// PackageFile is one entry of a generated patch package.
type PackageFile struct {
	Name string
	Data []byte
	// Delete marks a legacy removal entry; Data is ignored.
	Delete bool
	// Stored writes a legacy payload without zlib.
	Stored bool
}

// WriteZipPackage writes a zip patch package with the given entries in order.
// Names ending in "/" become directory entries.
func WriteZipPackage(t testing.TB, path string, files ...PackageFile) {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		w, err := zw.Create(f.Name)
		if err != nil {
			t.Fatalf("zip create %s: %v", f.Name, err)
		}
		if _, err := w.Write(f.Data); err != nil {
			t.Fatalf("zip write %s: %v", f.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	writeBytes(t, path, buf.Bytes())
}

// WriteLegacyPackage writes an ASSF THOR package in single-archive mode
// targeting archive (empty for the configured default).
func WriteLegacyPackage(t testing.TB, path, archive string, files ...PackageFile) {
	t.Helper()

	header := make([]byte, 0x20)
	copy(header, "ASSF (C) 2007 Aeomin DEV")
	binary.LittleEndian.PutUint16(header[0x1D:], 0x30)
	header[0x1F] = byte(len(archive))

	headerLen := len(header) + len(archive) + 8
	var payload bytes.Buffer
	var table bytes.Buffer
	for _, f := range files {
		table.WriteByte(byte(len(f.Name)))
		table.WriteString(f.Name)
		if f.Delete {
			table.WriteByte(5)
			table.Write(make([]byte, 12))
			continue
		}
		stored := f.Data
		if !f.Stored {
			stored = Deflate(t, f.Data)
		}
		table.WriteByte(1)
		_ = binary.Write(&table, binary.LittleEndian, uint32(headerLen+payload.Len()))
		_ = binary.Write(&table, binary.LittleEndian, uint32(len(stored)))
		_ = binary.Write(&table, binary.LittleEndian, uint32(len(f.Data)))
		payload.Write(stored)
	}
	compressedTable := Deflate(t, table.Bytes())

	var out bytes.Buffer
	out.Write(header)
	out.WriteString(archive)
	_ = binary.Write(&out, binary.LittleEndian, uint32(len(compressedTable)))
	_ = binary.Write(&out, binary.LittleEndian, uint32(headerLen+payload.Len()))
	out.Write(payload.Bytes())
	out.Write(compressedTable)
	writeBytes(t, path, out.Bytes())
}

// NewArchive creates a container at path holding files.
func NewArchive(t testing.TB, path string, files map[string][]byte) {
	t.Helper()

	writer := grf.NewWriter(nil)
	header, err := writer.Create(path, [grf.KeySize]byte{})
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}
	if len(files) == 0 {
		return
	}
	if _, _, err := writer.QuickMerge(path, header, grf.Index{}, files, nil); err != nil {
		t.Fatalf("seed archive: %v", err)
	}
}

// ReadArchiveFile returns the payload of name from the container at path.
func ReadArchiveFile(t testing.TB, path, name string) ([]byte, grf.Entry) {
	t.Helper()

	_, index, err := grf.Open(path, nil)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	entry, ok := index.Lookup(name)
	if !ok {
		t.Fatalf("archive has no entry %q", name)
	}
	data, err := grf.NewReader(path, nil).ReadEntry(entry)
	if err != nil {
		t.Fatalf("read entry %q: %v", name, err)
	}
	return data, entry
}

// Deflate zlib-compresses data.
func Deflate(t testing.TB, data []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		t.Fatalf("deflate: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("deflate close: %v", err)
	}
	return buf.Bytes()
}

func writeBytes(t testing.TB, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

package grf

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
)

const (
	// HeaderSize is the length of the fixed header region. All offsets stored in
	// the container are relative to this position.
	HeaderSize = 46
	// Signature is the magic string opening every container.
	Signature = "Master of Magic\x00"
	// KeySize is the length of the opaque key stored after the signature.
	KeySize = 14
	// Version is the format revision this package reads and writes.
	Version uint32 = 0x200

	tableHeaderSize = 8
	entryTailSize   = 17
	alignment       = 8
	countBias       = 7
)

// Flag is the per-entry flags byte.
type Flag uint8

const (
	// FlagFile marks a regular file entry. Entries without it are
	// directories and cannot be read.
	FlagFile Flag = 0x01
	// FlagMixedCipher marks a payload encrypted with DES on its header
	// blocks and at a fixed interval after that. Reading it is unsupported.
	FlagMixedCipher Flag = 0x02
	// FlagLegacyCipher marks a payload encrypted with DES on its first
	// blocks only. Reading it is unsupported.
	FlagLegacyCipher Flag = 0x04
)

// Has reports whether all bits of other are set.
func (f Flag) Has(other Flag) bool {
	return f&other == other
}

// Header is the decoded fixed header region.
type Header struct {
	Signature       [16]byte
	Key             [KeySize]byte
	FileTableOffset uint64
	Seed            int32
	RawFileCount    int32
	Version         uint32
}

// RealFileCount is the number of entries the file table holds.
func (h Header) RealFileCount() int32 {
	return h.RawFileCount - h.Seed - countBias
}

// Entry describes one file stored in the container.
type Entry struct {
	Name                  string
	CompressedSize        int32
	CompressedSizeAligned int32
	RealSize              int32
	Flags                 Flag
	Offset                int32
}

// Encrypted reports whether the payload uses either cipher.
func (e Entry) Encrypted() bool {
	return e.Flags&(FlagMixedCipher|FlagLegacyCipher) != 0
}

// Index maps case-folded entry keys to entries.
type Index map[string]Entry

// Lookup finds an entry by name using the container's key folding.
func (idx Index) Lookup(name string) (Entry, bool) {
	entry, ok := idx[Key(name)]
	return entry, ok
}

// Sorted returns the entries ordered by stored name.
func (idx Index) Sorted() []Entry {
	entries := make([]Entry, 0, len(idx))
	for _, entry := range idx {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
	return entries
}

// StoredName converts a path to the separator convention used inside
// containers.
func StoredName(name string) string {
	return strings.ReplaceAll(name, "/", `\`)
}

// Key returns the lookup key for name: backslash separators and Unicode case
// folding, so "Data/Sprite.SPR" and "data\sprite.spr" collide.
func Key(name string) string {
	return cases.Fold().String(StoredName(name))
}

func align(n int) int {
	return (n + alignment - 1) &^ (alignment - 1)
}

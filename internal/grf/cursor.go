package grf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var errShortBuffer = errors.New("short buffer")

// cursor decodes little-endian values from a byte slice, refusing to read
// past its end.
type cursor struct {
	buf []byte
	pos int
}

func newCursor(buf []byte) *cursor {
	return &cursor{buf: buf}
}

func (c *cursor) remaining() int {
	return len(c.buf) - c.pos
}

func (c *cursor) take(n int) ([]byte, error) {
	if n < 0 || c.remaining() < n {
		return nil, fmt.Errorf("%w: need %d bytes at %d, have %d", errShortBuffer, n, c.pos, c.remaining())
	}
	out := c.buf[c.pos : c.pos+n]
	c.pos += n
	return out, nil
}

func (c *cursor) u8() (uint8, error) {
	b, err := c.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *cursor) i32() (int32, error) {
	b, err := c.take(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

func (c *cursor) u64() (uint64, error) {
	b, err := c.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// cstring reads a NUL-terminated string and consumes the terminator.
func (c *cursor) cstring() (string, error) {
	end := bytes.IndexByte(c.buf[c.pos:], 0)
	if end < 0 {
		return "", fmt.Errorf("%w: unterminated name at %d", errShortBuffer, c.pos)
	}
	s := string(c.buf[c.pos : c.pos+end])
	c.pos += end + 1
	return s, nil
}

// encoder appends little-endian values to a growing buffer.
type encoder struct {
	buf []byte
}

func (e *encoder) u8(v uint8) {
	e.buf = append(e.buf, v)
}

func (e *encoder) i32(v int32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, uint32(v))
}

func (e *encoder) u64(v uint64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, v)
}

func (e *encoder) raw(b []byte) {
	e.buf = append(e.buf, b...)
}

func (e *encoder) cstring(s string) {
	e.buf = append(e.buf, s...)
	e.buf = append(e.buf, 0)
}

func (e *encoder) bytes() []byte {
	return e.buf
}

// absolute converts a header-relative offset to a file position.
func absolute(rel uint64) (int64, error) {
	if rel > math.MaxInt64-HeaderSize {
		return 0, fmt.Errorf("offset %d out of range", rel)
	}
	return int64(rel) + HeaderSize, nil
}

// relative converts a file position to a header-relative offset.
func relative(abs int64) (uint64, error) {
	if abs < HeaderSize {
		return 0, fmt.Errorf("position %d precedes header end", abs)
	}
	return uint64(abs - HeaderSize), nil
}

func decodeHeader(buf []byte) (Header, error) {
	c := newCursor(buf)
	var h Header
	sig, err := c.take(len(h.Signature))
	if err != nil {
		return Header{}, err
	}
	copy(h.Signature[:], sig)
	key, err := c.take(KeySize)
	if err != nil {
		return Header{}, err
	}
	copy(h.Key[:], key)
	if h.FileTableOffset, err = c.u64(); err != nil {
		return Header{}, err
	}
	if h.Seed, err = c.i32(); err != nil {
		return Header{}, err
	}
	if h.RawFileCount, err = c.i32(); err != nil {
		return Header{}, err
	}
	h.Version = Version
	return h, nil
}

func encodeHeader(h Header) []byte {
	e := &encoder{buf: make([]byte, 0, HeaderSize)}
	e.raw(h.Signature[:])
	e.raw(h.Key[:])
	e.u64(h.FileTableOffset)
	e.i32(h.Seed)
	e.i32(h.RawFileCount)
	return e.bytes()
}

func decodeEntry(c *cursor) (Entry, error) {
	name, err := c.cstring()
	if err != nil {
		return Entry{}, err
	}
	if c.remaining() < entryTailSize {
		return Entry{}, fmt.Errorf("%w: entry %q tail truncated", errShortBuffer, name)
	}
	entry := Entry{Name: name}
	// take cannot fail below; the tail length was checked.
	entry.CompressedSize, _ = c.i32()
	entry.CompressedSizeAligned, _ = c.i32()
	entry.RealSize, _ = c.i32()
	flags, _ := c.u8()
	entry.Flags = Flag(flags)
	entry.Offset, _ = c.i32()
	return entry, nil
}

func encodeEntry(e *encoder, entry Entry) {
	e.cstring(StoredName(entry.Name))
	e.i32(entry.CompressedSize)
	e.i32(entry.CompressedSizeAligned)
	e.i32(entry.RealSize)
	e.u8(uint8(entry.Flags))
	e.i32(entry.Offset)
}

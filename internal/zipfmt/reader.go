// Package zipfmt provides read-only, single-entry random access to ZIP
// containers (.zip/.cbz). It parses the central directory once and streams
// individual entries on demand without extracting the archive.
package zipfmt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var (
	// ErrFormat reports a corrupt, truncated or unsupported container.
	ErrFormat = errors.New("zipfmt: invalid archive")
	// ErrChecksum reports a CRC-32 mismatch detected while streaming an entry.
	ErrChecksum = errors.New("zipfmt: checksum mismatch")
)

// Compression methods recorded in the central directory.
const (
	MethodStore   uint16 = 0
	MethodDeflate uint16 = 8
)

const (
	directoryEndSignature    = 0x06054b50
	directory64LocSignature  = 0x07064b50
	directory64EndSignature  = 0x06064b50
	directoryHeaderSignature = 0x02014b50
	fileHeaderSignature      = 0x04034b50

	directoryEndLen    = 22
	directory64LocLen  = 20
	directory64EndLen  = 56
	directoryHeaderLen = 46
	fileHeaderLen      = 30

	maxCommentLen = 1 << 16
)

// Entry describes one file inside a container: where its compressed bytes
// live and how to turn them back into the original data.
type Entry struct {
	Name             string
	Method           uint16
	CRC32            uint32
	CompressedSize   uint64
	UncompressedSize uint64

	// offset of the local file header. The data offset is derived from the
	// local header on open; some writers store a wrong extra-field length in
	// the central record, so it is never trusted from there.
	headerOffset int64

	index *Index
}

// Index is the parsed central directory of a single container. It is
// immutable once returned by Parse and safe for concurrent use.
type Index struct {
	path    string
	ra      io.ReaderAt
	size    int64
	entries []*Entry
	byName  map[string]*Entry
}

// Parse opens the container at path, reads its central directory and
// returns the entry index. The file handle used for parsing is closed
// before returning; entry opens take their own handles.
func Parse(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}

	idx, err := ParseReader(f, fi.Size())
	if err != nil {
		return nil, err
	}
	idx.path = path
	idx.ra = nil
	return idx, nil
}

// ParseReader parses a container from an io.ReaderAt. Entries opened from
// the returned index read through r, so r must stay valid for the index
// lifetime and support concurrent ReadAt.
func ParseReader(r io.ReaderAt, size int64) (*Index, error) {
	if size < directoryEndLen {
		return nil, fmt.Errorf("%w: %d bytes is too small for an end record", ErrFormat, size)
	}

	entryCount, dirOffset, dirSize, err := readDirectoryEnd(r, size)
	if err != nil {
		return nil, err
	}

	if dirOffset < 0 || dirSize < 0 || dirOffset+dirSize > size {
		return nil, fmt.Errorf("%w: central directory [%d:%d] outside file of %d bytes",
			ErrFormat, dirOffset, dirOffset+dirSize, size)
	}

	dir := make([]byte, dirSize)
	if _, err := io.ReadFull(io.NewSectionReader(r, dirOffset, dirSize), dir); err != nil {
		return nil, fmt.Errorf("reading central directory: %w", err)
	}

	idx := &Index{
		ra:     r,
		size:   size,
		byName: make(map[string]*Entry, entryCount),
	}

	p := 0
	for i := uint64(0); i < entryCount; i++ {
		e, n, err := parseDirectoryHeader(dir[p:])
		if err != nil {
			return nil, fmt.Errorf("central directory record %d: %w", i, err)
		}
		p += n

		// directory entries carry no data
		if strings.HasSuffix(e.Name, "/") {
			continue
		}

		e.index = idx
		idx.entries = append(idx.entries, e)
		idx.byName[e.Name] = e
	}

	return idx, nil
}

// Entries returns all file entries in central directory order.
func (ix *Index) Entries() []*Entry {
	return ix.entries
}

// Lookup returns the entry with the given name.
func (ix *Index) Lookup(name string) (*Entry, bool) {
	e, ok := ix.byName[name]
	return e, ok
}

// Len returns the number of file entries in the container.
func (ix *Index) Len() int {
	return len(ix.entries)
}

// readDirectoryEnd locates the end-of-central-directory record by scanning
// backward from EOF (the record may be preceded by an archive comment of up
// to 64 KiB) and resolves the ZIP64 variant when present.
func readDirectoryEnd(r io.ReaderAt, size int64) (entries uint64, dirOffset, dirSize int64, err error) {
	windowLen := int64(directoryEndLen + maxCommentLen)
	if windowLen > size {
		windowLen = size
	}
	windowStart := size - windowLen

	window := make([]byte, windowLen)
	if _, err := io.ReadFull(io.NewSectionReader(r, windowStart, windowLen), window); err != nil {
		return 0, 0, 0, fmt.Errorf("reading end of archive: %w", err)
	}

	recOffset := int64(-1)
	for i := len(window) - directoryEndLen; i >= 0; i-- {
		if binary.LittleEndian.Uint32(window[i:]) != directoryEndSignature {
			continue
		}
		// the comment must run exactly to EOF, otherwise this is a stray
		// signature inside entry data
		commentLen := int(binary.LittleEndian.Uint16(window[i+20:]))
		if i+directoryEndLen+commentLen == len(window) {
			recOffset = windowStart + int64(i)
			window = window[i:]
			break
		}
	}
	if recOffset < 0 {
		return 0, 0, 0, fmt.Errorf("%w: end of central directory record not found", ErrFormat)
	}

	entries = uint64(binary.LittleEndian.Uint16(window[10:]))
	dirSize = int64(binary.LittleEndian.Uint32(window[12:]))
	dirOffset = int64(binary.LittleEndian.Uint32(window[16:]))

	if entries == 0xffff || dirSize == 0xffffffff || dirOffset == 0xffffffff {
		e64, off64, size64, err := readDirectory64End(r, recOffset)
		if err != nil {
			return 0, 0, 0, err
		}
		return e64, off64, size64, nil
	}

	return entries, dirOffset, dirSize, nil
}

// readDirectory64End follows the ZIP64 locator that sits immediately before
// the classic end record.
func readDirectory64End(r io.ReaderAt, directoryEndOffset int64) (entries uint64, dirOffset, dirSize int64, err error) {
	locOffset := directoryEndOffset - directory64LocLen
	if locOffset < 0 {
		return 0, 0, 0, fmt.Errorf("%w: missing zip64 locator", ErrFormat)
	}

	loc := make([]byte, directory64LocLen)
	if _, err := io.ReadFull(io.NewSectionReader(r, locOffset, directory64LocLen), loc); err != nil {
		return 0, 0, 0, fmt.Errorf("reading zip64 locator: %w", err)
	}
	if binary.LittleEndian.Uint32(loc) != directory64LocSignature {
		return 0, 0, 0, fmt.Errorf("%w: bad zip64 locator signature", ErrFormat)
	}
	endOffset := int64(binary.LittleEndian.Uint64(loc[8:]))

	end := make([]byte, directory64EndLen)
	if _, err := io.ReadFull(io.NewSectionReader(r, endOffset, directory64EndLen), end); err != nil {
		return 0, 0, 0, fmt.Errorf("reading zip64 end record: %w", err)
	}
	if binary.LittleEndian.Uint32(end) != directory64EndSignature {
		return 0, 0, 0, fmt.Errorf("%w: bad zip64 end record signature", ErrFormat)
	}

	entries = binary.LittleEndian.Uint64(end[32:])
	dirSize = int64(binary.LittleEndian.Uint64(end[40:]))
	dirOffset = int64(binary.LittleEndian.Uint64(end[48:]))
	return entries, dirOffset, dirSize, nil
}

// parseDirectoryHeader decodes one central directory record, applying any
// ZIP64 extra-field overrides for the 32-bit size and offset fields.
func parseDirectoryHeader(b []byte) (*Entry, int, error) {
	if len(b) < directoryHeaderLen {
		return nil, 0, fmt.Errorf("%w: truncated central directory", ErrFormat)
	}
	if binary.LittleEndian.Uint32(b) != directoryHeaderSignature {
		return nil, 0, fmt.Errorf("%w: bad central directory signature", ErrFormat)
	}

	e := &Entry{
		Method:           binary.LittleEndian.Uint16(b[10:]),
		CRC32:            binary.LittleEndian.Uint32(b[16:]),
		CompressedSize:   uint64(binary.LittleEndian.Uint32(b[20:])),
		UncompressedSize: uint64(binary.LittleEndian.Uint32(b[24:])),
		headerOffset:     int64(binary.LittleEndian.Uint32(b[42:])),
	}

	nameLen := int(binary.LittleEndian.Uint16(b[28:]))
	extraLen := int(binary.LittleEndian.Uint16(b[30:]))
	commentLen := int(binary.LittleEndian.Uint16(b[32:]))

	recLen := directoryHeaderLen + nameLen + extraLen + commentLen
	if len(b) < recLen {
		return nil, 0, fmt.Errorf("%w: truncated central directory", ErrFormat)
	}

	e.Name = string(b[directoryHeaderLen : directoryHeaderLen+nameLen])

	extra := b[directoryHeaderLen+nameLen : directoryHeaderLen+nameLen+extraLen]
	if err := e.applyExtra(extra); err != nil {
		return nil, 0, err
	}

	return e, recLen, nil
}

// applyExtra scans the extra field for the ZIP64 tag. Its payload holds
// 64-bit replacements, in order, for each 32-bit field that saturated.
func (e *Entry) applyExtra(extra []byte) error {
	for len(extra) >= 4 {
		tag := binary.LittleEndian.Uint16(extra)
		size := int(binary.LittleEndian.Uint16(extra[2:]))
		if len(extra) < 4+size {
			return fmt.Errorf("%w: truncated extra field", ErrFormat)
		}
		field := extra[4 : 4+size]
		extra = extra[4+size:]

		if tag != 0x0001 {
			continue
		}

		if e.UncompressedSize == 0xffffffff {
			if len(field) < 8 {
				return fmt.Errorf("%w: short zip64 extra field", ErrFormat)
			}
			e.UncompressedSize = binary.LittleEndian.Uint64(field)
			field = field[8:]
		}
		if e.CompressedSize == 0xffffffff {
			if len(field) < 8 {
				return fmt.Errorf("%w: short zip64 extra field", ErrFormat)
			}
			e.CompressedSize = binary.LittleEndian.Uint64(field)
			field = field[8:]
		}
		if e.headerOffset == 0xffffffff {
			if len(field) < 8 {
				return fmt.Errorf("%w: short zip64 extra field", ErrFormat)
			}
			e.headerOffset = int64(binary.LittleEndian.Uint64(field))
		}
	}
	return nil
}

package zipfmt

import (
	"encoding/binary"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"os"

	"github.com/klauspost/compress/flate"
)

// Open returns a stream of the entry's decompressed bytes. Decompression
// happens lazily as the caller reads; the entry is never materialized in
// full. Every call takes an independent read cursor over the container, so
// concurrent opens of entries from the same archive do not serialize each
// other. The caller must Close the stream to release the cursor.
func (e *Entry) Open() (io.ReadCloser, error) {
	return e.open(false)
}

// OpenVerified is Open with a streaming CRC-32 check: once the stream is
// fully consumed, a mismatch against the checksum recorded in the central
// directory surfaces as ErrChecksum.
func (e *Entry) OpenVerified() (io.ReadCloser, error) {
	return e.open(true)
}

func (e *Entry) open(verify bool) (io.ReadCloser, error) {
	src, closer, err := e.index.openSource()
	if err != nil {
		return nil, err
	}

	dataOffset, err := e.dataOffset(src)
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return nil, err
	}

	raw := io.NewSectionReader(src, dataOffset, int64(e.CompressedSize))

	r := &entryReader{
		entry:  e,
		closer: closer,
	}
	switch e.Method {
	case MethodStore:
		r.body = raw
	case MethodDeflate:
		fr := flate.NewReader(raw)
		r.body = fr
		r.inflater = fr
	default:
		if closer != nil {
			closer.Close()
		}
		return nil, fmt.Errorf("%w: unsupported compression method %d for %q",
			ErrFormat, e.Method, e.Name)
	}
	if verify {
		r.hash = crc32.NewIEEE()
	}
	return r, nil
}

// openSource hands out a read cursor for the container. Path-backed indexes
// get a fresh file handle per open; reader-backed ones share the ReaderAt,
// whose ReadAt carries no seek position and is safe to share.
func (ix *Index) openSource() (io.ReaderAt, io.Closer, error) {
	if ix.path == "" {
		return ix.ra, nil, nil
	}
	f, err := os.Open(ix.path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening archive: %w", err)
	}
	return f, f, nil
}

// dataOffset reads the entry's local file header to find where its data
// starts. The central record's extra-field length is not reused here: some
// writers record different extra data in the two places.
func (e *Entry) dataOffset(src io.ReaderAt) (int64, error) {
	var hdr [fileHeaderLen]byte
	if _, err := io.ReadFull(io.NewSectionReader(src, e.headerOffset, fileHeaderLen), hdr[:]); err != nil {
		return 0, fmt.Errorf("reading local header of %q: %w", e.Name, err)
	}
	if binary.LittleEndian.Uint32(hdr[:]) != fileHeaderSignature {
		return 0, fmt.Errorf("%w: bad local header signature for %q", ErrFormat, e.Name)
	}
	nameLen := int64(binary.LittleEndian.Uint16(hdr[26:]))
	extraLen := int64(binary.LittleEndian.Uint16(hdr[28:]))
	return e.headerOffset + fileHeaderLen + nameLen + extraLen, nil
}

// entryReader yields exactly UncompressedSize bytes and then io.EOF. It
// never reads past the entry's compressed range into neighbouring entries.
type entryReader struct {
	entry    *Entry
	body     io.Reader
	inflater io.Closer
	closer   io.Closer
	hash     hash.Hash32
	consumed uint64
	err      error
}

func (r *entryReader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}

	remaining := r.entry.UncompressedSize - r.consumed
	if remaining == 0 {
		r.err = r.finish()
		return 0, r.err
	}
	if uint64(len(p)) > remaining {
		p = p[:remaining]
	}
	if len(p) == 0 {
		return 0, nil
	}

	n, err := r.body.Read(p)
	r.consumed += uint64(n)
	if r.hash != nil {
		r.hash.Write(p[:n])
	}

	switch {
	case err == io.EOF:
		r.err = r.finish()
		return n, r.err
	case err != nil:
		r.err = fmt.Errorf("reading %q: %w", r.entry.Name, err)
		return n, r.err
	}
	return n, nil
}

// finish runs the end-of-stream checks once all bytes are consumed.
func (r *entryReader) finish() error {
	if r.consumed != r.entry.UncompressedSize {
		return fmt.Errorf("%w: %q produced %d bytes, directory declared %d",
			ErrFormat, r.entry.Name, r.consumed, r.entry.UncompressedSize)
	}
	if r.hash != nil && r.hash.Sum32() != r.entry.CRC32 {
		return fmt.Errorf("%w: %q", ErrChecksum, r.entry.Name)
	}
	return io.EOF
}

func (r *entryReader) Close() error {
	var err error
	if r.inflater != nil {
		err = r.inflater.Close()
	}
	if r.closer != nil {
		if cerr := r.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

package zipfmt

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEntry struct {
	name   string
	data   []byte
	stored bool
}

func buildZip(t *testing.T, entries []testEntry, comment string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	if comment != "" {
		require.NoError(t, zw.SetComment(comment))
	}
	for _, e := range entries {
		method := zip.Deflate
		if e.stored {
			method = zip.Store
		}
		w, err := zw.CreateHeader(&zip.FileHeader{Name: e.name, Method: method})
		require.NoError(t, err)
		_, err = w.Write(e.data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func pageData(seed byte, n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = seed + byte(i%31)
	}
	return data
}

func TestParseAndStream(t *testing.T) {
	entries := []testEntry{
		{name: "001.jpg", data: pageData(1, 4096)},
		{name: "002.jpg", data: pageData(2, 100)},
		{name: "003.jpg", data: []byte("stored bytes"), stored: true},
	}
	raw := buildZip(t, entries, "")

	idx, err := ParseReader(bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)
	require.Equal(t, len(entries), idx.Len())

	for _, want := range entries {
		e, ok := idx.Lookup(want.name)
		require.True(t, ok, want.name)
		assert.Equal(t, uint64(len(want.data)), e.UncompressedSize)

		rc, err := e.Open()
		require.NoError(t, err)
		got, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		assert.Equal(t, want.data, got)

		// decompressing the same entry twice is byte-identical
		rc, err = e.Open()
		require.NoError(t, err)
		again, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		assert.Equal(t, got, again)
	}
}

func TestParseFromFile(t *testing.T) {
	raw := buildZip(t, []testEntry{{name: "a.png", data: pageData(7, 777)}}, "")
	path := filepath.Join(t.TempDir(), "ch1.cbz")
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	idx, err := Parse(path)
	require.NoError(t, err)

	e, ok := idx.Lookup("a.png")
	require.True(t, ok)

	rc, err := e.Open()
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, pageData(7, 777), got)
}

func TestParseWithComment(t *testing.T) {
	raw := buildZip(t, []testEntry{{name: "x.jpg", data: []byte("abc")}}, "written by some tool")

	idx, err := ParseReader(bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)
	assert.Equal(t, 1, idx.Len())
}

func TestParseIdempotent(t *testing.T) {
	raw := buildZip(t, []testEntry{
		{name: "001.jpg", data: pageData(3, 512)},
		{name: "002.jpg", data: pageData(4, 513)},
	}, "")

	a, err := ParseReader(bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)
	b, err := ParseReader(bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)

	require.Equal(t, a.Len(), b.Len())
	for i, ea := range a.Entries() {
		eb := b.Entries()[i]
		assert.Equal(t, ea.Name, eb.Name)
		assert.Equal(t, ea.UncompressedSize, eb.UncompressedSize)
		assert.Equal(t, ea.CompressedSize, eb.CompressedSize)
		assert.Equal(t, ea.CRC32, eb.CRC32)
		assert.Equal(t, ea.Method, eb.Method)
	}
}

func TestTruncatedArchive(t *testing.T) {
	raw := buildZip(t, []testEntry{{name: "001.jpg", data: pageData(5, 9000)}}, "")

	// cut into the central directory: entry data survives, the end record
	// does not
	truncated := raw[:len(raw)-30]
	_, err := ParseReader(bytes.NewReader(truncated), int64(len(truncated)))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestNotAnArchive(t *testing.T) {
	junk := bytes.Repeat([]byte("definitely not a zip "), 100)
	_, err := ParseReader(bytes.NewReader(junk), int64(len(junk)))
	assert.ErrorIs(t, err, ErrFormat)

	_, err = ParseReader(bytes.NewReader(nil), 0)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestDirectoriesSkipped(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	_, err := zw.Create("ch1/")
	require.NoError(t, err)
	w, err := zw.Create("ch1/001.jpg")
	require.NoError(t, err)
	_, err = w.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	idx, err := ParseReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	assert.Equal(t, 1, idx.Len())
	_, ok := idx.Lookup("ch1/001.jpg")
	assert.True(t, ok)
}

func TestChecksumVerification(t *testing.T) {
	content := []byte("the quick brown fox jumps over the lazy dog")
	raw := buildZip(t, []testEntry{{name: "p.jpg", data: content, stored: true}}, "")

	// stored entries appear verbatim; flip one data byte
	pos := bytes.Index(raw, content)
	require.Greater(t, pos, 0)
	corrupted := append([]byte(nil), raw...)
	corrupted[pos] ^= 0xff

	idx, err := ParseReader(bytes.NewReader(corrupted), int64(len(corrupted)))
	require.NoError(t, err)
	e, ok := idx.Lookup("p.jpg")
	require.True(t, ok)

	// unverified open streams the corrupt bytes without complaint
	rc, err := e.Open()
	require.NoError(t, err)
	_, err = io.ReadAll(rc)
	require.NoError(t, err)
	rc.Close()

	rc, err = e.OpenVerified()
	require.NoError(t, err)
	_, err = io.ReadAll(rc)
	assert.ErrorIs(t, err, ErrChecksum)
	rc.Close()

	// the intact archive passes the same check
	idx, err = ParseReader(bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)
	e, _ = idx.Lookup("p.jpg")
	rc, err = e.OpenVerified()
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	rc.Close()
	assert.Equal(t, content, got)
}

func TestStreamStopsAtDeclaredSize(t *testing.T) {
	raw := buildZip(t, []testEntry{
		{name: "a.jpg", data: pageData(9, 2048)},
		{name: "b.jpg", data: pageData(11, 2048)},
	}, "")

	idx, err := ParseReader(bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)

	e, _ := idx.Lookup("a.jpg")
	rc, err := e.Open()
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Len(t, got, 2048)

	// past the end there is only EOF, never the next entry's bytes
	n, err := rc.Read(make([]byte, 16))
	assert.Equal(t, 0, n)
	assert.True(t, errors.Is(err, io.EOF))
}

func TestConcurrentOpens(t *testing.T) {
	entries := []testEntry{
		{name: "001.jpg", data: pageData(21, 64*1024)},
		{name: "002.jpg", data: pageData(22, 64*1024)},
		{name: "003.jpg", data: pageData(23, 64*1024)},
	}
	raw := buildZip(t, entries, "")
	path := filepath.Join(t.TempDir(), "big.cbz")
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	idx, err := Parse(path)
	require.NoError(t, err)

	const readers = 24
	var wg sync.WaitGroup
	errs := make(chan error, readers)
	for i := 0; i < readers; i++ {
		want := entries[i%len(entries)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, ok := idx.Lookup(want.name)
			if !ok {
				errs <- errors.New("missing entry")
				return
			}
			rc, err := e.Open()
			if err != nil {
				errs <- err
				return
			}
			defer rc.Close()
			got, err := io.ReadAll(rc)
			if err != nil {
				errs <- err
				return
			}
			if !bytes.Equal(got, want.data) {
				errs <- errors.New("content mismatch")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestPartialReadThenClose(t *testing.T) {
	raw := buildZip(t, []testEntry{{name: "big.jpg", data: pageData(31, 256*1024)}}, "")
	path := filepath.Join(t.TempDir(), "part.cbz")
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	idx, err := Parse(path)
	require.NoError(t, err)
	e, _ := idx.Lookup("big.jpg")

	rc, err := e.Open()
	require.NoError(t, err)
	_, err = io.ReadFull(rc, make([]byte, 128*1024))
	require.NoError(t, err)

	// abandoning the stream halfway must release its cursor cleanly
	require.NoError(t, rc.Close())

	rc, err = e.Open()
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Len(t, got, 256*1024)
}

// Package archive caches parsed container indexes for the life of the
// process. Parsing a central directory costs a few reads and a scan, so it
// happens at most once per archive path; every page request after that is a
// map lookup.
package archive

import (
	"io"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/rihoka/tachiserve/internal/zipfmt"
)

// Cache maps archive paths to their parsed indexes. Concurrent first
// requests for the same unparsed archive share one parse; unrelated
// archives never serialize each other. A published index is immutable.
type Cache struct {
	group singleflight.Group

	// parse is swappable for tests counting invocations.
	parse func(path string) (*zipfmt.Index, error)

	mu      sync.RWMutex
	indexes map[string]*zipfmt.Index

	verify bool
}

// NewCache returns an empty cache. If verify is set, entry streams opened
// through the cache run a streaming CRC-32 check.
func NewCache(verify bool) *Cache {
	return &Cache{
		parse:   zipfmt.Parse,
		indexes: make(map[string]*zipfmt.Index),
		verify:  verify,
	}
}

// Index returns the parsed index for the archive at path, parsing it on
// first reference. Concurrent callers for the same path await the in-flight
// parse instead of duplicating it. Parse failures are not cached: a later
// call retries, so a repaired file does not need a process restart.
func (c *Cache) Index(path string) (*zipfmt.Index, error) {
	c.mu.RLock()
	idx, ok := c.indexes[path]
	c.mu.RUnlock()
	if ok {
		return idx, nil
	}

	v, err, _ := c.group.Do(path, func() (any, error) {
		// a racing caller may have published between the RUnlock and Do
		c.mu.RLock()
		idx, ok := c.indexes[path]
		c.mu.RUnlock()
		if ok {
			return idx, nil
		}

		idx, err := c.parse(path)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.indexes[path] = idx
		c.mu.Unlock()
		return idx, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*zipfmt.Index), nil
}

// Open streams one entry out of the archive at path.
func (c *Cache) Open(path, entryName string) (io.ReadCloser, error) {
	idx, err := c.Index(path)
	if err != nil {
		return nil, err
	}
	e, ok := idx.Lookup(entryName)
	if !ok {
		return nil, &EntryError{Archive: path, Entry: entryName}
	}
	if c.verify {
		return e.OpenVerified()
	}
	return e.Open()
}

// Invalidate drops every cached index. Used by reindex; in-flight streams
// keep their already-resolved entries and are unaffected.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.indexes = make(map[string]*zipfmt.Index)
	c.mu.Unlock()
}

// EntryError reports a lookup of an entry name the container does not hold.
type EntryError struct {
	Archive string
	Entry   string
}

func (e *EntryError) Error() string {
	return "archive " + e.Archive + " has no entry " + e.Entry
}

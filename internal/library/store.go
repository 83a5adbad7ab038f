package library

import (
	"sync"
	"sync/atomic"

	"github.com/rihoka/tachiserve/internal/archive"
)

// Store owns the active catalogue. Readers always see a complete catalogue,
// either the old or the new one; the swap is atomic and rebuilds are
// serialized by a single-writer lock.
type Store struct {
	root     string
	archives *archive.Cache

	rebuild sync.Mutex
	current atomic.Pointer[Catalogue]
}

// NewStore builds the initial catalogue for root and returns the store
// holding it.
func NewStore(root string, archives *archive.Cache) (*Store, error) {
	s := &Store{root: root, archives: archives}
	c, err := Build(root, archives)
	if err != nil {
		return nil, err
	}
	s.current.Store(c)
	return s, nil
}

// Catalogue returns the active catalogue. Non-blocking.
func (s *Store) Catalogue() *Catalogue {
	return s.current.Load()
}

// Reindex takes a fresh snapshot of the filesystem and swaps it in. The
// archive cache is dropped first so changed containers are re-parsed; the
// previous catalogue keeps serving until the new one is complete.
func (s *Store) Reindex() (*Catalogue, error) {
	s.rebuild.Lock()
	defer s.rebuild.Unlock()

	s.archives.Invalidate()
	c, err := Build(s.root, s.archives)
	if err != nil {
		return nil, err
	}
	s.current.Store(c)
	return c, nil
}

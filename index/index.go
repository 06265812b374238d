package index

import (
	"fmt"
	"path/filepath"
)

// Backend selects which Store implementation backs an Index.
type Backend string

const (
	// BackendJournal is the default append-only segment log.
	BackendJournal Backend = "journal"
	// BackendBolt is the opt-in single-file bbolt store.
	BackendBolt Backend = "bolt"
)

// Open opens the index rooted at idxDir, creating the journal or bolt
// store named by backend. An empty backend defaults to BackendJournal.
func Open(idxDir string, backend Backend) (*Index, error) {
	if backend == "" {
		backend = BackendJournal
	}
	switch backend {
	case BackendJournal:
		j, err := OpenJournal(idxDir)
		if err != nil {
			return nil, err
		}
		return NewWithStore(j)
	case BackendBolt:
		b, err := OpenBoltStore(filepath.Join(idxDir, "index.bolt"))
		if err != nil {
			return nil, err
		}
		return NewWithStore(b)
	default:
		return nil, fmt.Errorf("index: unknown backend %q", backend)
	}
}

// Compact folds the index's current live state into a fresh, compacted
// durable representation, pruning prior history.
func (idx *Index) Compact() error {
	if idx.store == nil {
		return nil
	}
	return idx.store.Compact(idx.snapshot())
}

// Package index maintains the sharded in-memory fingerprint -> EntryMeta
// map that backs O(1) lookups, together with the durable journal (or bbolt
// store) that lets it survive a restart.
package index

import (
	"sync"
	"sync/atomic"

	"github.com/nfscache/nfscache/entry"
)

// ShardCount is the default number of index shards.
const ShardCount = 64

type shard struct {
	mu sync.RWMutex
	m  map[entry.Fingerprint]entry.EntryMeta
}

// Index is a sharded, concurrency-safe fingerprint -> EntryMeta map with an
// optional durable backing store.
type Index struct {
	shards     [ShardCount]*shard
	totalBytes atomic.Int64
	count      atomic.Int64
	store      Store
}

// New creates an empty in-memory index with no durable backing.
func New() *Index {
	idx := &Index{}
	for i := range idx.shards {
		idx.shards[i] = &shard{m: make(map[entry.Fingerprint]entry.EntryMeta)}
	}
	return idx
}

// NewWithStore creates an index backed by store, replaying its contents.
func NewWithStore(store Store) (*Index, error) {
	idx := New()
	idx.store = store
	entries, err := store.Load()
	if err != nil {
		return nil, err
	}
	for fp, meta := range entries {
		idx.applyLocal(fp, meta)
	}
	return idx, nil
}

func (idx *Index) shardIndex(fp entry.Fingerprint) int {
	return int(fp[0]) % ShardCount
}

func (idx *Index) shard(fp entry.Fingerprint) *shard {
	return idx.shards[idx.shardIndex(fp)]
}

// Get returns the metadata for fp, if present.
func (idx *Index) Get(fp entry.Fingerprint) (entry.EntryMeta, bool) {
	s := idx.shard(fp)
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.m[fp]
	return m, ok
}

// Put inserts or replaces the metadata for fp, returning the previous value
// if any, and durably records the change if a Store is configured.
func (idx *Index) Put(fp entry.Fingerprint, meta entry.EntryMeta) (entry.EntryMeta, bool, error) {
	s := idx.shard(fp)
	s.mu.Lock()
	prev, had := s.m[fp]
	s.m[fp] = meta
	s.mu.Unlock()

	idx.adjustAccounting(prev, had, meta, true)

	if idx.store != nil {
		if err := idx.store.Append(RecordPut, fp, meta); err != nil {
			return prev, had, err
		}
	}
	return prev, had, nil
}

// PutMemoryOnly updates fp's metadata in the in-memory shard map without
// appending to the durable store. Intended for access-stat bumps
// (LastAccessAt/AccessCount) on cache hits: losing such an update across a
// crash only costs eviction-ordering precision, not correctness, so paying
// a synchronous fsync'd journal append on every read - including hot-tier
// hits - would defeat the lock-free hot-read path for no durability gain.
func (idx *Index) PutMemoryOnly(fp entry.Fingerprint, meta entry.EntryMeta) (entry.EntryMeta, bool) {
	s := idx.shard(fp)
	s.mu.Lock()
	prev, had := s.m[fp]
	s.m[fp] = meta
	s.mu.Unlock()

	idx.adjustAccounting(prev, had, meta, true)
	return prev, had
}

// Remove deletes the metadata for fp, returning the previous value if any.
func (idx *Index) Remove(fp entry.Fingerprint) (entry.EntryMeta, bool, error) {
	s := idx.shard(fp)
	s.mu.Lock()
	prev, had := s.m[fp]
	if had {
		delete(s.m, fp)
	}
	s.mu.Unlock()

	if had {
		idx.adjustAccounting(prev, true, entry.EntryMeta{}, false)
	}

	if idx.store != nil && had {
		if err := idx.store.Append(RecordDelete, fp, entry.EntryMeta{}); err != nil {
			return prev, had, err
		}
	}
	return prev, had, nil
}

// applyLocal installs meta during journal/snapshot replay without touching
// the durable store (which is the source of the data being applied).
func (idx *Index) applyLocal(fp entry.Fingerprint, meta entry.EntryMeta) {
	s := idx.shard(fp)
	s.mu.Lock()
	prev, had := s.m[fp]
	s.m[fp] = meta
	s.mu.Unlock()
	idx.adjustAccounting(prev, had, meta, true)
}

func (idx *Index) adjustAccounting(prev entry.EntryMeta, hadPrev bool, next entry.EntryMeta, hasNext bool) {
	if hadPrev {
		idx.totalBytes.Add(-prev.SizeOnDisk)
		idx.count.Add(-1)
	}
	if hasNext {
		idx.totalBytes.Add(next.SizeOnDisk)
		idx.count.Add(1)
	}
}

// Len returns the number of entries currently tracked.
func (idx *Index) Len() int { return int(idx.count.Load()) }

// TotalBytes returns the sum of SizeOnDisk across all tracked entries.
func (idx *Index) TotalBytes() int64 { return idx.totalBytes.Load() }

// ForEachShard invokes fn for every entry in shard i, stopping early if fn
// returns false. It holds the shard's read lock for the duration of the
// callback, so fn must not call back into the Index for shard i.
func (idx *Index) ForEachShard(i int, fn func(fp entry.Fingerprint, m entry.EntryMeta) bool) {
	s := idx.shards[i]
	s.mu.RLock()
	defer s.mu.RUnlock()
	for fp, m := range s.m {
		if !fn(fp, m) {
			return
		}
	}
}

// snapshot returns a point-in-time copy of the full fingerprint -> EntryMeta
// map, taking each shard's read lock in turn.
func (idx *Index) snapshot() map[entry.Fingerprint]entry.EntryMeta {
	out := make(map[entry.Fingerprint]entry.EntryMeta, idx.Len())
	for i := range idx.shards {
		idx.ForEachShard(i, func(fp entry.Fingerprint, m entry.EntryMeta) bool {
			out[fp] = m
			return true
		})
	}
	return out
}

// Close releases the backing store, if any.
func (idx *Index) Close() error {
	if idx.store != nil {
		return idx.store.Close()
	}
	return nil
}

// Package hottier implements the bounded in-memory LRU that sits in front
// of the disk tier, serving hot reads without touching disk content.
package hottier

import (
	"container/list"
	"sync"

	"github.com/nfscache/nfscache/entry"
)

// Config bounds the hot tier's footprint.
type Config struct {
	// MaxBytes caps the total size of cached values. Default 64 MiB.
	MaxBytes int64
	// MaxEntries caps the number of cached items. Zero means unbounded.
	MaxEntries int
	// ItemCap is the largest value size always admitted on write; larger
	// values are only admitted the first time they are read back from
	// the disk tier (a hit). Default 4 KiB.
	ItemCap int64
}

// DefaultConfig returns the spec's default hot-tier sizing.
func DefaultConfig() Config {
	return Config{MaxBytes: 64 << 20, MaxEntries: 0, ItemCap: 4 << 10}
}

type lruEntry struct {
	fp    entry.Fingerprint
	value []byte
	elem  *list.Element
}

// LRU is a bounded, thread-safe cache of (fingerprint, value) pairs.
// Get and every mutating operation take the write lock: a lookup also
// moves the entry to the front of the eviction order, which mutates
// shared state. Only Len and Bytes take the read lock.
type LRU struct {
	mu    sync.RWMutex
	cfg   Config
	items map[entry.Fingerprint]*lruEntry
	order *list.List
	bytes int64
}

// New creates an empty hot tier.
func New(cfg Config) *LRU {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultConfig().MaxBytes
	}
	if cfg.ItemCap <= 0 {
		cfg.ItemCap = DefaultConfig().ItemCap
	}
	return &LRU{
		cfg:   cfg,
		items: make(map[entry.Fingerprint]*lruEntry),
		order: list.New(),
	}
}

// Get returns the cached value for fp, if present, moving it to the front
// of the eviction order. The returned slice is a copy; callers may retain
// or mutate it freely.
func (l *LRU) Get(fp entry.Fingerprint) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.items[fp]
	if !ok {
		return nil, false
	}
	l.order.MoveToFront(e.elem)
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true
}

// Admit inserts fp/value unconditionally, evicting as needed to respect
// the configured caps. Use AdmitOnWrite/AdmitOnHit to apply the item-size
// admission rule instead of bypassing it.
func (l *LRU) Admit(fp entry.Fingerprint, value []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.admitLocked(fp, value)
}

// AdmitOnWrite applies the size-gated admission rule for a fresh write:
// values at or under ItemCap are always admitted; larger ones are not
// (they become eligible only via AdmitOnHit, after a disk read).
func (l *LRU) AdmitOnWrite(fp entry.Fingerprint, value []byte) {
	if int64(len(value)) > l.cfg.ItemCap {
		return
	}
	l.Admit(fp, value)
}

// AdmitOnHit admits a value that was just read back from the disk tier,
// regardless of size, since a hit is evidence the item is worth caching.
func (l *LRU) AdmitOnHit(fp entry.Fingerprint, value []byte) {
	l.Admit(fp, value)
}

func (l *LRU) admitLocked(fp entry.Fingerprint, value []byte) {
	if e, ok := l.items[fp]; ok {
		l.bytes += int64(len(value)) - int64(len(e.value))
		e.value = value
		l.order.MoveToFront(e.elem)
		l.evictLocked()
		return
	}

	e := &lruEntry{fp: fp, value: value}
	e.elem = l.order.PushFront(e)
	l.items[fp] = e
	l.bytes += int64(len(value))
	l.evictLocked()
}

// Remove evicts fp from the hot tier, if present.
func (l *LRU) Remove(fp entry.Fingerprint) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.items[fp]; ok {
		l.removeEntryLocked(e)
	}
}

// Clear empties the hot tier.
func (l *LRU) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = make(map[entry.Fingerprint]*lruEntry)
	l.order = list.New()
	l.bytes = 0
}

// Len returns the number of items currently held.
func (l *LRU) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// Bytes returns the total size of values currently held.
func (l *LRU) Bytes() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.bytes
}

func (l *LRU) evictLocked() {
	for l.bytes > l.cfg.MaxBytes || (l.cfg.MaxEntries > 0 && len(l.items) > l.cfg.MaxEntries) {
		back := l.order.Back()
		if back == nil {
			return
		}
		l.removeEntryLocked(back.Value.(*lruEntry))
	}
}

func (l *LRU) removeEntryLocked(e *lruEntry) {
	l.order.Remove(e.elem)
	delete(l.items, e.fp)
	l.bytes -= int64(len(e.value))
}

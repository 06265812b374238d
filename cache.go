package nfscache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nfscache/nfscache/codec"
	"github.com/nfscache/nfscache/disktier"
	"github.com/nfscache/nfscache/eviction"
	"github.com/nfscache/nfscache/hottier"
	"github.com/nfscache/nfscache/index"
	"github.com/nfscache/nfscache/recovery"
	"github.com/nfscache/nfscache/telemetry"
)

// Cache is an embeddable, persistent, thread-safe key-value cache rooted
// at a directory. Safe for concurrent use from multiple goroutines.
type Cache struct {
	cfg    Config
	dir    string
	idx    *index.Index
	hot    *hottier.LRU
	tier   *disktier.Tier
	engine *eviction.Engine
	vacuum *recovery.Vacuum
	stats  *statCounters
	intent *intentTable

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// Open opens (creating if absent) a cache rooted at cfg.Directory,
// replaying its durable state and starting the background eviction and
// vacuum workers.
func Open(cfg Config) (*Cache, error) {
	cfg = cfg.withDefaults()
	if cfg.Directory == "" {
		return nil, fmt.Errorf("%w: Directory is required", ErrConfig)
	}

	dataDir := filepath.Join(cfg.Directory, "data")
	idxDir := filepath.Join(cfg.Directory, "idx")
	for _, d := range []string{cfg.Directory, dataDir, idxDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("%w: mkdir %s: %v", ErrConfig, d, err)
		}
	}

	if err := loadOrCreateMeta(cfg.Directory, cfg); err != nil {
		return nil, err
	}

	idx, err := index.Open(idxDir, cfg.IndexBackend)
	if err != nil {
		return nil, fmt.Errorf("nfscache: open index: %w", err)
	}

	tier := disktier.New(dataDir, cfg.MmapThreshold)
	tier.SetFsyncOnWrite(!cfg.DisableFsync)

	hot := hottier.New(hottier.Config{
		MaxBytes:   cfg.HotMaxBytes,
		MaxEntries: cfg.HotMaxEntries,
		ItemCap:    cfg.HotItemCap,
	})

	ctx, cancel := context.WithCancel(context.Background())

	c := &Cache{
		cfg:    cfg,
		dir:    cfg.Directory,
		idx:    idx,
		hot:    hot,
		tier:   tier,
		stats:  newStatCounters(),
		intent: newIntentTable(),
		ctx:    ctx,
		cancel: cancel,
	}

	deps := recovery.Deps{
		Tier:    tier,
		Idx:     idx,
		DataDir: dataDir,
		IdxDir:  idxDir,
		Verify:  c.verifyOrphan,
		Logger:  cfg.Logger,
	}
	if _, err := recovery.Reconcile(deps); err != nil {
		cancel()
		_ = idx.Close()
		return nil, fmt.Errorf("nfscache: startup reconcile: %w", err)
	}
	if err := idx.Compact(); err != nil {
		cancel()
		_ = idx.Close()
		return nil, fmt.Errorf("nfscache: startup snapshot: %w", err)
	}

	c.engine = eviction.New(eviction.Config{
		Policy:       cfg.EvictionPolicy,
		MaxSizeBytes: cfg.MaxSize,
		MaxEntries:   cfg.MaxEntries,
		Logger:       cfg.Logger,
	}, idx, c.removeEntry)
	c.engine.Start(ctx)

	c.vacuum = recovery.NewVacuum(deps, c.removeEntry, cfg.VacuumInterval)
	c.vacuum.Start(ctx)

	return c, nil
}

// Close stops background workers and releases the durable index store.
// Safe to call more than once.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.vacuum.Stop(context.Background())
	c.engine.Stop()
	c.cancel()
	return c.idx.Close()
}

func (c *Cache) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

// SetOption configures an individual Set call.
type SetOption func(*setOptions)

type setOptions struct {
	ttl time.Duration
}

// WithTTL sets the entry's time-to-live, relative to the time Set is
// called. Omitting it (or passing zero) means the entry never expires.
func WithTTL(d time.Duration) SetOption {
	return func(o *setOptions) { o.ttl = d }
}

// Set stores value under key, replacing any prior value. The write is
// durable (fsynced, barring DisableFsync) before Set returns.
func (c *Cache) Set(key, value []byte, opts ...SetOption) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if c.cfg.MaxValueSize > 0 && int64(len(value)) > c.cfg.MaxValueSize {
		return ErrTooLarge
	}

	var so setOptions
	for _, opt := range opts {
		opt(&so)
	}

	fp := FingerprintKey(key)
	release := c.intent.acquire(fp)
	defer release()

	now := time.Now()
	var expiresAt time.Time
	if so.ttl > 0 {
		expiresAt = now.Add(so.ttl)
	}

	stored, err := codec.Compress(codec.Kind(c.cfg.Compression), value)
	if err != nil {
		return fmt.Errorf("nfscache: compress: %w", err)
	}

	flags := NewCodecFlags(c.cfg.Compression)
	contentHash := ComputeContentHash(key, value)

	header := codec.Header{
		Flags:           uint16(flags),
		CreatedAtNanos:  timeToNanos(now),
		ExpiresAtNanos:  timeToNanos(expiresAt),
		ValueLenLogical: uint32(len(value)),
		ContentHash:     [codec.ContentHashSize]byte(contentHash),
	}
	frame, err := codec.Encode(header, key, stored, c.cfg.MaxValueSize)
	if err != nil {
		return fmt.Errorf("nfscache: encode: %w", err)
	}

	size, err := c.tier.Write(fp, frame)
	if err != nil {
		return err
	}

	meta := EntryMeta{
		Fingerprint:    fp,
		SizeOnDisk:     size,
		ExpiresAt:      expiresAt,
		LastAccessAt:   now,
		AccessCount:    0,
		FilePathSuffix: c.tier.Suffix(fp),
		Flags:          flags,
	}
	if _, _, err := c.idx.Put(fp, meta); err != nil {
		return fmt.Errorf("nfscache: index put: %w", err)
	}

	// Drop any previous hot copy first: a value too large for AdmitOnWrite
	// would otherwise leave the old value to be served by Get.
	c.hot.Remove(fp)
	c.hot.AdmitOnWrite(fp, value)
	c.engine.Trigger()
	telemetry.RecordSet(context.Background())
	c.publishGauges()
	return nil
}

// Get returns the current value for key, and whether it was present and
// unexpired. A hit updates the entry's access stats and may promote it
// into the hot tier.
func (c *Cache) Get(key []byte) ([]byte, bool) {
	if err := c.checkOpen(); err != nil {
		return nil, false
	}
	fp := FingerprintKey(key)

	for attempt := 0; attempt < 2; attempt++ {
		meta, ok := c.idx.Get(fp)
		if !ok {
			c.stats.recordMiss()
			telemetry.RecordMiss(context.Background())
			return nil, false
		}
		if meta.Expired(time.Now()) {
			_ = c.removeEntry(fp, meta)
			c.stats.recordMiss()
			c.stats.recordExpired(1)
			telemetry.RecordMiss(context.Background())
			telemetry.RecordExpired(context.Background(), 1)
			return nil, false
		}

		if value, ok := c.hot.Get(fp); ok {
			c.touchAccess(fp, meta)
			c.stats.recordHit(true)
			telemetry.RecordHit(context.Background(), true)
			return value, true
		}

		value, fresh, retry, err := c.readThrough(fp, key, meta)
		switch {
		case retry:
			continue // index mutated concurrently; re-dispatch once
		case err != nil:
			c.stats.recordMiss()
			telemetry.RecordMiss(context.Background())
			return nil, false
		}
		c.touchAccess(fp, fresh)
		c.hot.AdmitOnHit(fp, value)
		c.stats.recordHit(false)
		telemetry.RecordHit(context.Background(), false)
		return value, true
	}
	c.stats.recordMiss()
	telemetry.RecordMiss(context.Background())
	return nil, false
}

// readThrough reads and codec-verifies fp's entry file. retry is set when
// the index entry changed out from under the read (the optimistic race
// the spec calls for), signaling the caller should re-dispatch Get once.
func (c *Cache) readThrough(fp Fingerprint, key []byte, meta EntryMeta) (value []byte, fresh EntryMeta, retry bool, err error) {
	data, err := c.tier.Read(fp)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			_, _, _ = c.idx.Remove(fp)
		}
		return nil, EntryMeta{}, false, err
	}

	header, frameKey, stored, err := codec.Decode(data)
	if err != nil {
		c.quarantine(fp)
		c.stats.recordCorruptRead()
		telemetry.RecordCorruptRead(context.Background())
		return nil, EntryMeta{}, false, ErrCorruptEntry
	}
	logical, err := codec.Decompress(codec.Kind(CodecFlags(header.Flags).Compression()), stored, int(header.ValueLenLogical))
	if err != nil {
		c.quarantine(fp)
		c.stats.recordCorruptRead()
		telemetry.RecordCorruptRead(context.Background())
		return nil, EntryMeta{}, false, ErrCorruptEntry
	}
	if string(frameKey) != string(key) || ComputeContentHash(frameKey, logical) != ContentHash(header.ContentHash) {
		c.quarantine(fp)
		c.stats.recordCorruptRead()
		telemetry.RecordCorruptRead(context.Background())
		return nil, EntryMeta{}, false, ErrCorruptEntry
	}

	// Confirm the metadata we read before the disk I/O is still the
	// entry that's actually on disk; if not, a concurrent set/delete
	// raced us and the caller should retry once rather than return
	// bytes that may already be stale.
	current, stillPresent := c.idx.Get(fp)
	if !stillPresent || current.SizeOnDisk != meta.SizeOnDisk {
		return nil, EntryMeta{}, true, nil
	}

	return logical, current, false, nil
}

func (c *Cache) quarantine(fp Fingerprint) {
	if meta, ok := c.idx.Get(fp); ok {
		_ = c.removeEntry(fp, meta)
	}
}

func (c *Cache) touchAccess(fp Fingerprint, meta EntryMeta) {
	meta.LastAccessAt = time.Now()
	meta.AccessCount++
	c.idx.PutMemoryOnly(fp, meta)
}

// Exists reports whether key has a live, unexpired entry, without
// updating access stats.
func (c *Cache) Exists(key []byte) bool {
	if err := c.checkOpen(); err != nil {
		return false
	}
	fp := FingerprintKey(key)
	meta, ok := c.idx.Get(fp)
	if !ok {
		return false
	}
	return !meta.Expired(time.Now())
}

// Delete removes key's entry, if any. Idempotent: deleting an absent key
// is not an error.
func (c *Cache) Delete(key []byte) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	fp := FingerprintKey(key)
	release := c.intent.acquire(fp)
	defer release()

	_, had, err := c.idx.Remove(fp)
	if err != nil {
		return fmt.Errorf("nfscache: index remove: %w", err)
	}
	if !had {
		return nil
	}
	c.hot.Remove(fp)
	if _, err := c.tier.Remove(fp); err != nil {
		c.cfg.Logger.Warn("nfscache: delete: disk unlink failed", "fingerprint", fp, "error", err)
	}
	telemetry.RecordDelete(context.Background())
	c.publishGauges()
	return nil
}

// Clear empties the cache: every entry is removed from the index, the
// hot tier, and the disk tier.
func (c *Cache) Clear() error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	for i := 0; i < index.ShardCount; i++ {
		var victims []Fingerprint
		c.idx.ForEachShard(i, func(fp Fingerprint, _ EntryMeta) bool {
			victims = append(victims, fp)
			return true
		})
		for _, fp := range victims {
			if _, _, err := c.idx.Remove(fp); err != nil {
				c.cfg.Logger.Warn("nfscache: clear: index remove failed", "fingerprint", fp, "error", err)
				continue
			}
			if _, err := c.tier.Remove(fp); err != nil {
				c.cfg.Logger.Warn("nfscache: clear: disk unlink failed", "fingerprint", fp, "error", err)
			}
		}
	}
	c.hot.Clear()
	c.publishGauges()
	return nil
}

// publishGauges republishes the index/hot-tier size gauges. Called after
// every committed mutation, since both reads are already O(1).
func (c *Cache) publishGauges() {
	telemetry.SetGauges(context.Background(), c.idx.TotalBytes(), int64(c.idx.Len()), c.hot.Bytes())
}

// Stats returns a snapshot of the cache's counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:         c.stats.hits.Load(),
		Misses:       c.stats.misses.Load(),
		Evictions:    c.stats.evictions.Load(),
		Expired:      c.stats.expired.Load(),
		CorruptReads: c.stats.corruptReads.Load(),
		TotalBytes:   c.idx.TotalBytes(),
		EntryCount:   int64(c.idx.Len()),
		HotHits:      c.stats.hotHits.Load(),
		HotBytes:     c.hot.Bytes(),
		UptimeNanos:  time.Since(c.stats.startedAt).Nanoseconds(),
	}
}

// removeEntry evicts fp from every tier, in the order the write-intent
// discipline expects: index first (so no new reader can find it), then
// hot tier, then disk. Shared by Get's expiry/corruption paths, the
// eviction engine, and the vacuum sweep.
func (c *Cache) removeEntry(fp Fingerprint, _ EntryMeta) error {
	_, had, err := c.idx.Remove(fp)
	if err != nil {
		return err
	}
	c.hot.Remove(fp)
	if had {
		c.stats.recordEvictions(1)
		telemetry.RecordEviction(context.Background(), 1)
	}
	if _, err := c.tier.Remove(fp); err != nil {
		return err
	}
	c.publishGauges()
	return nil
}

// verifyOrphan re-reads and codec-verifies a file recovery found on disk
// with no matching index entry, reconstructing fresh EntryMeta for it.
func (c *Cache) verifyOrphan(fp Fingerprint, size int64, _ time.Time) (EntryMeta, bool) {
	data, err := c.tier.Read(fp)
	if err != nil {
		return EntryMeta{}, false
	}
	header, key, stored, err := codec.Decode(data)
	if err != nil {
		return EntryMeta{}, false
	}
	logical, err := codec.Decompress(codec.Kind(CodecFlags(header.Flags).Compression()), stored, int(header.ValueLenLogical))
	if err != nil {
		return EntryMeta{}, false
	}
	if ComputeContentHash(key, logical) != ContentHash(header.ContentHash) {
		return EntryMeta{}, false
	}
	return EntryMeta{
		Fingerprint:    fp,
		SizeOnDisk:     size,
		ExpiresAt:      nanosToTime(header.ExpiresAtNanos),
		LastAccessAt:   time.Now(),
		AccessCount:    0,
		FilePathSuffix: c.tier.Suffix(fp),
		Flags:          CodecFlags(header.Flags),
	}, true
}

func timeToNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func nanosToTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// intentTable serializes concurrent writers on the same fingerprint with
// a small sharded map of (sync.Mutex, sync.Cond), the way the spec calls
// for condition-variable waiting rather than a lock-per-key map that
// would grow unboundedly.
const intentBuckets = 256

type intentTable struct {
	buckets [intentBuckets]*intentBucket
}

type intentBucket struct {
	mu     sync.Mutex
	cond   *sync.Cond
	active map[Fingerprint]struct{}
}

func newIntentTable() *intentTable {
	t := &intentTable{}
	for i := range t.buckets {
		b := &intentBucket{active: make(map[Fingerprint]struct{})}
		b.cond = sync.NewCond(&b.mu)
		t.buckets[i] = b
	}
	return t
}

// acquire blocks until fp has no other in-flight writer, then marks it
// busy and returns a release function.
func (t *intentTable) acquire(fp Fingerprint) func() {
	b := t.buckets[fp[0]]
	b.mu.Lock()
	for {
		if _, busy := b.active[fp]; !busy {
			break
		}
		b.cond.Wait()
	}
	b.active[fp] = struct{}{}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.active, fp)
		b.cond.Broadcast()
		b.mu.Unlock()
	}
}

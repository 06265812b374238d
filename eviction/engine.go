// Package eviction trims the cache back under its configured size/entry
// limits using a two-pass algorithm: an expiry pass followed by a bounded
// random-sample "k-worst" pass, so eviction cost stays O(sample*shards)
// regardless of how large the cache has grown.
package eviction

import (
	"context"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/nfscache/nfscache/entry"
	"github.com/nfscache/nfscache/index"
)

// Policy selects the victim-ordering used once the expiry pass alone isn't
// enough to bring the cache back under its limits.
type Policy string

const (
	PolicyLRU    Policy = "lru"
	PolicyLFU    Policy = "lfu"
	PolicyTTL    Policy = "ttl"
	PolicyLRUTTL Policy = "lru_ttl"
	PolicyLFUTTL Policy = "lfu_ttl"
)

// DefaultPolicy matches the spec's default.
const DefaultPolicy = PolicyLRUTTL

// Config configures the eviction engine.
type Config struct {
	Policy       Policy
	MaxSizeBytes int64 // 0 = unbounded
	MaxEntries   int   // 0 = unbounded
	Workers      int   // background worker count, default 2
	Logger       *slog.Logger
}

// Remove is the callback the engine uses to actually evict a fingerprint:
// remove it from the index, the hot tier, and the disk tier, in that
// order. Supplied by the cache controller, which is the only component
// that holds references to all three tiers.
type Remove func(fp entry.Fingerprint, meta entry.EntryMeta) error

// Engine runs trim passes on a small background worker pool, triggered
// after each committed write (matching the reference corpus's
// channel-trigger-plus-ticker manager shape).
type Engine struct {
	cfg    Config
	idx    *index.Index
	remove Remove
	now    func() time.Time

	triggerCh chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}
	wg        sync.WaitGroup
}

// New creates a trim engine over idx, calling remove for every evicted
// fingerprint.
func New(cfg Config, idx *index.Index, remove Remove) *Engine {
	if cfg.Policy == "" {
		cfg.Policy = DefaultPolicy
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		cfg:       cfg,
		idx:       idx,
		remove:    remove,
		now:       time.Now,
		triggerCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start launches the background worker pool.
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(e.cfg.Workers)
	for i := 0; i < e.cfg.Workers; i++ {
		go e.run(ctx)
	}
	go func() {
		e.wg.Wait()
		close(e.doneCh)
	}()
}

// Stop signals the worker pool to exit and waits for it to drain.
func (e *Engine) Stop() {
	close(e.stopCh)
	<-e.doneCh
}

// Trigger schedules a trim pass; it is non-blocking and coalesces with any
// already-pending trigger.
func (e *Engine) Trigger() {
	select {
	case e.triggerCh <- struct{}{}:
	default:
	}
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-e.triggerCh:
			e.RunOnce()
		case <-ticker.C:
			e.RunOnce()
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce performs one full trim pass: expire, then (if still over
// budget) sample-and-evict the k worst entries by the configured policy.
// It is safe to call directly (e.g. synchronously in tests) without
// Start/Stop.
func (e *Engine) RunOnce() {
	now := e.now()
	e.expirePass(now)

	if !e.overBudget() {
		return
	}

	// Pool every shard's sample before ranking, so the worst entries are
	// chosen globally by policy key rather than shard-by-shard; a just-
	// touched entry in one shard must not be evicted ahead of a stale one
	// sitting in another.
	rng := rand.New(rand.NewSource(now.UnixNano()))
	var pool []candidate
	for i := 0; i < index.ShardCount; i++ {
		pool = append(pool, sampleShard(e.idx, i, rng)...)
	}
	sort.Slice(pool, func(a, b int) bool {
		return e.less(pool[a], pool[b])
	})
	for _, v := range pool {
		if !e.overBudget() {
			break
		}
		if err := e.remove(v.fp, v.meta); err != nil {
			e.cfg.Logger.Warn("eviction: remove failed", "fingerprint", v.fp, "error", err)
		}
	}
}

func (e *Engine) expirePass(now time.Time) {
	for i := 0; i < index.ShardCount; i++ {
		var expired []candidate
		e.idx.ForEachShard(i, func(fp entry.Fingerprint, m entry.EntryMeta) bool {
			if m.Expired(now) {
				expired = append(expired, candidate{fp: fp, meta: m})
			}
			return true
		})
		for _, c := range expired {
			if err := e.remove(c.fp, c.meta); err != nil {
				e.cfg.Logger.Warn("eviction: expire failed", "fingerprint", c.fp, "error", err)
			}
		}
	}
}

func (e *Engine) overBudget() bool {
	if e.cfg.MaxSizeBytes > 0 && e.idx.TotalBytes() > e.cfg.MaxSizeBytes {
		return true
	}
	if e.cfg.MaxEntries > 0 && e.idx.Len() > e.cfg.MaxEntries {
		return true
	}
	return false
}

// less reports whether a is a worse (more evictable) entry than b under
// the configured policy: true means a should be evicted first.
func (e *Engine) less(a, b candidate) bool {
	switch e.cfg.Policy {
	case PolicyLFU, PolicyLFUTTL:
		if a.meta.AccessCount != b.meta.AccessCount {
			return a.meta.AccessCount < b.meta.AccessCount
		}
		return a.meta.LastAccessAt.Before(b.meta.LastAccessAt)
	case PolicyTTL:
		aHas, bHas := a.meta.HasExpiry(), b.meta.HasExpiry()
		if aHas != bHas {
			return aHas // entries with an expiry go before ones that never expire
		}
		if aHas && bHas {
			return a.meta.ExpiresAt.Before(b.meta.ExpiresAt)
		}
		return a.meta.LastAccessAt.Before(b.meta.LastAccessAt)
	default: // PolicyLRU, PolicyLRUTTL
		return a.meta.LastAccessAt.Before(b.meta.LastAccessAt)
	}
}

package recovery

import (
	"context"
	"sync"
	"time"

	"github.com/nfscache/nfscache/entry"
	"github.com/nfscache/nfscache/index"
	"github.com/nfscache/nfscache/telemetry"
)

// DefaultVacuumInterval matches the spec's default.
const DefaultVacuumInterval = 3600 * time.Second

// Remove evicts one fingerprint from every tier; supplied by the cache
// controller.
type Remove func(fp entry.Fingerprint, meta entry.EntryMeta) error

// Vacuum runs the background expiry-sweep and orphan-reconciliation phases
// on a `Start(ctx)`/`Stop(ctx)` goroutine, the same stopCh/doneCh shape the
// reference corpus's GC manager uses.
type Vacuum struct {
	deps     Deps
	remove   Remove
	interval time.Duration

	mu      sync.Mutex
	running bool
	lastRun *Result
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewVacuum creates a background vacuum over deps, calling remove for
// every expired entry found during the expiry-sweep phase.
func NewVacuum(deps Deps, remove Remove, interval time.Duration) *Vacuum {
	if interval <= 0 {
		interval = DefaultVacuumInterval
	}
	return &Vacuum{deps: deps.withDefaults(), remove: remove, interval: interval}
}

// Start launches the background goroutine if not already running.
func (v *Vacuum) Start(ctx context.Context) {
	v.mu.Lock()
	if v.running {
		v.mu.Unlock()
		return
	}
	v.running = true
	v.stopCh = make(chan struct{})
	v.doneCh = make(chan struct{})
	v.mu.Unlock()

	go v.run(ctx)
}

// Stop signals the goroutine to exit and waits for it, or for ctx to be done.
func (v *Vacuum) Stop(ctx context.Context) error {
	v.mu.Lock()
	if !v.running {
		v.mu.Unlock()
		return nil
	}
	v.mu.Unlock()

	close(v.stopCh)
	select {
	case <-v.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow performs one sweep immediately and records it as the last run.
func (v *Vacuum) RunNow() Result {
	res := v.sweep()
	v.mu.Lock()
	v.lastRun = &res
	v.mu.Unlock()
	return res
}

// Status returns the most recent sweep's result, or nil if none has run yet.
func (v *Vacuum) Status() *Result {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastRun
}

func (v *Vacuum) run(ctx context.Context) {
	defer func() {
		v.mu.Lock()
		v.running = false
		v.mu.Unlock()
		close(v.doneCh)
	}()

	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			v.RunNow()
		case <-v.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (v *Vacuum) sweep() Result {
	res := Result{StartedAt: time.Now()}

	type victim struct {
		fp   entry.Fingerprint
		meta entry.EntryMeta
	}

	now := time.Now()
	for i := 0; i < index.ShardCount; i++ {
		var expired []victim
		v.deps.Idx.ForEachShard(i, func(fp entry.Fingerprint, m entry.EntryMeta) bool {
			if m.Expired(now) {
				expired = append(expired, victim{fp, m})
			}
			return true
		})
		for _, e := range expired {
			if err := v.remove(e.fp, e.meta); err != nil {
				res.Errors = append(res.Errors, err.Error())
				continue
			}
			res.ExpiredRemoved++
		}
		// Yield between shards so a large sweep doesn't monopolize a CPU
		// and delay foreground operations waiting on the same locks.
		time.Sleep(0)
	}

	telemetry.RecordExpired(context.Background(), res.ExpiredRemoved)

	orphanRes, err := Reconcile(v.deps)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
	} else {
		res.OrphansRemoved = orphanRes.OrphansRemoved
		res.TmpRemoved = orphanRes.TmpRemoved
	}

	res.Duration = time.Since(res.StartedAt)
	telemetry.RecordVacuumRun(context.Background(), res.Duration)
	return res
}

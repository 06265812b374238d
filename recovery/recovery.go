// Package recovery reconciles the in-memory index against what is
// actually durable on disk at startup, and runs a periodic background
// vacuum that keeps the two in sync afterward.
package recovery

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nfscache/nfscache/disktier"
	"github.com/nfscache/nfscache/entry"
	"github.com/nfscache/nfscache/index"
)

// VerifyFunc re-reads and validates the entry file for fp from disk,
// returning fresh EntryMeta on success. It is supplied by the cache
// controller, which owns the codec (decode + content-hash) logic.
type VerifyFunc func(fp entry.Fingerprint, size int64, modTime time.Time) (entry.EntryMeta, bool)

// Deps are the components Reconcile and Vacuum operate over.
type Deps struct {
	Tier *disktier.Tier
	Idx  *index.Index
	// DataDir and IdxDir are the two directories writers ever create
	// same-directory "<base>.tmp-<rand>" temp files in (disktier.Tier's
	// entry writes and index.Journal's snapshot writes, respectively).
	// There is no separate tmp/ staging directory to sweep: a crash-
	// orphaned temp file is always left next to the path it was about
	// to replace.
	DataDir     string
	IdxDir      string
	StaleTmpAge time.Duration // default 10s
	Verify      VerifyFunc
	Logger      *slog.Logger
}

func (d *Deps) withDefaults() Deps {
	out := *d
	if out.StaleTmpAge <= 0 {
		out.StaleTmpAge = 10 * time.Second
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}

// Result summarizes one reconciliation or vacuum pass.
type Result struct {
	StartedAt      time.Time
	Duration       time.Duration
	Accepted       int
	Dropped        int
	ExpiredRemoved int
	OrphansRemoved int
	TmpRemoved     int
	Errors         []string
}

// Reconcile runs the startup reconciliation described in the spec: for
// every entry the journal replay put into the index, confirm the backing
// file still exists and still matches (size, and optionally content hash
// via Verify); for every file found on disk that the index doesn't know
// about, accept it if Verify confirms it, otherwise delete it as an
// orphan. Finally it sweeps DataDir and IdxDir for crash-orphaned
// "*.tmp-*" files older than StaleTmpAge.
func Reconcile(deps Deps) (Result, error) {
	deps = deps.withDefaults()
	res := Result{StartedAt: time.Now()}

	onDisk := make(map[entry.Fingerprint]disktier.ScannedEntry)
	err := deps.Tier.Scan(func(e disktier.ScannedEntry) error {
		onDisk[e.Fingerprint] = e
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("recovery: scan data dir: %w", err)
	}

	for i := 0; i < index.ShardCount; i++ {
		var stale []entry.Fingerprint
		deps.Idx.ForEachShard(i, func(fp entry.Fingerprint, m entry.EntryMeta) bool {
			scanned, ok := onDisk[fp]
			if !ok || scanned.Size != m.SizeOnDisk {
				stale = append(stale, fp)
				return true
			}
			delete(onDisk, fp) // remaining keys become the orphan set
			return true
		})
		for _, fp := range stale {
			if _, _, err := deps.Idx.Remove(fp); err != nil {
				res.Errors = append(res.Errors, err.Error())
				continue
			}
			res.Dropped++
		}
	}

	for fp, scanned := range onDisk {
		meta, ok := deps.Verify(fp, scanned.Size, scanned.ModTime)
		if !ok {
			if _, err := deps.Tier.Remove(fp); err != nil {
				res.Errors = append(res.Errors, err.Error())
				continue
			}
			res.OrphansRemoved++
			continue
		}
		if _, _, err := deps.Idx.Put(fp, meta); err != nil {
			res.Errors = append(res.Errors, err.Error())
			continue
		}
		res.Accepted++
	}

	removed, err := cleanStaleTmp([]string{deps.DataDir, deps.IdxDir}, deps.StaleTmpAge)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
	}
	res.TmpRemoved = removed

	res.Duration = time.Since(res.StartedAt)
	return res, nil
}

// tmpNameMarker is the substring every same-directory temp file created by
// diskio.createTempFile carries in its name ("<base>.tmp-<rand>"), whatever
// directory it happens to land in.
const tmpNameMarker = ".tmp-"

// cleanStaleTmp walks each of dirs looking for crash-orphaned temp files
// (ones whose writer died between create and rename) and removes any
// older than maxAge. A temp file younger than maxAge is left alone since
// it may belong to a write still in flight.
func cleanStaleTmp(dirs []string, maxAge time.Duration) (int, error) {
	removed := 0
	cutoff := time.Now().Add(-maxAge)
	var errs []string
	for _, dir := range dirs {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			if d.IsDir() || !strings.Contains(d.Name(), tmpNameMarker) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			if info.ModTime().Before(cutoff) {
				if err := os.Remove(path); err == nil {
					removed++
				}
			}
			return nil
		})
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return removed, fmt.Errorf("recovery: clean stale tmp: %s", strings.Join(errs, "; "))
	}
	return removed, nil
}

// Package disktier owns the on-disk data/ directory: the 2-level hex
// fan-out layout, atomic entry writes, and the startup scan used by
// recovery.
package disktier

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nfscache/nfscache/diskio"
	"github.com/nfscache/nfscache/entry"
)

// Tier owns reads, writes and removal of entry frame files under
// root/data/<xx>/<yy>/<fingerprint>.bin.
type Tier struct {
	dataDir       string
	mmapThreshold int64
	retry         diskio.RetryConfig
	fsyncOnWrite  bool
}

// New creates a disk tier rooted at dataDir (which must already exist or
// be creatable). mmapThreshold is the file size at or above which reads use
// mmap instead of a buffered read; pass 0 to use the 64 KiB default.
func New(dataDir string, mmapThreshold int64) *Tier {
	if mmapThreshold <= 0 {
		mmapThreshold = 64 << 10 // 64 KiB
	}
	return &Tier{dataDir: dataDir, mmapThreshold: mmapThreshold, retry: diskio.DefaultRetry(), fsyncOnWrite: true}
}

// SetFsyncOnWrite controls whether entry writes fsync the file and parent
// directory. Disabling it trades crash durability for throughput; a torn
// write is still never observable since publication is still a rename.
func (t *Tier) SetFsyncOnWrite(v bool) { t.fsyncOnWrite = v }

func (t *Tier) pathFor(fp entry.Fingerprint) string {
	return filepath.Join(t.dataDir, fp.ShardDir1(), fp.ShardDir2(), fp.String()+".bin")
}

// Suffix returns the path of fp's entry file relative to dataDir, the
// value stored as EntryMeta.FilePathSuffix.
func (t *Tier) Suffix(fp entry.Fingerprint) string {
	return filepath.Join(fp.ShardDir1(), fp.ShardDir2(), fp.String()+".bin")
}

// Write atomically stores frame at fp's entry path, creating fan-out
// directories as needed, and returns the number of bytes written.
func (t *Tier) Write(fp entry.Fingerprint, frame []byte) (int64, error) {
	path := t.pathFor(fp)
	var err error
	retryErr := diskio.WithRetry(context.Background(), t.retry, func() error {
		err = diskio.WriteAtomicSync(path, frame, t.fsyncOnWrite)
		return err
	})
	if retryErr != nil {
		return 0, entry.NewIoError("disktier-write", path, retryErr)
	}
	return int64(len(frame)), nil
}

// Read returns the full frame bytes stored at fp, or ErrNotFound if the
// entry file does not exist. Large files are read via mmap.
func (t *Tier) Read(fp entry.Fingerprint) ([]byte, error) {
	path := t.pathFor(fp)
	data, closer, err := diskio.ReadAuto(path, t.mmapThreshold)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, entry.ErrNotFound
		}
		return nil, entry.NewIoError("disktier-read", path, err)
	}
	out := make([]byte, len(data))
	copy(out, data)
	_ = closer.Close()
	return out, nil
}

// Remove deletes fp's entry file, reporting whether it existed.
func (t *Tier) Remove(fp entry.Fingerprint) (bool, error) {
	path := t.pathFor(fp)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, entry.NewIoError("disktier-stat", path, err)
	}
	if err := diskio.Remove(path); err != nil {
		return false, entry.NewIoError("disktier-remove", path, err)
	}
	return true, nil
}

// ScannedEntry describes one entry file found by Scan.
type ScannedEntry struct {
	Fingerprint entry.Fingerprint
	Size        int64
	ModTime     time.Time
}

// Scan walks the full data/ directory tree, yielding every entry file's
// fingerprint (parsed back from its filename), size and mtime. Used by
// recovery to reconcile the index against what is actually on disk.
func (t *Tier) Scan(yield func(ScannedEntry) error) error {
	return filepath.WalkDir(t.dataDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		const suffix = ".bin"
		if len(name) != entry.FingerprintSize*2+len(suffix) {
			return nil
		}
		hexPart := name[:len(name)-len(suffix)]
		fp, err := entry.ParseFingerprint(hexPart)
		if err != nil {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("disktier: stat %s: %w", path, err)
		}
		return yield(ScannedEntry{Fingerprint: fp, Size: info.Size(), ModTime: info.ModTime()})
	})
}

// Package diskio implements crash-safe file access for directories that may
// live on network filesystems: same-directory temp-then-rename writes with
// directory fsync, bounded retry of transient errors, and memory-mapped
// reads for large files.
package diskio

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
)

// WriteAtomic writes data to path atomically: it creates a temp file in the
// same directory, writes the bytes in one sequential pass, fsyncs the file,
// renames it onto path, then best-effort fsyncs the parent directory. On any
// failure the temp file is unlinked; no partial path is ever observable.
func WriteAtomic(path string, data []byte) error {
	return WriteAtomicSync(path, data, true)
}

// WriteAtomicSync is WriteAtomic with the file and directory fsync calls
// made optional, for FsyncOnWrite=false configurations that trade crash
// safety for throughput. Rename is still used, so a torn write is never
// observable; only durability across a power loss is affected.
func WriteAtomicSync(path string, data []byte, fsync bool) error {
	dir := filepath.Dir(path)

	tmpPath, f, err := createTempFile(dir, filepath.Base(path))
	if err != nil {
		return fmt.Errorf("diskio: create temp file: %w", err)
	}

	ok := false
	defer func() {
		if !ok {
			_ = f.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("diskio: write temp file %s: %w", tmpPath, err)
	}
	if fsync {
		if err := f.Sync(); err != nil {
			return fmt.Errorf("diskio: sync temp file %s: %w", tmpPath, err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("diskio: close temp file %s: %w", tmpPath, err)
	}
	// f is closed; prevent the deferred cleanup from double-closing it.
	ok = true

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("diskio: rename %s to %s: %w", tmpPath, path, err)
	}

	if !fsync {
		return nil
	}
	// The file is durably in place; a failed directory fsync only means
	// the rename itself might not survive a concurrent power loss on some
	// filesystems, so it is tolerated and the write reports success.
	_ = fsyncDir(dir)
	return nil
}

// ReadAll reads the entire contents of path.
func ReadAll(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}

// Remove deletes path. Absence of the file is not an error.
func Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

const tempFileMaxAttempts = 1000

// createTempFile creates a uniquely named temp file "<base>.tmp-<rand>" in
// dir, retrying on name collisions the way a same-directory writer must when
// it can't rely on the OS to pick the name for it.
func createTempFile(dir, base string) (string, *os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	for range tempFileMaxAttempts {
		name := fmt.Sprintf("%s.tmp-%016x", base, rand.Uint64()) //nolint:gosec // not security sensitive, just a unique name
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return path, f, nil
		}
		if os.IsExist(err) {
			continue
		}
		return "", nil, err
	}
	return "", nil, fmt.Errorf("exhausted temp file attempts in %s", dir)
}

// fsyncDir fsyncs a directory so a rename within it is durable. Not all
// filesystems support fsync on a directory handle (notably some network
// filesystems); that failure is tolerated by the caller, which has already
// completed the rename.
func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("diskio: open dir %s: %w", dir, err)
	}
	defer func() { _ = d.Close() }()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("diskio: fsync dir %s: %w", dir, err)
	}
	return nil
}

package diskio

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// MappedFile is a read-only memory-mapped view of a file's contents.
type MappedFile struct {
	data []byte
}

// Bytes returns the mapped contents.
func (m *MappedFile) Bytes() []byte { return m.data }

// Close unmaps the file.
func (m *MappedFile) Close() error {
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	return err
}

// ReadLarge memory-maps path read-only. Callers must Close the returned
// MappedFile when done with it. Used by the disk tier for entries at or
// above the configured mmap threshold, avoiding a full-copy read for large
// values.
func ReadLarge(path string) (*MappedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("diskio: stat %s: %w", path, err)
	}
	size := info.Size()
	if size == 0 {
		return &MappedFile{data: []byte{}}, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("diskio: mmap %s: %w", path, err)
	}
	return &MappedFile{data: data}, nil
}

// ReadAuto reads path whole, or memory-maps it when its size is at or above
// threshold. The returned closer is a no-op for the non-mapped path.
func ReadAuto(path string, threshold int64) ([]byte, io.Closer, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, err
	}
	if threshold > 0 && info.Size() >= threshold {
		mf, err := ReadLarge(path)
		if err != nil {
			return nil, nil, err
		}
		return mf.Bytes(), mf, nil
	}
	data, err := ReadAll(path)
	if err != nil {
		return nil, nil, err
	}
	return data, nopCloser{}, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

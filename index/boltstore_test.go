package index

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nfscache/nfscache/entry"
)

func TestBoltStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.bolt")
	s, err := OpenBoltStore(path)
	require.NoError(t, err)

	f1 := fp(7)
	meta := entry.EntryMeta{
		SizeOnDisk:     42,
		ExpiresAt:      time.Now().Add(time.Minute),
		LastAccessAt:   time.Now(),
		AccessCount:    3,
		FilePathSuffix: "07/ff/deadbeef.bin",
	}
	require.NoError(t, s.Append(RecordPut, f1, meta))
	require.NoError(t, s.Close())

	s2, err := OpenBoltStore(path)
	require.NoError(t, err)
	defer s2.Close()

	live, err := s2.Load()
	require.NoError(t, err)
	got, ok := live[f1]
	require.True(t, ok)
	require.Equal(t, meta.SizeOnDisk, got.SizeOnDisk)
	require.Equal(t, meta.AccessCount, got.AccessCount)
	require.Equal(t, meta.FilePathSuffix, got.FilePathSuffix)
}

func TestBoltStoreDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.bolt")
	s, err := OpenBoltStore(path)
	require.NoError(t, err)
	defer s.Close()

	f1 := fp(8)
	require.NoError(t, s.Append(RecordPut, f1, entry.EntryMeta{SizeOnDisk: 1}))
	require.NoError(t, s.Append(RecordDelete, f1, entry.EntryMeta{}))

	live, err := s.Load()
	require.NoError(t, err)
	_, ok := live[f1]
	require.False(t, ok)
}

func TestIndexOpenJournalBackend(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(dir, BackendJournal)
	require.NoError(t, err)
	defer idx.Close()

	f1 := fp(9)
	_, _, err = idx.Put(f1, entry.EntryMeta{SizeOnDisk: 3})
	require.NoError(t, err)
	require.NoError(t, idx.Compact())

	got, ok := idx.Get(f1)
	require.True(t, ok)
	require.Equal(t, int64(3), got.SizeOnDisk)
}

func TestIndexOpenBoltBackend(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(dir, BackendBolt)
	require.NoError(t, err)
	defer idx.Close()

	f1 := fp(10)
	_, _, err = idx.Put(f1, entry.EntryMeta{SizeOnDisk: 4})
	require.NoError(t, err)

	got, ok := idx.Get(f1)
	require.True(t, ok)
	require.Equal(t, int64(4), got.SizeOnDisk)
}

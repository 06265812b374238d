package index

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nfscache/nfscache/entry"
)

func fp(b byte) entry.Fingerprint {
	var f entry.Fingerprint
	f[0] = b
	return f
}

func TestIndexPutGetRemove(t *testing.T) {
	idx := New()
	f1 := fp(1)
	meta := entry.EntryMeta{SizeOnDisk: 100, LastAccessAt: time.Now()}

	_, had, err := idx.Put(f1, meta)
	require.NoError(t, err)
	require.False(t, had)
	require.Equal(t, 1, idx.Len())
	require.Equal(t, int64(100), idx.TotalBytes())

	got, ok := idx.Get(f1)
	require.True(t, ok)
	require.Equal(t, meta.SizeOnDisk, got.SizeOnDisk)

	prev, had, err := idx.Remove(f1)
	require.NoError(t, err)
	require.True(t, had)
	require.Equal(t, meta.SizeOnDisk, prev.SizeOnDisk)
	require.Equal(t, 0, idx.Len())
	require.Equal(t, int64(0), idx.TotalBytes())

	_, ok = idx.Get(f1)
	require.False(t, ok)
}

func TestIndexPutReplacesAccounting(t *testing.T) {
	idx := New()
	f1 := fp(2)

	_, _, err := idx.Put(f1, entry.EntryMeta{SizeOnDisk: 50})
	require.NoError(t, err)
	_, _, err = idx.Put(f1, entry.EntryMeta{SizeOnDisk: 80})
	require.NoError(t, err)

	require.Equal(t, 1, idx.Len())
	require.Equal(t, int64(80), idx.TotalBytes())
}

func TestIndexPutMemoryOnlySkipsStore(t *testing.T) {
	store := &recordingStore{}
	idx, err := NewWithStore(store)
	require.NoError(t, err)

	f1 := fp(3)
	_, _, err = idx.Put(f1, entry.EntryMeta{SizeOnDisk: 10, AccessCount: 0})
	require.NoError(t, err)
	require.Equal(t, 1, store.appends)

	got, ok := idx.Get(f1)
	require.True(t, ok)
	got.AccessCount++
	got.LastAccessAt = time.Now()
	prev, had := idx.PutMemoryOnly(f1, got)
	require.True(t, had)
	require.Equal(t, uint64(0), prev.AccessCount)

	// The access-stat bump landed in memory but never reached the store.
	require.Equal(t, 1, store.appends)
	got2, ok := idx.Get(f1)
	require.True(t, ok)
	require.Equal(t, uint64(1), got2.AccessCount)
}

type recordingStore struct {
	appends int
}

func (s *recordingStore) Append(RecordOp, entry.Fingerprint, entry.EntryMeta) error {
	s.appends++
	return nil
}

func (s *recordingStore) Load() (map[entry.Fingerprint]entry.EntryMeta, error) {
	return nil, nil
}

func (s *recordingStore) Compact(map[entry.Fingerprint]entry.EntryMeta) error { return nil }

func (s *recordingStore) Close() error { return nil }

func TestIndexForEachShard(t *testing.T) {
	idx := New()
	for i := byte(0); i < 10; i++ {
		_, _, err := idx.Put(fp(i), entry.EntryMeta{SizeOnDisk: int64(i)})
		require.NoError(t, err)
	}

	seen := 0
	for i := 0; i < ShardCount; i++ {
		idx.ForEachShard(i, func(_ entry.Fingerprint, _ entry.EntryMeta) bool {
			seen++
			return true
		})
	}
	require.Equal(t, 10, seen)
}

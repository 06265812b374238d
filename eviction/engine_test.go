package eviction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nfscache/nfscache/entry"
	"github.com/nfscache/nfscache/index"
)

func fp(b byte) entry.Fingerprint {
	var f entry.Fingerprint
	f[0] = b
	return f
}

func TestEngineExpiresEntries(t *testing.T) {
	idx := index.New()
	expired := fp(1)
	live := fp(2)
	_, _, err := idx.Put(expired, entry.EntryMeta{SizeOnDisk: 1, ExpiresAt: time.Now().Add(-time.Minute)})
	require.NoError(t, err)
	_, _, err = idx.Put(live, entry.EntryMeta{SizeOnDisk: 1, ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	var removed []entry.Fingerprint
	eng := New(Config{}, idx, func(fp entry.Fingerprint, _ entry.EntryMeta) error {
		removed = append(removed, fp)
		_, _, err := idx.Remove(fp)
		return err
	})
	eng.RunOnce()

	require.Equal(t, []entry.Fingerprint{expired}, removed)
	_, ok := idx.Get(live)
	require.True(t, ok)
}

func TestEngineEvictsLRUOverBudget(t *testing.T) {
	idx := index.New()
	now := time.Now()
	for i := byte(1); i <= 5; i++ {
		_, _, err := idx.Put(fp(i), entry.EntryMeta{
			SizeOnDisk:   10,
			LastAccessAt: now.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	var removed []entry.Fingerprint
	eng := New(Config{Policy: PolicyLRU, MaxSizeBytes: 30}, idx, func(fp entry.Fingerprint, _ entry.EntryMeta) error {
		removed = append(removed, fp)
		_, _, err := idx.Remove(fp)
		return err
	})
	eng.RunOnce()

	require.LessOrEqual(t, idx.TotalBytes(), int64(30))
	require.NotEmpty(t, removed)
	// The oldest LastAccessAt (fp(1)) must be among the first evicted.
	require.Contains(t, removed, fp(1))
}

func TestEngineEvictsLFUWorst(t *testing.T) {
	idx := index.New()
	for i := byte(1); i <= 5; i++ {
		_, _, err := idx.Put(fp(i), entry.EntryMeta{
			SizeOnDisk:  10,
			AccessCount: uint64(i),
		})
		require.NoError(t, err)
	}

	var removed []entry.Fingerprint
	eng := New(Config{Policy: PolicyLFU, MaxSizeBytes: 30}, idx, func(fp entry.Fingerprint, _ entry.EntryMeta) error {
		removed = append(removed, fp)
		_, _, err := idx.Remove(fp)
		return err
	})
	eng.RunOnce()

	require.LessOrEqual(t, idx.TotalBytes(), int64(30))
	require.Contains(t, removed, fp(1))
}

func TestEngineNoEvictionUnderBudget(t *testing.T) {
	idx := index.New()
	_, _, err := idx.Put(fp(1), entry.EntryMeta{SizeOnDisk: 5})
	require.NoError(t, err)

	called := false
	eng := New(Config{MaxSizeBytes: 1000}, idx, func(entry.Fingerprint, entry.EntryMeta) error {
		called = true
		return nil
	})
	eng.RunOnce()
	require.False(t, called)
}

package nfscache

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T, mutate func(*Config)) *Cache {
	t.Helper()
	cfg := DefaultConfig(t.TempDir())
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSetGetRoundTrip(t *testing.T) {
	c := openTestCache(t, nil)
	require.NoError(t, c.Set([]byte("k1"), []byte("v1")))

	v, ok := c.Get([]byte("k1"))
	require.True(t, ok)
	require.Equal(t, "v1", string(v))
}

func TestGetMissingKey(t *testing.T) {
	c := openTestCache(t, nil)
	_, ok := c.Get([]byte("nope"))
	require.False(t, ok)
	require.Equal(t, int64(1), c.Stats().Misses)
}

func TestSetLastWriteWins(t *testing.T) {
	c := openTestCache(t, nil)
	require.NoError(t, c.Set([]byte("k"), []byte("first")))
	require.NoError(t, c.Set([]byte("k"), []byte("second")))

	v, ok := c.Get([]byte("k"))
	require.True(t, ok)
	require.Equal(t, "second", string(v))
}

func TestDeleteIsIdempotent(t *testing.T) {
	c := openTestCache(t, nil)
	require.NoError(t, c.Set([]byte("k"), []byte("v")))
	require.NoError(t, c.Delete([]byte("k")))
	require.NoError(t, c.Delete([]byte("k"))) // second delete: no error

	_, ok := c.Get([]byte("k"))
	require.False(t, ok)
}

func TestExistsDoesNotUpdateAccessStats(t *testing.T) {
	c := openTestCache(t, nil)
	require.NoError(t, c.Set([]byte("k"), []byte("v")))

	require.True(t, c.Exists([]byte("k")))
	require.False(t, c.Exists([]byte("missing")))
	require.Equal(t, int64(0), c.Stats().Hits)
}

func TestTTLExpiry(t *testing.T) {
	c := openTestCache(t, nil)
	require.NoError(t, c.Set([]byte("k"), []byte("v"), WithTTL(10*time.Millisecond)))

	require.True(t, c.Exists([]byte("k")))
	time.Sleep(30 * time.Millisecond)

	require.False(t, c.Exists([]byte("k")))
	_, ok := c.Get([]byte("k"))
	require.False(t, ok)
}

func TestSetRejectsOversizedValue(t *testing.T) {
	c := openTestCache(t, func(cfg *Config) { cfg.MaxValueSize = 4 })
	err := c.Set([]byte("k"), []byte("toolarge"))
	require.ErrorIs(t, err, ErrTooLarge)
}

func TestClearRemovesEverything(t *testing.T) {
	c := openTestCache(t, nil)
	for i := range 10 {
		require.NoError(t, c.Set([]byte{byte(i)}, []byte("v")))
	}
	require.Equal(t, int64(10), c.Stats().EntryCount)

	require.NoError(t, c.Clear())
	require.Equal(t, int64(0), c.Stats().EntryCount)
	require.Equal(t, int64(0), c.Stats().TotalBytes)
}

func TestSizeBoundTriggersEviction(t *testing.T) {
	c := openTestCache(t, func(cfg *Config) {
		cfg.MaxSize = 50
		cfg.HotMaxEntries = 0
	})
	for i := range 20 {
		require.NoError(t, c.Set([]byte{byte(i)}, []byte("0123456789")))
	}
	// Eviction runs on a background trigger; give it a moment to settle.
	require.Eventually(t, func() bool {
		return c.Stats().TotalBytes <= 50
	}, time.Second, 5*time.Millisecond)
}

func TestReopenSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)

	c1, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, c1.Set([]byte("k"), []byte("persisted")))
	require.NoError(t, c1.Close())

	c2, err := Open(cfg)
	require.NoError(t, err)
	defer c2.Close()

	v, ok := c2.Get([]byte("k"))
	require.True(t, ok)
	require.Equal(t, "persisted", string(v))
}

func TestCrashSafetyDiscardsOrphanTempFile(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)

	c1, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, c1.Set([]byte("k"), []byte("v")))
	require.NoError(t, c1.Close())

	// Simulate a crash mid-write: an orphaned temp file under data/ with
	// no corresponding rename having completed.
	dataDir := filepath.Join(dir, "data", "zz", "zz")
	require.NoError(t, os.MkdirAll(dataDir, 0o755))
	tmpPath := filepath.Join(dataDir, "partial.bin.tmp-dead")
	require.NoError(t, os.WriteFile(tmpPath, []byte("garbage"), 0o644))
	// Age it past the 10s stale-temp threshold recovery applies.
	old := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(tmpPath, old, old))

	c2, err := Open(cfg)
	require.NoError(t, err)
	defer c2.Close()

	_, err = os.Stat(tmpPath)
	require.True(t, os.IsNotExist(err))

	v, ok := c2.Get([]byte("k"))
	require.True(t, ok)
	require.Equal(t, "v", string(v))
}

func TestCorruptEntryIsQuarantinedAsMiss(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	c, err := Open(cfg)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Set([]byte("k"), []byte("v")))
	fp := FingerprintKey([]byte("k"))
	meta, ok := c.idx.Get(fp)
	require.True(t, ok)
	path := filepath.Join(dir, "data", meta.FilePathSuffix)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// Flip a byte inside the value payload, breaking the content hash.
	data[len(data)-10] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, ok = c.Get([]byte("k"))
	require.False(t, ok)
	require.GreaterOrEqual(t, c.Stats().Misses, int64(1))

	_, stillIndexed := c.idx.Get(fp)
	require.False(t, stillIndexed)
}

func TestConcurrentSetsOnSameKeySerialize(t *testing.T) {
	c := openTestCache(t, nil)
	key := []byte("shared")

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = c.Set(key, []byte{byte(i)})
		}(i)
	}
	wg.Wait()

	v, ok := c.Get(key)
	require.True(t, ok)
	require.Len(t, v, 1)
}

func TestConcurrentDistinctKeysAllVisible(t *testing.T) {
	c := openTestCache(t, nil)

	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := []byte{byte(i), byte(i >> 8)}
			require.NoError(t, c.Set(key, []byte("v")))
		}(i)
	}
	wg.Wait()

	require.Equal(t, int64(100), c.Stats().EntryCount)
}

func TestValueLargerThanHotItemCapIsAdmittedOnHitNotWrite(t *testing.T) {
	c := openTestCache(t, func(cfg *Config) { cfg.HotItemCap = 4 })
	big := make([]byte, 64)
	for i := range big {
		big[i] = byte(i)
	}
	require.NoError(t, c.Set([]byte("k"), big))

	fp := FingerprintKey([]byte("k"))
	_, hotAfterWrite := c.hot.Get(fp)
	require.False(t, hotAfterWrite)

	v, ok := c.Get([]byte("k"))
	require.True(t, ok)
	require.Equal(t, big, v)

	_, hotAfterRead := c.hot.Get(fp)
	require.True(t, hotAfterRead)
}

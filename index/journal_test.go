package index

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nfscache/nfscache/entry"
)

func TestJournalAppendAndLoad(t *testing.T) {
	dir := t.TempDir()
	j, err := OpenJournal(dir)
	require.NoError(t, err)

	f1 := fp(1)
	f2 := fp(2)
	meta1 := entry.EntryMeta{SizeOnDisk: 10, LastAccessAt: time.Now(), FilePathSuffix: "01/02/abc.bin"}
	meta2 := entry.EntryMeta{SizeOnDisk: 20, ExpiresAt: time.Now().Add(time.Hour)}

	require.NoError(t, j.Append(RecordPut, f1, meta1))
	require.NoError(t, j.Append(RecordPut, f2, meta2))
	require.NoError(t, j.Append(RecordDelete, f1, entry.EntryMeta{}))
	require.NoError(t, j.Close())

	j2, err := OpenJournal(dir)
	require.NoError(t, err)
	defer j2.Close()

	live, err := j2.Load()
	require.NoError(t, err)
	require.Len(t, live, 1)
	got, ok := live[f2]
	require.True(t, ok)
	require.Equal(t, meta2.SizeOnDisk, got.SizeOnDisk)
	require.WithinDuration(t, meta2.ExpiresAt, got.ExpiresAt, time.Microsecond)
}

func TestJournalSurvivesTruncatedTail(t *testing.T) {
	dir := t.TempDir()
	j, err := OpenJournal(dir)
	require.NoError(t, err)

	f1 := fp(3)
	require.NoError(t, j.Append(RecordPut, f1, entry.EntryMeta{SizeOnDisk: 5}))
	require.NoError(t, j.Close())

	segPath := segmentPath(dir, 0)
	data, err := os.ReadFile(segPath)
	require.NoError(t, err)
	// Append a partial, truncated record mimicking a crash mid-write.
	corrupt := append(append([]byte{}, data...), []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x01, 0x02}...)
	require.NoError(t, os.WriteFile(segPath, corrupt, 0o644))

	j2, err := OpenJournal(dir)
	require.NoError(t, err)
	defer j2.Close()

	live, err := j2.Load()
	require.NoError(t, err)
	require.Len(t, live, 1)
	got, ok := live[f1]
	require.True(t, ok)
	require.Equal(t, int64(5), got.SizeOnDisk)
}

func TestJournalCompact(t *testing.T) {
	dir := t.TempDir()
	j, err := OpenJournal(dir)
	require.NoError(t, err)

	f1 := fp(4)
	f2 := fp(5)
	require.NoError(t, j.Append(RecordPut, f1, entry.EntryMeta{SizeOnDisk: 1}))
	require.NoError(t, j.Append(RecordPut, f2, entry.EntryMeta{SizeOnDisk: 2}))

	live := map[entry.Fingerprint]entry.EntryMeta{f2: {SizeOnDisk: 2}}
	require.NoError(t, j.Compact(live))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var sawSnapshot bool
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".bin" {
			sawSnapshot = true
		}
	}
	require.True(t, sawSnapshot)

	require.NoError(t, j.Append(RecordPut, f1, entry.EntryMeta{SizeOnDisk: 9}))
	require.NoError(t, j.Close())

	j2, err := OpenJournal(dir)
	require.NoError(t, err)
	defer j2.Close()
	reloaded, err := j2.Load()
	require.NoError(t, err)
	require.Len(t, reloaded, 2)
	require.Equal(t, int64(9), reloaded[f1].SizeOnDisk)
	require.Equal(t, int64(2), reloaded[f2].SizeOnDisk)
}

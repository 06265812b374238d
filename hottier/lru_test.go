package hottier

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nfscache/nfscache/entry"
)

func fp(b byte) entry.Fingerprint {
	var f entry.Fingerprint
	f[0] = b
	return f
}

func TestLRUGetMiss(t *testing.T) {
	l := New(DefaultConfig())
	_, ok := l.Get(fp(1))
	require.False(t, ok)
}

func TestLRUAdmitAndGet(t *testing.T) {
	l := New(DefaultConfig())
	l.Admit(fp(1), []byte("hello"))

	got, ok := l.Get(fp(1))
	require.True(t, ok)
	require.Equal(t, []byte("hello"), got)
	require.Equal(t, 1, l.Len())
	require.Equal(t, int64(5), l.Bytes())
}

func TestLRUEvictsByBytes(t *testing.T) {
	l := New(Config{MaxBytes: 10, ItemCap: 100})
	l.Admit(fp(1), make([]byte, 6))
	l.Admit(fp(2), make([]byte, 6))

	require.LessOrEqual(t, l.Bytes(), int64(10))
	_, ok := l.Get(fp(1))
	require.False(t, ok, "oldest entry should have been evicted")
	_, ok = l.Get(fp(2))
	require.True(t, ok)
}

func TestLRUEvictsByEntryCount(t *testing.T) {
	l := New(Config{MaxBytes: 1 << 20, MaxEntries: 2, ItemCap: 100})
	l.Admit(fp(1), []byte("a"))
	l.Admit(fp(2), []byte("b"))
	l.Admit(fp(3), []byte("c"))

	require.Equal(t, 2, l.Len())
	_, ok := l.Get(fp(1))
	require.False(t, ok)
}

func TestLRUTouchProtectsFromEviction(t *testing.T) {
	l := New(Config{MaxBytes: 2, ItemCap: 100})
	l.Admit(fp(1), []byte("a"))
	l.Admit(fp(2), []byte("b"))
	_, _ = l.Get(fp(1)) // touch 1, making 2 the LRU victim
	l.Admit(fp(3), []byte("c"))

	_, ok := l.Get(fp(1))
	require.True(t, ok)
	_, ok = l.Get(fp(2))
	require.False(t, ok)
}

func TestAdmitOnWriteRejectsLargeValue(t *testing.T) {
	l := New(Config{MaxBytes: 1 << 20, ItemCap: 4})
	l.AdmitOnWrite(fp(1), []byte("too long"))
	_, ok := l.Get(fp(1))
	require.False(t, ok)

	l.AdmitOnHit(fp(1), []byte("too long"))
	_, ok = l.Get(fp(1))
	require.True(t, ok)
}

func TestLRURemoveAndClear(t *testing.T) {
	l := New(DefaultConfig())
	l.Admit(fp(1), []byte("a"))
	l.Admit(fp(2), []byte("b"))

	l.Remove(fp(1))
	_, ok := l.Get(fp(1))
	require.False(t, ok)
	require.Equal(t, 1, l.Len())

	l.Clear()
	require.Equal(t, 0, l.Len())
	require.Equal(t, int64(0), l.Bytes())
}

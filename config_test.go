package nfscache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenRejectsChangedConfigHash(t *testing.T) {
	dir := t.TempDir()

	cfg1 := DefaultConfig(dir)
	c1, err := Open(cfg1)
	require.NoError(t, err)
	require.NoError(t, c1.Close())

	cfg2 := DefaultConfig(dir)
	cfg2.Compression = CompressionZstd
	_, err = Open(cfg2)
	require.ErrorIs(t, err, ErrConfig)
}

func TestOpenReusesSameConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)

	c1, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, c1.Close())

	c2, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, c2.Close())
}

func TestOpenRequiresDirectory(t *testing.T) {
	_, err := Open(Config{})
	require.ErrorIs(t, err, ErrConfig)
}

package codec

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompressRoundTrip(t *testing.T) {
	payload := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog ", 200))

	for _, kind := range []Kind{None, Fast, Zstd} {
		stored, err := Compress(kind, payload)
		require.NoError(t, err)

		got, err := Decompress(kind, stored, len(payload))
		require.NoError(t, err)
		require.True(t, bytes.Equal(payload, got), "kind %d round trip mismatch", kind)
	}
}

func TestCompressEmptyPayload(t *testing.T) {
	for _, kind := range []Kind{None, Fast, Zstd} {
		stored, err := Compress(kind, nil)
		require.NoError(t, err)
		got, err := Decompress(kind, stored, 0)
		require.NoError(t, err)
		require.Empty(t, got)
	}
}

func TestDecompressUnknownKind(t *testing.T) {
	_, err := Decompress(Kind(99), []byte("x"), 1)
	require.Error(t, err)
}

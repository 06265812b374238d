package codec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nfscache/nfscache/entry"
)

func contentHash(key, value []byte) [ContentHashSize]byte {
	return [ContentHashSize]byte(entry.ComputeContentHash(key, value))
}

func TestFrameRoundTrip(t *testing.T) {
	key := []byte("orders/2024/invoice-001")
	value := []byte("some logical payload bytes")
	hash := contentHash(key, value)

	h := Header{
		Flags:           uint16(None),
		CreatedAtNanos:  1700000000000000000,
		ExpiresAtNanos:  0,
		ValueLenLogical: uint32(len(value)),
		ContentHash:     hash,
	}

	buf, err := Encode(h, key, value, 0)
	require.NoError(t, err)

	gotH, gotKey, gotVal, err := Decode(buf)
	require.NoError(t, err)
	require.Equal(t, key, gotKey)
	require.Equal(t, value, gotVal)
	require.Equal(t, hash, gotH.ContentHash)
	require.Equal(t, FormatVersion, gotH.FormatVersion)
	require.Equal(t, uint32(len(key)), gotH.KeyLen)
	require.Equal(t, uint32(len(value)), gotH.ValueLenStored)
}

func TestFrameRoundTripEmptyValue(t *testing.T) {
	key := []byte("k")
	h := Header{ContentHash: contentHash(key, nil)}
	buf, err := Encode(h, key, nil, 0)
	require.NoError(t, err)

	_, gotKey, gotVal, err := Decode(buf)
	require.NoError(t, err)
	require.Equal(t, key, gotKey)
	require.Empty(t, gotVal)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	h := Header{ContentHash: contentHash([]byte("k"), []byte("v"))}
	buf, err := Encode(h, []byte("k"), []byte("v"), 0)
	require.NoError(t, err)
	buf[0] ^= 0xFF

	_, _, _, err = Decode(buf)
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestDecodeRejectsBadTrailer(t *testing.T) {
	h := Header{ContentHash: contentHash([]byte("k"), []byte("v"))}
	buf, err := Encode(h, []byte("k"), []byte("v"), 0)
	require.NoError(t, err)
	buf[len(buf)-1] ^= 0xFF

	_, _, _, err = Decode(buf)
	require.ErrorIs(t, err, ErrBadTrailer)
}

func TestDecodeRejectsTruncated(t *testing.T) {
	h := Header{ContentHash: contentHash([]byte("k"), []byte("v"))}
	buf, err := Encode(h, []byte("k"), []byte("v"), 0)
	require.NoError(t, err)

	_, _, _, err = Decode(buf[:len(buf)-4])
	require.ErrorIs(t, err, ErrBadLength)
}

func TestEncodeRejectsOversizedValue(t *testing.T) {
	h := Header{ValueLenLogical: 100}
	_, err := Encode(h, []byte("k"), make([]byte, 10), 50)
	require.ErrorIs(t, err, ErrTooLarge)
}

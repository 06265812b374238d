package entry

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// FingerprintSize is the size of a key fingerprint in bytes (128 bits).
const FingerprintSize = 16

// Fingerprint is a truncated BLAKE3 digest of a key, used for index keying,
// hashing, and on-disk filename derivation. Two different keys may in
// principle collide on their fingerprint; callers resolve this by storing
// the full key alongside the value and confirming equality on read.
type Fingerprint [FingerprintSize]byte

// FingerprintKey computes the fingerprint of a raw key.
func FingerprintKey(key []byte) Fingerprint {
	sum := blake3.Sum256(key)
	var fp Fingerprint
	copy(fp[:], sum[:FingerprintSize])
	return fp
}

// String returns the hex-encoded fingerprint.
func (fp Fingerprint) String() string {
	return hex.EncodeToString(fp[:])
}

// IsZero reports whether fp is the zero value.
func (fp Fingerprint) IsZero() bool {
	return fp == Fingerprint{}
}

// ShardDir1 and ShardDir2 return the two path components used to fan out
// entry files under data/, each the hex encoding of one fingerprint byte.
func (fp Fingerprint) ShardDir1() string { return hex.EncodeToString(fp[0:1]) }
func (fp Fingerprint) ShardDir2() string { return hex.EncodeToString(fp[1:2]) }

// ParseFingerprint parses a hex-encoded fingerprint string.
func ParseFingerprint(s string) (Fingerprint, error) {
	var fp Fingerprint
	if len(s) != FingerprintSize*2 {
		return fp, fmt.Errorf("nfscache: invalid fingerprint length: expected %d hex chars, got %d", FingerprintSize*2, len(s))
	}
	if _, err := hex.Decode(fp[:], []byte(s)); err != nil {
		return fp, fmt.Errorf("nfscache: invalid fingerprint %q: %w", s, err)
	}
	return fp, nil
}

// ContentHashSize is the size of the full BLAKE3 content hash stored in each
// entry frame (key_bytes || logical value_bytes, pre-compression).
const ContentHashSize = 32

// ContentHash is the full 256-bit BLAKE3 digest used to verify entry
// integrity on read.
type ContentHash [ContentHashSize]byte

// ComputeContentHash hashes key||value exactly as stored in an entry frame.
func ComputeContentHash(key, value []byte) ContentHash {
	h := blake3.New()
	_, _ = h.Write(key)
	_, _ = h.Write(value)
	var out ContentHash
	h.Sum(out[:0])
	return out
}

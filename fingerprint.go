package nfscache

import "github.com/nfscache/nfscache/entry"

// FingerprintSize is the size of a key fingerprint in bytes (128 bits).
const FingerprintSize = entry.FingerprintSize

// Fingerprint is a truncated BLAKE3 digest of a key, used for index keying,
// hashing, and on-disk filename derivation. Two different keys may in
// principle collide on their fingerprint; callers resolve this by storing
// the full key alongside the value and confirming equality on read.
type Fingerprint = entry.Fingerprint

// FingerprintKey computes the fingerprint of a raw key.
func FingerprintKey(key []byte) Fingerprint { return entry.FingerprintKey(key) }

// ParseFingerprint parses a hex-encoded fingerprint string.
func ParseFingerprint(s string) (Fingerprint, error) { return entry.ParseFingerprint(s) }

// ContentHashSize is the size of the full BLAKE3 content hash stored in each
// entry frame (key_bytes || logical value_bytes, pre-compression).
const ContentHashSize = entry.ContentHashSize

// ContentHash is the full 256-bit BLAKE3 digest used to verify entry
// integrity on read.
type ContentHash = entry.ContentHash

// ComputeContentHash hashes key||value exactly as stored in an entry frame.
func ComputeContentHash(key, value []byte) ContentHash { return entry.ComputeContentHash(key, value) }

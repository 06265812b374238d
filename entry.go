package nfscache

import "github.com/nfscache/nfscache/entry"

// Compression identifies the value-payload compression kind recorded in
// codec_flags.
type Compression = entry.Compression

const (
	// CompressionNone stores the value payload as-is.
	CompressionNone = entry.CompressionNone
	// CompressionFast compresses with klauspost/compress/s2, the
	// throughput-oriented substitute for the spec's "lz4" kind.
	CompressionFast = entry.CompressionFast
	// CompressionZstd compresses with klauspost/compress/zstd for a
	// higher ratio at more CPU cost.
	CompressionZstd = entry.CompressionZstd
)

// CodecFlags packs compression kind and reserved bits for on-disk framing.
type CodecFlags = entry.CodecFlags

// NewCodecFlags builds a CodecFlags value for the given compression kind.
func NewCodecFlags(c Compression) CodecFlags { return entry.NewCodecFlags(c) }

// Entry is the full logical record for a cached key, as framed on disk.
type Entry = entry.Entry

// EntryMeta is the small, in-memory summary of an entry kept in the Index.
// It never holds key or value bytes; those live only on disk.
type EntryMeta = entry.EntryMeta

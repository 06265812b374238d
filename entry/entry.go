package entry

import "time"

// Compression identifies the value-payload compression kind recorded in
// codec_flags.
type Compression uint16

const (
	// CompressionNone stores the value payload as-is.
	CompressionNone Compression = 0
	// CompressionFast compresses with klauspost/compress/s2, the
	// throughput-oriented substitute for the spec's "lz4" kind.
	CompressionFast Compression = 1
	// CompressionZstd compresses with klauspost/compress/zstd for a
	// higher ratio at more CPU cost.
	CompressionZstd Compression = 2
)

// codec_flags bit layout.
const (
	flagCompressionMask = 0x0003 // bits 0-1: compression kind
	flagReserved        = 0x00FC // bits 2-7 reserved for hash algo, etc.
)

// CodecFlags packs compression kind and reserved bits for on-disk framing.
type CodecFlags uint16

// NewCodecFlags builds a CodecFlags value for the given compression kind.
func NewCodecFlags(c Compression) CodecFlags {
	return CodecFlags(uint16(c) & flagCompressionMask)
}

// Compression extracts the compression kind.
func (f CodecFlags) Compression() Compression {
	return Compression(uint16(f) & flagCompressionMask)
}

// Entry is the full logical record for a cached key, as framed on disk.
type Entry struct {
	Fingerprint  Fingerprint
	Key          []byte
	Value        []byte // logical (decompressed) value bytes
	CreatedAt    time.Time
	ExpiresAt    time.Time // zero value means no expiry
	AccessCount  uint64
	LastAccessAt time.Time
	SizeOnDisk   int64
	Flags        CodecFlags
	ContentHash  ContentHash
}

// HasExpiry reports whether the entry carries a TTL.
func (e *Entry) HasExpiry() bool {
	return !e.ExpiresAt.IsZero()
}

// Expired reports whether the entry has passed its expiry at time now.
func (e *Entry) Expired(now time.Time) bool {
	return e.HasExpiry() && !now.Before(e.ExpiresAt)
}

// EntryMeta is the small, in-memory summary of an entry kept in the Index.
// It never holds key or value bytes; those live only on disk.
type EntryMeta struct {
	Fingerprint    Fingerprint
	SizeOnDisk     int64
	ExpiresAt      time.Time // zero means no expiry
	LastAccessAt   time.Time
	AccessCount    uint64
	FilePathSuffix string // e.g. "ab/cd/abcd...ef.bin", relative to data/
	Flags          CodecFlags
}

// HasExpiry reports whether the entry meta carries a TTL.
func (m EntryMeta) HasExpiry() bool {
	return !m.ExpiresAt.IsZero()
}

// Expired reports whether the entry has passed its expiry at time now.
func (m EntryMeta) Expired(now time.Time) bool {
	return m.HasExpiry() && !now.Before(m.ExpiresAt)
}

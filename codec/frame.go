package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Magic is the 4-byte prefix of every entry frame ("DCKR").
const Magic uint32 = 0x44434B52

// TrailerMagic is the 8-byte sentinel at the end of every entry frame.
const TrailerMagic uint64 = 0x454E4452454E4421

// FormatVersion is the current frame format version.
const FormatVersion uint16 = 1

// headerSize is the fixed-size header preceding key_bytes/value_bytes:
// magic(4) + version(2) + flags(2) + created(8) + expires(8) + key_len(4) +
// value_len_stored(4) + value_len_logical(4) + content_hash(32) = 68.
const headerSize = 68

const trailerSize = 8

var (
	// ErrBadMagic is returned when a frame doesn't start with Magic.
	ErrBadMagic = errors.New("codec: bad magic")
	// ErrBadTrailer is returned when the trailer sentinel doesn't match.
	ErrBadTrailer = errors.New("codec: bad trailer")
	// ErrBadVersion is returned when format_version is not understood.
	ErrBadVersion = errors.New("codec: unsupported format version")
	// ErrBadLength is returned when the recorded lengths don't account
	// for the file's actual size.
	ErrBadLength = errors.New("codec: length mismatch")
	// ErrHashMismatch is returned when the content hash doesn't verify.
	ErrHashMismatch = errors.New("codec: content hash mismatch")
	// ErrTooLarge is returned by Encode when the logical value exceeds
	// the caller-supplied maxValueSize.
	ErrTooLarge = errors.New("codec: value exceeds maximum size")
)

// Header mirrors the fixed fields of an on-disk entry frame.
type Header struct {
	FormatVersion   uint16
	Flags           uint16
	CreatedAtNanos  int64
	ExpiresAtNanos  int64 // 0 = never
	KeyLen          uint32
	ValueLenStored  uint32
	ValueLenLogical uint32
	ContentHash     [ContentHashSize]byte
}

// Encode serializes key and the (possibly already-compressed) stored value
// bytes into a complete entry frame. valueLenLogical is the decompressed
// length, used both in the header and to enforce maxValueSize.
func Encode(h Header, key, valueStored []byte, maxValueSize int64) ([]byte, error) {
	if maxValueSize > 0 && int64(h.ValueLenLogical) > maxValueSize {
		return nil, ErrTooLarge
	}
	if h.FormatVersion == 0 {
		h.FormatVersion = FormatVersion
	}
	h.KeyLen = uint32(len(key))
	h.ValueLenStored = uint32(len(valueStored))

	total := headerSize + len(key) + len(valueStored) + trailerSize
	buf := make([]byte, total)

	binary.LittleEndian.PutUint32(buf[0:4], Magic)
	binary.LittleEndian.PutUint16(buf[4:6], h.FormatVersion)
	binary.LittleEndian.PutUint16(buf[6:8], h.Flags)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(h.CreatedAtNanos))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(h.ExpiresAtNanos))
	binary.LittleEndian.PutUint32(buf[24:28], h.KeyLen)
	binary.LittleEndian.PutUint32(buf[28:32], h.ValueLenStored)
	binary.LittleEndian.PutUint32(buf[32:36], h.ValueLenLogical)
	copy(buf[36:68], h.ContentHash[:])

	off := headerSize
	off += copy(buf[off:], key)
	off += copy(buf[off:], valueStored)
	binary.LittleEndian.PutUint64(buf[off:off+trailerSize], TrailerMagic)

	return buf, nil
}

// Decode parses and structurally validates a frame (magic, version, trailer,
// and length accounting), returning the header and the key/stored-value
// slices as views into buf. It does not verify the content hash or
// decompress the value; callers do that after deciding whether the
// compression kind recorded in Flags requires it.
func Decode(buf []byte) (Header, []byte, []byte, error) {
	var h Header
	if len(buf) < headerSize+trailerSize {
		return h, nil, nil, fmt.Errorf("%w: frame too short (%d bytes)", ErrBadLength, len(buf))
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != Magic {
		return h, nil, nil, ErrBadMagic
	}
	h.FormatVersion = binary.LittleEndian.Uint16(buf[4:6])
	if h.FormatVersion != FormatVersion {
		return h, nil, nil, fmt.Errorf("%w: got %d, want %d", ErrBadVersion, h.FormatVersion, FormatVersion)
	}
	h.Flags = binary.LittleEndian.Uint16(buf[6:8])
	h.CreatedAtNanos = int64(binary.LittleEndian.Uint64(buf[8:16]))
	h.ExpiresAtNanos = int64(binary.LittleEndian.Uint64(buf[16:24]))
	h.KeyLen = binary.LittleEndian.Uint32(buf[24:28])
	h.ValueLenStored = binary.LittleEndian.Uint32(buf[28:32])
	h.ValueLenLogical = binary.LittleEndian.Uint32(buf[32:36])
	copy(h.ContentHash[:], buf[36:68])

	wantLen := headerSize + int(h.KeyLen) + int(h.ValueLenStored) + trailerSize
	if wantLen != len(buf) {
		return h, nil, nil, fmt.Errorf("%w: header implies %d bytes, file has %d", ErrBadLength, wantLen, len(buf))
	}

	trailerOff := len(buf) - trailerSize
	if binary.LittleEndian.Uint64(buf[trailerOff:]) != TrailerMagic {
		return h, nil, nil, ErrBadTrailer
	}

	key := buf[headerSize : headerSize+int(h.KeyLen)]
	valueStored := buf[headerSize+int(h.KeyLen) : trailerOff]
	return h, key, valueStored, nil
}

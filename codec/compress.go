// Package codec frames entries on disk and handles the optional compression
// of their value payload.
package codec

import (
	"fmt"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

// Kind identifies a value-payload compression scheme.
type Kind uint8

const (
	// None stores bytes uncompressed.
	None Kind = 0
	// Fast compresses with klauspost/compress/s2, the throughput-
	// oriented substitute for the spec's "lz4" compression kind:
	// klauspost/compress does not vendor literal LZ4, and S2 is its
	// purpose-built "faster than LZ4, comparable ratio" block format.
	Fast Kind = 1
	// Zstd compresses with klauspost/compress/zstd for a higher ratio
	// at more CPU cost, for deployments that favour disk footprint.
	Zstd Kind = 2
)

var zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
var zstdDecoder, _ = zstd.NewReader(nil)

// Compress encodes logical value bytes according to kind.
func Compress(kind Kind, logical []byte) ([]byte, error) {
	switch kind {
	case None:
		return logical, nil
	case Fast:
		return s2.Encode(nil, logical), nil
	case Zstd:
		return zstdEncoder.EncodeAll(logical, nil), nil
	default:
		return nil, fmt.Errorf("codec: unknown compression kind %d", kind)
	}
}

// Decompress reverses Compress, given the expected logical length, which is
// used only to pre-size the output buffer. The decoded length is not
// checked against it.
func Decompress(kind Kind, stored []byte, logicalLen int) ([]byte, error) {
	switch kind {
	case None:
		return stored, nil
	case Fast:
		out := make([]byte, 0, logicalLen)
		return s2.Decode(out, stored)
	case Zstd:
		out := make([]byte, 0, logicalLen)
		decoded, err := zstdDecoder.DecodeAll(stored, out)
		if err != nil {
			return nil, fmt.Errorf("codec: zstd decode: %w", err)
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("codec: unknown compression kind %d", kind)
	}
}

package codec

import "github.com/nfscache/nfscache/entry"

// ContentHashSize is the size in bytes of a BLAKE3-256 content hash, the
// same value entry.ContentHashSize carries; codec only needs the size to
// shape Header.ContentHash, not the hashing itself.
const ContentHashSize = entry.ContentHashSize

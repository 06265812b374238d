package eviction

import (
	"math/rand"

	"github.com/nfscache/nfscache/entry"
	"github.com/nfscache/nfscache/index"
)

// SampleSize is the number of entries sampled per shard on each trim pass,
// bounding eviction cost to O(SampleSize*P) regardless of cache size. This
// is the sampling-mode tradeoff against a full LRU-list walk: a bounded
// deviation from perfect recency/frequency ordering in exchange for O(1)
// amortized eviction cost per write.
const SampleSize = 64

type candidate struct {
	fp   entry.Fingerprint
	meta entry.EntryMeta
}

// sampleShard gathers up to SampleSize entries from shard i of idx via
// reservoir sampling, so the result is a uniform sample even when the
// shard holds far more than SampleSize entries.
func sampleShard(idx *index.Index, shardIdx int, rng *rand.Rand) []candidate {
	var out []candidate
	seen := 0
	idx.ForEachShard(shardIdx, func(fp entry.Fingerprint, m entry.EntryMeta) bool {
		seen++
		if len(out) < SampleSize {
			out = append(out, candidate{fp: fp, meta: m})
			return true
		}
		j := rng.Intn(seen)
		if j < SampleSize {
			out[j] = candidate{fp: fp, meta: m}
		}
		return true
	})
	return out
}

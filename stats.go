package nfscache

import (
	"sync/atomic"
	"time"
)

// Stats is a point-in-time snapshot of cache counters. Individual
// increments are atomic, but the tuple as a whole is not a globally
// consistent snapshot: a concurrent writer may land between any two
// fields being read.
type Stats struct {
	Hits         int64
	Misses       int64
	Evictions    int64
	Expired      int64
	CorruptReads int64
	TotalBytes   int64
	EntryCount   int64
	HotHits      int64
	HotBytes     int64
	UptimeNanos  int64
}

// statCounters holds the atomic counters backing Stats. TotalBytes,
// EntryCount and HotBytes are read live from the Index/hot tier rather
// than tracked here, since those already maintain authoritative counts.
type statCounters struct {
	hits         atomic.Int64
	misses       atomic.Int64
	evictions    atomic.Int64
	expired      atomic.Int64
	corruptReads atomic.Int64
	hotHits      atomic.Int64
	startedAt    time.Time
}

func newStatCounters() *statCounters {
	return &statCounters{startedAt: time.Now()}
}

func (s *statCounters) recordHit(fromHot bool) {
	s.hits.Add(1)
	if fromHot {
		s.hotHits.Add(1)
	}
}

func (s *statCounters) recordMiss()           { s.misses.Add(1) }
func (s *statCounters) recordEvictions(n int) { s.evictions.Add(int64(n)) }
func (s *statCounters) recordExpired(n int)   { s.expired.Add(int64(n)) }
func (s *statCounters) recordCorruptRead()    { s.corruptReads.Add(1) }

package index

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/nfscache/nfscache/diskio"
	"github.com/nfscache/nfscache/entry"
)

// Journal is the default index.Store: an append-only, CRC32C-checksummed
// segment log (idx/index-NNNN.log) with periodic compaction into a
// snapshot segment (idx/snapshot-NNNN.bin). Each record is encoded with
// protowire's tag/varint/bytes primitives directly, without a generated
// .proto schema, since the record shape is small, stable and
// hand-specified.
//
// Recovery mirrors a three-state WAL: a segment is either empty, has an
// uncommitted (truncated or corrupt) tail record, or is fully committed up
// to some offset. Replay stops at the first record that fails its length
// or checksum check and treats everything from there on as an
// in-progress, unfinished write - exactly what a crash mid-append leaves
// behind.
type Journal struct {
	mu      sync.Mutex
	dir     string
	segment int
	f       *os.File
	size    int64
	maxSize int64
}

const defaultMaxSegmentSize = 16 * 1024 * 1024

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

const (
	fieldOp             = protowire.Number(1)
	fieldFingerprint    = protowire.Number(2)
	fieldSizeOnDisk     = protowire.Number(3)
	fieldExpiresAt      = protowire.Number(4)
	fieldLastAccessAt   = protowire.Number(5)
	fieldAccessCount    = protowire.Number(6)
	fieldFilePathSuffix = protowire.Number(7)
	fieldFlags          = protowire.Number(8)
)

// OpenJournal opens (creating if necessary) the journal rooted at dir,
// picking up the newest segment to append to.
func OpenJournal(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("index: mkdir %s: %w", dir, err)
	}
	segments, err := listSegments(dir)
	if err != nil {
		return nil, err
	}
	seg := 0
	if len(segments) > 0 {
		seg = segments[len(segments)-1]
	}
	j := &Journal{dir: dir, segment: seg, maxSize: defaultMaxSegmentSize}
	if err := j.openSegmentForAppend(seg); err != nil {
		return nil, err
	}
	return j, nil
}

func segmentPath(dir string, n int) string {
	return filepath.Join(dir, fmt.Sprintf("index-%04d.log", n))
}

func snapshotPath(dir string, n int) string {
	return filepath.Join(dir, fmt.Sprintf("snapshot-%04d.bin", n))
}

func listSegments(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("index: read %s: %w", dir, err)
	}
	var segs []int
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "index-") || !strings.HasSuffix(name, ".log") {
			continue
		}
		numStr := strings.TrimSuffix(strings.TrimPrefix(name, "index-"), ".log")
		n, err := strconv.Atoi(numStr)
		if err != nil {
			continue
		}
		segs = append(segs, n)
	}
	sort.Ints(segs)
	return segs, nil
}

func listSnapshots(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("index: read %s: %w", dir, err)
	}
	var snaps []int
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "snapshot-") || !strings.HasSuffix(name, ".bin") {
			continue
		}
		numStr := strings.TrimSuffix(strings.TrimPrefix(name, "snapshot-"), ".bin")
		n, err := strconv.Atoi(numStr)
		if err != nil {
			continue
		}
		snaps = append(snaps, n)
	}
	sort.Ints(snaps)
	return snaps, nil
}

func (j *Journal) openSegmentForAppend(seg int) error {
	path := segmentPath(j.dir, seg)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("index: open segment %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("index: stat segment %s: %w", path, err)
	}
	j.f = f
	j.segment = seg
	j.size = info.Size()
	return nil
}

func encodeRecord(op RecordOp, fp entry.Fingerprint, meta entry.EntryMeta) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldOp, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(op))
	b = protowire.AppendTag(b, fieldFingerprint, protowire.BytesType)
	b = protowire.AppendBytes(b, fp[:])
	if op == RecordPut {
		b = protowire.AppendTag(b, fieldSizeOnDisk, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(meta.SizeOnDisk))
		b = protowire.AppendTag(b, fieldExpiresAt, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(timeToNanos(meta.ExpiresAt)))
		b = protowire.AppendTag(b, fieldLastAccessAt, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(timeToNanos(meta.LastAccessAt)))
		b = protowire.AppendTag(b, fieldAccessCount, protowire.VarintType)
		b = protowire.AppendVarint(b, meta.AccessCount)
		b = protowire.AppendTag(b, fieldFilePathSuffix, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(meta.FilePathSuffix))
		b = protowire.AppendTag(b, fieldFlags, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(meta.Flags))
	}

	frame := make([]byte, 4, 4+len(b)+4)
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(b)))
	frame = append(frame, b...)
	crc := crc32.Checksum(b, crc32cTable)
	crcBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(crcBuf, crc)
	frame = append(frame, crcBuf...)
	return frame
}

func decodeRecord(payload []byte) (RecordOp, entry.Fingerprint, entry.EntryMeta, error) {
	var op RecordOp
	var fp entry.Fingerprint
	var meta entry.EntryMeta

	b := payload
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, fp, meta, fmt.Errorf("index: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == fieldOp && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, fp, meta, errCorruptRecord
			}
			op = RecordOp(v)
			b = b[n:]
		case num == fieldFingerprint && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 || len(v) != entry.FingerprintSize {
				return 0, fp, meta, errCorruptRecord
			}
			copy(fp[:], v)
			b = b[n:]
		case num == fieldSizeOnDisk && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, fp, meta, errCorruptRecord
			}
			meta.SizeOnDisk = int64(v)
			b = b[n:]
		case num == fieldExpiresAt && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, fp, meta, errCorruptRecord
			}
			meta.ExpiresAt = nanosToTime(int64(v))
			b = b[n:]
		case num == fieldLastAccessAt && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, fp, meta, errCorruptRecord
			}
			meta.LastAccessAt = nanosToTime(int64(v))
			b = b[n:]
		case num == fieldAccessCount && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, fp, meta, errCorruptRecord
			}
			meta.AccessCount = v
			b = b[n:]
		case num == fieldFilePathSuffix && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, fp, meta, errCorruptRecord
			}
			meta.FilePathSuffix = string(v)
			b = b[n:]
		case num == fieldFlags && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, fp, meta, errCorruptRecord
			}
			meta.Flags = entry.CodecFlags(uint16(v))
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return 0, fp, meta, errCorruptRecord
			}
			b = b[n:]
		}
	}
	return op, fp, meta, nil
}

var errCorruptRecord = errors.New("index: corrupt journal record")

// timeToNanos and nanosToTime preserve the "zero Time means no value"
// convention across the wire, where 0 is otherwise a valid instant.
func timeToNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func nanosToTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// Append writes one record to the active segment and fsyncs it, rotating
// to a new segment first if the active one has grown past maxSize.
func (j *Journal) Append(op RecordOp, fp entry.Fingerprint, meta entry.EntryMeta) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.size >= j.maxSize {
		if err := j.rotateLocked(); err != nil {
			return err
		}
	}

	rec := encodeRecord(op, fp, meta)
	n, err := j.f.Write(rec)
	if err != nil {
		return entry.NewIoError("journal-append", j.f.Name(), err)
	}
	if err := j.f.Sync(); err != nil {
		return entry.NewIoError("journal-sync", j.f.Name(), err)
	}
	j.size += int64(n)
	return nil
}

func (j *Journal) rotateLocked() error {
	if err := j.f.Close(); err != nil {
		return fmt.Errorf("index: close segment: %w", err)
	}
	return j.openSegmentForAppend(j.segment + 1)
}

// Load replays every snapshot and segment under dir, in order, to
// reconstruct the live fingerprint -> EntryMeta map. A partially written
// or corrupt trailing record (the signature of a crash mid-append) is
// treated as the uncommitted tail: it is skipped and truncated off the file.
func (j *Journal) Load() (map[entry.Fingerprint]entry.EntryMeta, error) {
	live := make(map[entry.Fingerprint]entry.EntryMeta)

	snaps, err := listSnapshots(j.dir)
	if err != nil {
		return nil, err
	}
	for _, n := range snaps {
		if err := replayFile(snapshotPath(j.dir, n), live); err != nil {
			return nil, err
		}
	}

	segs, err := listSegments(j.dir)
	if err != nil {
		return nil, err
	}
	for _, n := range segs {
		if err := replayFile(segmentPath(j.dir, n), live); err != nil {
			return nil, err
		}
	}
	return live, nil
}

func replayFile(path string, live map[entry.Fingerprint]entry.EntryMeta) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("index: read %s: %w", path, err)
	}

	b := data
	for len(b) >= 8 {
		length := binary.LittleEndian.Uint32(b[0:4])
		if uint64(length)+8 > uint64(len(b)) {
			// Truncated trailing record: uncommitted tail from a crash
			// mid-write. Stop replay here.
			break
		}
		payload := b[4 : 4+length]
		wantCRC := binary.LittleEndian.Uint32(b[4+length : 8+length])
		gotCRC := crc32.Checksum(payload, crc32cTable)
		if wantCRC != gotCRC {
			break
		}
		op, fp, meta, err := decodeRecord(payload)
		if err != nil {
			break
		}
		switch op {
		case RecordPut:
			live[fp] = meta
		case RecordDelete:
			delete(live, fp)
		}
		b = b[8+length:]
	}
	if len(b) > 0 {
		// Cut the uncommitted tail off so records appended after this
		// replay are not stranded behind it.
		if err := os.Truncate(path, int64(len(data)-len(b))); err != nil {
			return fmt.Errorf("index: truncate %s: %w", path, err)
		}
	}
	return nil
}

// Compact writes the given live set as a single fresh snapshot segment,
// removes all prior snapshots and segments, and starts a new empty
// segment for subsequent appends.
func (j *Journal) Compact(live map[entry.Fingerprint]entry.EntryMeta) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	oldSnaps, err := listSnapshots(j.dir)
	if err != nil {
		return err
	}
	oldSegs, err := listSegments(j.dir)
	if err != nil {
		return err
	}

	nextN := j.segment + 1
	snapPath := snapshotPath(j.dir, nextN)

	var buf []byte
	for fp, meta := range live {
		buf = append(buf, encodeRecord(RecordPut, fp, meta)...)
	}
	if err := diskio.WriteAtomic(snapPath, buf); err != nil {
		return fmt.Errorf("index: write snapshot: %w", err)
	}

	if err := j.f.Close(); err != nil {
		return fmt.Errorf("index: close segment during compact: %w", err)
	}
	if err := j.openSegmentForAppend(nextN + 1); err != nil {
		return err
	}

	for _, n := range oldSegs {
		_ = os.Remove(segmentPath(j.dir, n))
	}
	for _, n := range oldSnaps {
		_ = os.Remove(snapshotPath(j.dir, n))
	}
	return nil
}

// Close closes the active segment file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}

var (
	_ io.Closer = (*Journal)(nil)
	_ Store     = (*Journal)(nil)
)
